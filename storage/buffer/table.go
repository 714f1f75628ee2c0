/*
This is buffer table (just simple hash map)
In postgres, buffer table is partitioned for performance optimization.
ppvacuum defines buffer table as just simple global hash map with lock to the whole table.

The table lock also serializes buffer replacement:
a miss holds the exclusive lock while choosing and refilling a victim,
and a hit pins the buffer under the shared lock.
So a buffer whose reference count is 0 cannot gain a pin while the victim is chosen.

for more details, see https://github.com/postgres/postgres/blob/27b77ecf9f4d5be211900eda54d8155ada50d696/src/backend/storage/buffer/buf_table.c#L3
*/
package buffer

import "sync"

// bufferTable is buffer table
type bufferTable struct {
	// mapping from buffer tag to buffer id
	table map[tag]BufferID
	// lock to the whole table
	sync.RWMutex
}

func newBufferTable() bufferTable {
	return bufferTable{table: make(map[tag]BufferID)}
}
