/*
Postgres adopts clock sweep as cache replacement policy on main shared buffer, so does ppvacuum.
Clock sweep is approximation of LRU algorithm.
The main difference is that the clock sweep does not maintain global timestamp.
It uses approximation of timestamp, usage count.

for more details, see https://github.com/postgres/postgres/blob/master/src/backend/storage/buffer/README#L155-L246
*/
package buffer

import (
	"sync/atomic"
)

// clockSweepTick moves clock hand ahead and returns the buffer under it
// clock sweep treats buffer pool as ring buffer
// see https://github.com/postgres/postgres/blob/24d2b2680a8d0e01b30ce8a41c4eb3b47aca5031/src/backend/storage/buffer/freelist.c#L113
func (m *Manager) clockSweepTick() BufferID {
	n := uint32(len(m.descriptors))
	next := atomic.AddUint32(&m.nextVictimBuffer, 1)
	return BufferID((next - 1) % n)
}

// allocateWithClockSweep decides victim buffer and returns it
// if the clock hand goes around without finding an unpinned buffer, return invalid buffer id.
// the caller must hold exclusive buffer table lock so that the victim cannot be pinned afterward
// see: https://github.com/greenplum-db/gpdb/blob/abdcb97df1747bf7413918d1601ce0be8c1e6a49/src/backend/storage/buffer/freelist.c#L201
func (m *Manager) allocateWithClockSweep() BufferID {
	// when tryCounter is 0, it means clock sweep has inspected all buffers
	tryCounter := len(m.descriptors)
	for {
		victimBufferID := m.clockSweepTick()
		desc := m.descriptors[victimBufferID]
		if desc.referenceCount() != 0 {
			tryCounter--
			if tryCounter == 0 {
				return InvalidBufferID
			}
			continue
		}
		if desc.usageCount.Load() != 0 {
			// this buffer was used after clock sweep had inspected previous time, so must not evict it
			desc.decrementUsageCount()
			tryCounter = len(m.descriptors)
			continue
		}
		return victimBufferID
	}
}
