/*
Dirty buffers are written out when they are evicted, or all at once with FlushAll.
Postgres has background writer and checkpointer to do this periodically.
ppvacuum flushes on demand: the command line tool calls FlushAll before exit.
https://www.postgresql.org/docs/current/runtime-config-resource.html#RUNTIME-CONFIG-RESOURCE-BACKGROUND-WRITER
*/
package buffer

import (
	"github.com/pkg/errors"
)

// FlushAll writes out every dirty buffer and returns how many buffers were written
// dirty buffers are pinned under the table lock and written after it is released,
// so that a goroutine holding a content lock can still read buffers meanwhile
func (m *Manager) FlushAll() (int, error) {
	m.table.RLock()
	dirty := make([]BufferID, 0)
	for _, bufID := range m.table.table {
		desc := m.descriptors[bufID]
		if desc.isDirty() {
			desc.pin()
			dirty = append(dirty, bufID)
		}
	}
	m.table.RUnlock()

	written := 0
	var firstErr error
	for _, bufID := range dirty {
		ok, err := m.syncOneBuffer(bufID)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ok {
			written++
		}
		m.descriptors[bufID].unpin()
	}
	return written, firstErr
}

// syncOneBuffer flushes the buffer into disk if it is dirty
// the caller holds a pin
// see https://github.com/postgres/postgres/blob/d9d873bac67047cfacc9f5ef96ee488f2cb0f1c3/src/backend/storage/buffer/bufmgr.c#L2528
func (m *Manager) syncOneBuffer(bufID BufferID) (bool, error) {
	desc := m.descriptors[bufID]
	desc.contentLock.RLock()
	defer desc.contentLock.RUnlock()
	if !desc.isDirty() {
		return false, nil
	}
	if err := m.flushBuffer(bufID); err != nil {
		return false, errors.Wrap(err, "flushBuffer failed")
	}
	return true, nil
}
