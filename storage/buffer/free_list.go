/*
the implementation of free list

Buffers are on free list at startup and return to it when the page they hold is dropped (relation truncation).
*/
package buffer

const (
	// this indicates the end of the free list
	freeListInvalidID BufferID = -1
)

// allocateFromFreeList returns buffer from free list.
// this removes the buffer from free list.
// if there is no buffer in free list, just return InvalidBufferID
func (m *Manager) allocateFromFreeList() BufferID {
	m.strategyLock.Lock()
	defer m.strategyLock.Unlock()

	bufID := m.freeList
	if bufID == freeListInvalidID {
		return InvalidBufferID
	}
	desc := m.descriptors[bufID]
	// remove first buffer from free list
	m.freeList = desc.nextFreeID
	desc.nextFreeID = freeListInvalidID
	return bufID
}

// returnToFreeList pushes the buffer to the head of free list
// the buffer must not be pinned and must not be in buffer table
func (m *Manager) returnToFreeList(bufID BufferID) {
	m.strategyLock.Lock()
	defer m.strategyLock.Unlock()

	m.descriptors[bufID].nextFreeID = m.freeList
	m.freeList = bufID
}
