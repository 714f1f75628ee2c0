/*
Shared buffer pool manager manages buffer used for heap files/fsm files/vm files.
Wal is not managed by this manager (this is the same as postgres).

the implementation is based on /src/backend/storage/buffer in postgres.
see README: https://github.com/postgres/postgres/blob/d87251048a0f293ad20cc1fe26ce9f542de105e6/src/backend/storage/buffer/README#L1

----

access rules for buffers:
- pin/unpin for cache eviction policy: see /storage/buffer/descriptor.go
- content locks for read/write page within buffer

the flow when scan and get the tuples on the buffer is described below:
- pin the buffer -> acquire shared content lock -> scan and get the tuples
- -> release content lock -> unpin the buffer

the flow when update/insert the tuples is described below:
- pin the buffer -> acquire exclusive content lock -> update/insert the tuples
- -> mark dirty -> release content lock -> unpin the buffer

the flow when physically removing tuples or compacting free space (pruning):
- pin the buffer -> acquire cleanup lock -> prune -> release content lock -> unpin the buffer
- cleanup lock is the exclusive content lock plus being the only pinner,
- because other goroutines may hold pointers into the page as long as they hold their pin.
see https://github.com/postgres/postgres/blob/d87251048a0f293ad20cc1fe26ce9f542de105e6/src/backend/storage/buffer/README#L72-L97

-----

buffer replacement
- a buffer is taken from the free list if there is one
- otherwise clock-sweep chooses the next unpinned buffer whose usage count is 0,
- decrementing the usage count of the buffers passed over
- when the victim is dirty, it is written to disk before being refilled
*/
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
)

// ErrNoUnpinnedBuffers is returned when every buffer is pinned
var ErrNoUnpinnedBuffers = errors.New("no unpinned buffers available")

// cleanupLockRetryInterval is how long LockForCleanup sleeps before it rechecks pin count
const cleanupLockRetryInterval = time.Millisecond

// Manager manages shared buffer pool
type Manager struct {
	// disk manager
	dm *disk.Manager
	// table is mapping from buffer tag to buffer id(index of buffers/descriptors)
	table bufferTable
	// shared buffers
	buffers []buffer
	// descriptors of each shared buffers
	descriptors []*descriptor
	// freeList points to the head node(free buffer) of free list
	// this is protected by buffer strategy lock
	freeList BufferID
	// strategyLock is buffer strategy lock for free list
	strategyLock sync.Mutex
	// nextVictimBuffer is the clock hand
	nextVictimBuffer uint32
	// extensionLock serializes relation extension
	// see https://github.com/postgres/postgres/blob/d9d873bac67047cfacc9f5ef96ee488f2cb0f1c3/src/backend/access/heap/hio.c#L571
	extensionLock sync.Mutex
}

// NewManager initializes the shared buffer pool manager with bufferNum buffers
func NewManager(dm *disk.Manager, bufferNum int) *Manager {
	if bufferNum <= 0 {
		bufferNum = DefaultBufferNum
	}
	return &Manager{
		dm:          dm,
		table:       newBufferTable(),
		buffers:     newBuffers(bufferNum),
		descriptors: newDescriptors(bufferNum),
		freeList:    FirstBufferID,
	}
}

/*
ReadBuffer returns the id of buffer where the page the caller is looking for exists.
the returned buffer has been pinned so the caller has to call ReleaseBuffer() after completion of using the buffer.

when the page is already stored within a buffer, just return it.
when the page is not, then fetch the page from disk into buffer and return it.
to get a new page at the end of the relation, use ExtendRelation().

see https://github.com/postgres/postgres/blob/d9d873bac67047cfacc9f5ef96ee488f2cb0f1c3/src/backend/storage/buffer/bufmgr.c#L717-L759
*/
func (m *Manager) ReadBuffer(rel common.Relation, forkNum disk.ForkNumber, pageID page.PageID) (BufferID, error) {
	newTag := newTag(rel, forkNum, pageID)

	m.table.RLock()
	if bufID, ok := m.table.table[newTag]; ok {
		m.descriptors[bufID].pin()
		m.table.RUnlock()
		return bufID, nil
	}
	m.table.RUnlock()

	m.table.Lock()
	defer m.table.Unlock()
	// another goroutine may have read the page while the lock was not held
	if bufID, ok := m.table.table[newTag]; ok {
		m.descriptors[bufID].pin()
		return bufID, nil
	}

	bufID := m.allocateFromFreeList()
	if bufID == InvalidBufferID {
		bufID = m.allocateWithClockSweep()
	}
	if bufID == InvalidBufferID {
		return InvalidBufferID, ErrNoUnpinnedBuffers
	}

	desc := m.descriptors[bufID]
	if desc.valid {
		// nobody holds a pin, so nobody touches the content during the write
		if desc.isDirty() {
			if err := m.flushBuffer(bufID); err != nil {
				return InvalidBufferID, errors.Wrap(err, "flushBuffer failed")
			}
		}
		delete(m.table.table, desc.tag)
		desc.valid = false
	}

	if err := m.dm.ReadPage(rel, forkNum, pageID, page.PagePtr(m.buffers[bufID][:])); err != nil {
		m.returnToFreeList(bufID)
		return InvalidBufferID, errors.Wrap(err, "dm.ReadPage failed")
	}

	desc.tag = newTag
	desc.valid = true
	desc.clearDirty()
	desc.usageCount.Store(0)
	m.table.table[newTag] = bufID
	desc.pin()
	return bufID, nil
}

// ExtendRelation appends a zeroed page to the fork and returns it pinned
// see https://github.com/postgres/postgres/blob/d9d873bac67047cfacc9f5ef96ee488f2cb0f1c3/src/backend/storage/buffer/bufmgr.c#L839
func (m *Manager) ExtendRelation(rel common.Relation, forkNum disk.ForkNumber) (BufferID, page.PageID, error) {
	m.extensionLock.Lock()
	pageID, err := m.dm.ExtendPage(rel, forkNum)
	m.extensionLock.Unlock()
	if err != nil {
		return InvalidBufferID, page.InvalidPageID, errors.Wrap(err, "dm.ExtendPage failed")
	}
	bufID, err := m.ReadBuffer(rel, forkNum, pageID)
	if err != nil {
		return InvalidBufferID, page.InvalidPageID, err
	}
	return bufID, pageID, nil
}

// NPages returns the number of pages of the fork
func (m *Manager) NPages(rel common.Relation, forkNum disk.ForkNumber) (uint32, error) {
	n, err := m.dm.GetNPages(rel, forkNum)
	if err != nil {
		return 0, errors.Wrap(err, "dm.GetNPages failed")
	}
	return n, nil
}

// TruncateRelation drops the buffers of pages at or beyond npages without writing them, then truncates the fork
// the caller must hold a lock which prevents any other goroutine from touching the dropped pages
// see https://github.com/postgres/postgres/blob/d9d873bac67047cfacc9f5ef96ee488f2cb0f1c3/src/backend/storage/buffer/bufmgr.c#L3233
func (m *Manager) TruncateRelation(rel common.Relation, forkNum disk.ForkNumber, npages uint32) error {
	m.table.Lock()
	defer m.table.Unlock()

	var dropped []tag
	for t, bufID := range m.table.table {
		if t.rel != rel || t.forkNum != forkNum || uint32(t.pageID) < npages {
			continue
		}
		if m.descriptors[bufID].referenceCount() != 0 {
			return errors.Errorf("page %d of relation %d is pinned", t.pageID, rel)
		}
		dropped = append(dropped, t)
	}
	for _, t := range dropped {
		bufID := m.table.table[t]
		desc := m.descriptors[bufID]
		delete(m.table.table, t)
		desc.valid = false
		desc.clearDirty()
		m.returnToFreeList(bufID)
	}
	if err := m.dm.Truncate(rel, forkNum, npages); err != nil {
		return errors.Wrap(err, "dm.Truncate failed")
	}
	return nil
}

// ReleaseBuffer unpins the buffer
// see https://github.com/postgres/postgres/blob/d9d873bac67047cfacc9f5ef96ee488f2cb0f1c3/src/backend/storage/buffer/bufmgr.c#L3932
func (m *Manager) ReleaseBuffer(bufID BufferID) {
	m.descriptors[bufID].unpin()
}

// flushBuffer writes the buffer into disk and clears dirty bit
// the caller must make sure the content is not updated during flush,
// by holding shared content lock or by being the only one who can reach the buffer.
// see https://github.com/postgres/postgres/blob/d9d873bac67047cfacc9f5ef96ee488f2cb0f1c3/src/backend/storage/buffer/bufmgr.c#L2823
func (m *Manager) flushBuffer(bufID BufferID) error {
	desc := m.descriptors[bufID]
	if err := m.dm.WritePage(desc.tag.rel, desc.tag.forkNum, desc.tag.pageID,
		page.PagePtr(m.buffers[bufID][:]), false); err != nil {
		return errors.Wrap(err, "dm.WritePage failed")
	}
	desc.clearDirty()
	return nil
}

// GetPage returns page stored at the buffer
func (m *Manager) GetPage(bufID BufferID) page.PagePtr {
	return page.PagePtr(m.buffers[bufID][:])
}

// GetPageID returns the page id the buffer holds
func (m *Manager) GetPageID(bufID BufferID) page.PageID {
	return m.descriptors[bufID].tag.pageID
}

// MarkDirty turns on the dirty bit of the buffer
// the caller has to hold pin and exclusive content lock
// https://github.com/postgres/postgres/blob/d9d873bac67047cfacc9f5ef96ee488f2cb0f1c3/src/backend/storage/buffer/bufmgr.c#L1583
func (m *Manager) MarkDirty(bufID BufferID) {
	m.descriptors[bufID].setDirty()
}

// AcquireContentLock acquires buffer content lock
// content lock has to be held when read/write page(buffer content)
func (m *Manager) AcquireContentLock(bufID BufferID, exclusive bool) {
	desc := m.descriptors[bufID]
	if exclusive {
		desc.contentLock.Lock()
	} else {
		desc.contentLock.RLock()
	}
}

// ReleaseContentLock releases buffer content lock
func (m *Manager) ReleaseContentLock(bufID BufferID, exclusive bool) {
	desc := m.descriptors[bufID]
	if exclusive {
		desc.contentLock.Unlock()
	} else {
		desc.contentLock.RUnlock()
	}
}

// ConditionalLockForCleanup acquires cleanup lock if it is available right now
// the caller must hold exactly one pin on the buffer.
// when this returns true, exclusive content lock is held and has to be released with ReleaseContentLock
// see https://github.com/postgres/postgres/blob/d9d873bac67047cfacc9f5ef96ee488f2cb0f1c3/src/backend/storage/buffer/bufmgr.c#L4426
func (m *Manager) ConditionalLockForCleanup(bufID BufferID) bool {
	desc := m.descriptors[bufID]
	if !desc.contentLock.TryLock() {
		return false
	}
	if desc.referenceCount() != 1 {
		desc.contentLock.Unlock()
		return false
	}
	return true
}

// LockForCleanup waits until cleanup lock is acquired
// postgres sleeps until the last other pinner wakes it up, ppvacuum polls the pin count
// see https://github.com/postgres/postgres/blob/d9d873bac67047cfacc9f5ef96ee488f2cb0f1c3/src/backend/storage/buffer/bufmgr.c#L4266
func (m *Manager) LockForCleanup(ctx context.Context, bufID BufferID) error {
	desc := m.descriptors[bufID]
	for {
		desc.contentLock.Lock()
		if desc.referenceCount() == 1 {
			return nil
		}
		desc.contentLock.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cleanupLockRetryInterval):
		}
	}
}
