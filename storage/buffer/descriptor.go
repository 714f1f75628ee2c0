/*
Buffer descriptor stores metadata about each buffer.

Metadata in descriptor for cache replacement policy:
Postgres adopts clock sweep algorithm for cache replacement policy, so does ppvacuum.
Descriptor has three fields for the cache replacement policy:

1. pin count (or may be called ref count)
- This is used to grasp whether the buffer is now referred by other goroutines.
- If the buffer has been pinned, then the buffer cannot be evicted.
- So the flow is: pin the buffer (via ReadBuffer())-> do anything with the buffer
- -> unpin the buffer (via ReleaseBuffer()) after the process is completed.
- IMPORTANT: the caller is responsible for ReleaseBuffer() and unpin the buffer
- vacuum also reads the pin count: a page may be pruned only when vacuum holds the sole pin (cleanup lock).

2. usage count
- This is used to grasp whether the buffer is used after clock-sweep inspected the buffer previous time.
- If usage count is 0, then the buffer is considered as not-frequently-used so it can be evicted.

3. dirty bit
- This is used to grasp whether the page in buffer is updated and not written out to disk yet.
- When clock-sweep evicts the buffer, if it is dirty, the buffer must be written to disk before.

In postgres these live in one uint32 updated with cas loops under a header spin lock.
ppvacuum keeps one atomic per field and lets the buffer table lock play the role of the header lock.

see https://github.com/postgres/postgres/blob/a448e49bcbe40fb72e1ed85af910dd216d45bad8/src/include/storage/buf_internals.h#L199-L227
*/
package buffer

import (
	"sync"
	"sync/atomic"
)

// maxUsageCount caps usage count so that hot buffers still become victims after a few sweeps
// see https://github.com/postgres/postgres/blob/a448e49bcbe40fb72e1ed85af910dd216d45bad8/src/include/storage/buf_internals.h#L48
const maxUsageCount = 5

// descriptor is buffer descriptor
// see https://github.com/postgres/postgres/blob/a448e49bcbe40fb72e1ed85af910dd216d45bad8/src/include/storage/buf_internals.h#L196-L254
type descriptor struct {
	// buffer tag. protected by buffer table lock
	tag tag
	// if valid is false, this descriptor hasn't been used so tag is invalid
	valid bool
	// next free buffer id. this is free list for buffer
	nextFreeID BufferID

	refCount   atomic.Int32
	usageCount atomic.Uint32
	dirty      atomic.Bool

	// contentLock for protecting the buffer content read/write
	// for more details, see the comment at the head of /storage/buffer/manager.go
	contentLock sync.RWMutex
}

// newDescriptors initializes descriptors for manager, all of them chained in free list
func newDescriptors(n int) []*descriptor {
	descs := make([]*descriptor, n)
	for i := 0; i < n; i++ {
		descs[i] = &descriptor{
			nextFreeID: BufferID(i + 1),
		}
	}
	descs[n-1].nextFreeID = freeListInvalidID
	return descs
}

// pin increments ref count and usage count
// see https://github.com/postgres/postgres/blob/d9d873bac67047cfacc9f5ef96ee488f2cb0f1c3/src/backend/storage/buffer/bufmgr.c#L1712
func (desc *descriptor) pin() {
	desc.refCount.Add(1)
	for {
		usage := desc.usageCount.Load()
		if usage >= maxUsageCount {
			return
		}
		if desc.usageCount.CompareAndSwap(usage, usage+1) {
			return
		}
	}
}

// unpin decrements ref count
func (desc *descriptor) unpin() {
	if desc.refCount.Add(-1) < 0 {
		panic("buffer unpinned more than pinned")
	}
}

func (desc *descriptor) referenceCount() int32 {
	return desc.refCount.Load()
}

// decrementUsageCount is called by clock-sweep
func (desc *descriptor) decrementUsageCount() {
	for {
		usage := desc.usageCount.Load()
		if usage == 0 {
			return
		}
		if desc.usageCount.CompareAndSwap(usage, usage-1) {
			return
		}
	}
}

func (desc *descriptor) setDirty() {
	desc.dirty.Store(true)
}

func (desc *descriptor) clearDirty() {
	desc.dirty.Store(false)
}

func (desc *descriptor) isDirty() bool {
	return desc.dirty.Load()
}
