/*
Dead tuple store keeps the tids of dead tuples found by the heap scan until indexes and heap are cleaned.

The store is bounded by the memory budget. when it is full, tids found later are dropped:
they stay as dead tuples (or dead slots) and the next vacuum removes them.
The heap scan visits pages in ascending order and slots in ascending order within a page,
so tids are appended in sorted order and contains is a binary search.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L2731-L2850
*/
package vacuum

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/storage/tuple"
)

const (
	// tidSize is the bytes one tid occupies in the budget (ItemPointerData in postgres)
	tidSize = 6
	// maxAllocSize is the largest allocation of one store
	maxAllocSize = 0x3fffffff
	// tuplesPerPage is the most tuples which can be found dead on one page
	tuplesPerPage = tuple.MaxHeapTuplesPerPage
)

// MaxDeadTuples returns the capacity of the dead tuple store for a run
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L2731
func MaxDeadTuples(budget int, hasIndexes bool, relPages uint32) int {
	return maxDeadTuples(budget, tidSize, hasIndexes, relPages)
}

func maxDeadTuples(budget, idSize int, hasIndexes bool, relPages uint32) int {
	// without indexes every page is cleaned as soon as it is scanned
	if !hasIndexes {
		return tuplesPerPage
	}
	perPage := int64(tuplesPerPage)
	n := int64(budget) / int64(idSize)
	n = min(n, int64(maxAllocSize/idSize))
	// no need to allocate more than the relation can hold
	if n/perPage > int64(relPages) {
		n = int64(relPages) * perPage
	}
	return int(max(n, perPage))
}

// DeadTupleStore is the sorted and bounded set of dead tids
// only the owner appends to or clears the store
type DeadTupleStore struct {
	tids     []tuple.Tid
	capacity int
}

// NewDeadTupleStore allocates the store holding up to capacity tids
func NewDeadTupleStore(capacity int) (*DeadTupleStore, error) {
	if capacity <= 0 || capacity > maxAllocSize/tidSize {
		return nil, errors.Wrapf(ErrStoreAllocation, "capacity %d", capacity)
	}
	return &DeadTupleStore{
		tids:     make([]tuple.Tid, 0, capacity),
		capacity: capacity,
	}, nil
}

// Record adds the tid. it returns false when the store is full and the tid is dropped
func (s *DeadTupleStore) Record(tid tuple.Tid) bool {
	if len(s.tids) >= s.capacity {
		return false
	}
	if n := len(s.tids); n == 0 || s.tids[n-1].Less(tid) {
		s.tids = append(s.tids, tid)
		return true
	}
	// out of order. keep the store sorted
	i, found := slices.BinarySearchFunc(s.tids, tid, tuple.Tid.Compare)
	if !found {
		s.tids = slices.Insert(s.tids, i, tid)
	}
	return true
}

// Contains checks whether the tid has been recorded
func (s *DeadTupleStore) Contains(tid tuple.Tid) bool {
	_, found := slices.BinarySearchFunc(s.tids, tid, tuple.Tid.Compare)
	return found
}

// Len returns the number of tids recorded
func (s *DeadTupleStore) Len() int {
	return len(s.tids)
}

// Cap returns the capacity
func (s *DeadTupleStore) Cap() int {
	return s.capacity
}

// nearlyFull checks whether the next page might not fit into the store.
// then the store has to be emptied before scanning the next page
func (s *DeadTupleStore) nearlyFull() bool {
	return s.capacity-len(s.tids) < tuplesPerPage && len(s.tids) > 0
}

// Clear empties the store
func (s *DeadTupleStore) Clear() {
	s.tids = s.tids[:0]
}

// deadTupleStores are the stores of every worker of a run
type deadTupleStores []*DeadTupleStore

// contains checks every store. this is the callback of index bulk delete
func (ss deadTupleStores) contains(tid tuple.Tid) bool {
	for _, s := range ss {
		if s.Contains(tid) {
			return true
		}
	}
	return false
}

func (ss deadTupleStores) clear() {
	for _, s := range ss {
		s.Clear()
	}
}
