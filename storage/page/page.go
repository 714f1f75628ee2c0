/*
Page is the unit of I/O.
Disk manager organizes each relation fork file as a sequence of pages, and
the buffer manager keeps them in memory while vacuum and the heap access method work on them.
Page is called `block` in postgres, and vacuum talks about block numbers.

Heap pages use the slotted layout described in header.go.
Vacuum cares about three properties of a heap page:
- whether it has ever been initialized (a relation can be extended and the new page left zero-filled)
- whether it has any slot at all (empty pages can be truncated away)
- how much space is left once removed tuples are defragmented
*/
package page

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// PageSize is the byte size of page. 8KB is the default size in postgres
// see block_size parameter in https://www.postgresql.org/docs/current/runtime-config-preset.html
const PageSize = 8192

// PageID is the unique identifier given to each page within a fork, which is called blockNumber in postgres
// see https://github.com/postgres/postgres/blob/d63d957e330c611f7a8c0ed02e4407f40f975026/src/include/storage/block.h#L17-L31
type PageID uint32

const (
	// first page id in file
	FirstPageID PageID = 0
	// invalid page id
	InvalidPageID PageID = math.MaxUint32
	// max page id
	MaxPageID PageID = math.MaxUint32 - 1
)

// PagePtr is pointer to page
// page should not be passed by value (for concurrent access and space-efficiency)
type PagePtr *[PageSize]byte

// NewPagePtr returns 0-filled page pointer
func NewPagePtr() PagePtr {
	p := &[PageSize]byte{}
	return PagePtr(p)
}

// InitializePage initializes page
// when extending new page, the page is 0-filled, so should be initialized with this function
// see https://github.com/postgres/postgres/blob/2cd2569c72b8920048e35c31c9be30a6170e1410/src/backend/storage/page/bufpage.c#L35-L42
func InitializePage(p PagePtr, specialSpaceSize uint16) {
	for i := range p {
		p[i] = 0
	}
	SetLowerOffset(p, slotsOffset)
	upper := offset(PageSize - specialSpaceSize)
	SetUpperOffset(p, upper)
	SetSpecialSpaceOffset(p, upper)
}

// IsInitialized checks whether the page has been already initialized
// a page whose upper offset is 0 has never been initialized
// see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/include/storage/bufpage.h#L231
func IsInitialized(p PagePtr) bool {
	return GetUpperOffset(p) != 0
}

// IsNew is the opposite of IsInitialized. this is PageIsNew in postgres
func IsNew(p PagePtr) bool {
	return !IsInitialized(p)
}

// IsEmpty checks whether no slot has been allocated on the page
// see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/include/storage/bufpage.h#L223
func IsEmpty(p PagePtr) bool {
	return GetLowerOffset(p) <= slotsOffset
}

// CalculateFileOffset calculates the page's offset within the file
func CalculateFileOffset(pageID PageID) int64 {
	return int64(pageID) * PageSize
}

// CalculateFreeSpace calculates free space between slot array and tuples
// see: https://github.com/postgres/postgres/blob/2cd2569c72b8920048e35c31c9be30a6170e1410/src/backend/storage/page/bufpage.c#L907
func CalculateFreeSpace(p PagePtr) int {
	lower := GetLowerOffset(p)
	upper := GetUpperOffset(p)
	if upper < lower {
		return 0
	}
	return int(upper - lower)
}

// HeapFreeSpace returns the size of the largest tuple which can be inserted
// when no unused slot is left, a new slot has to be allocated, so its size is reserved
// see https://github.com/postgres/postgres/blob/2cd2569c72b8920048e35c31c9be30a6170e1410/src/backend/storage/page/bufpage.c#L966
func HeapFreeSpace(p PagePtr) int {
	space := CalculateFreeSpace(p)
	if idx, _ := findFreeSlot(p); idx != InvalidSlotIndex {
		return space
	}
	if nidx := GetNSlotIndex(p); nidx != InvalidSlotIndex && nidx >= MaxHeapSlotIndex {
		return 0
	}
	if space < slotSize {
		return 0
	}
	return space - slotSize
}

// storedItem is used while defragmenting the page
type storedItem struct {
	idx  SlotIndex
	off  itemOffset
	size itemSize
}

/*
RepairFragmentation moves the storage of every slot which still has storage toward the end of the page,
so that the space freed by unused/dead slots becomes one contiguous free space.
Slots themselves are never moved, because indexes point to slot index.

Items are re-located in descending order of their current offset.
The destination of each item is always at or after its current location,
so copying in that order never overwrites an item which has not been moved yet.
see https://github.com/postgres/postgres/blob/2cd2569c72b8920048e35c31c9be30a6170e1410/src/backend/storage/page/bufpage.c#L682-L699
*/
func RepairFragmentation(p PagePtr) error {
	nidx := GetNSlotIndex(p)
	if nidx == InvalidSlotIndex {
		return nil
	}
	var items []storedItem
	for i := FirstSlotIndex; i <= nidx; i++ {
		slot, err := GetSlot(p, i)
		if err != nil {
			return errors.Wrap(err, "GetSlot failed")
		}
		if !IsNormal(slot) {
			continue
		}
		items = append(items, storedItem{idx: i, off: getItemOffset(slot), size: getItemSize(slot)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].off > items[j].off })

	upper := GetSpecialSpaceOffset(p)
	for _, it := range items {
		upper -= offset(it.size)
		copy(p[upper:upper+offset(it.size)], p[it.off:it.off+itemOffset(it.size)])
		slot, err := GetSlot(p, it.idx)
		if err != nil {
			return errors.Wrap(err, "GetSlot failed")
		}
		setItemOffset(slot, itemOffset(upper))
	}
	if upper < GetLowerOffset(p) {
		return errors.Errorf("corrupted page: upper %d is below lower %d", upper, GetLowerOffset(p))
	}
	SetUpperOffset(p, upper)
	return nil
}
