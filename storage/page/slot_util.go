package page

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// SlotIndex is the index of the slot within page. this is called offset number in postgres
// this is not byte offset. the first slot's index is 0 and the next one's index is 1....
type SlotIndex uint16

// see: https://github.com/postgres/postgres/blob/27b77ecf9f4d5be211900eda54d8155ada50d696/src/include/storage/off.h#L26-L28
const (
	// first slot index
	FirstSlotIndex SlotIndex = 0
	// max slot index
	MaxSlotIndex SlotIndex = SlotIndex((PageSize-slotsOffset)/slotSize) - 1
	// invalid slot index
	InvalidSlotIndex SlotIndex = MaxSlotIndex + 1
)

const (
	// HeapTupleHeaderSize is the size of heap tuple header. no item on a heap page is smaller
	HeapTupleHeaderSize = 18
	// MaxHeapTuplesPerPage is the upper bound of the number of slots on a heap page,
	// assuming every tuple has no data at all.
	// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/include/access/htup_details.h#L563-L575
	MaxHeapTuplesPerPage = (PageSize - HeaderSize) / (HeapTupleHeaderSize + slotSize)
	// MaxHeapSlotIndex is the last slot index a heap page uses
	MaxHeapSlotIndex = SlotIndex(MaxHeapTuplesPerPage - 1)
)

// GetSlot returns page slot
func GetSlot(p PagePtr, idx SlotIndex) (SlotPtr, error) {
	if idx > MaxSlotIndex {
		return nil, errors.Errorf("invalid slot %d", idx)
	}
	so := uint16(slotsOffset) + uint16(idx)*slotSize
	return SlotPtr(p[so : so+slotSize]), nil
}

// insertSlot writes a normal slot at the slot index
func insertSlot(p PagePtr, si SlotIndex, off itemOffset, size itemSize) {
	slot := generateSlot(off, slotFlagNormal, size)
	so := uint16(slotsOffset) + uint16(si)*slotSize
	binary.LittleEndian.PutUint32(p[so:so+slotSize], uint32(slot))
}

// findFreeSlot finds unused slot. InvalidSlotIndex is returned when every slot is in use
func findFreeSlot(p PagePtr) (SlotIndex, error) {
	nidx := GetNSlotIndex(p)
	if nidx == InvalidSlotIndex {
		return InvalidSlotIndex, nil
	}
	for i := FirstSlotIndex; i <= nidx; i++ {
		slot, err := GetSlot(p, i)
		if err != nil {
			return InvalidSlotIndex, errors.Wrap(err, "GetSlot failed")
		}
		if IsUnused(slot) {
			return i, nil
		}
	}
	return InvalidSlotIndex, nil
}

// extendSlot returns the slot index right after the last allocated one, up to maxIdx
func extendSlot(p PagePtr, maxIdx SlotIndex) (SlotIndex, error) {
	nidx := GetNSlotIndex(p)
	if nidx == InvalidSlotIndex {
		return FirstSlotIndex, nil
	}
	extendedIdx := nidx + 1
	if extendedIdx > maxIdx {
		return InvalidSlotIndex, errors.Errorf("slot cannot be extended anymore: %d", extendedIdx)
	}
	return extendedIdx, nil
}

// GetNSlotIndex returns the biggest slot index which has been allocated
// this returns invalid slot index when no slot has been allocated
func GetNSlotIndex(p PagePtr) SlotIndex {
	lo := GetLowerOffset(p)
	if lo <= slotsOffset {
		return InvalidSlotIndex
	}
	return SlotIndex((lo-slotsOffset)/slotSize) - 1
}
