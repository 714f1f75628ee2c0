/*
`item` is interchangeably used with `heap tuple` / `index tuple` ...

item-related interface is
- GetItem(PagePtr, SlotIndex): gets item from page. the location of the item is calculated from the slot
- AddItem(PagePtr, ItemPtr, SlotIndex): adds item to the page and returns the slot index used.
- AddHeapItem(PagePtr, ItemPtr, SlotIndex): AddItem which keeps the slots within the heap page limit.
*/
package page

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ItemPtr points to item within page
// item length is variable
type ItemPtr []byte

// itemOffset is the byte offset of the item within page
type itemOffset uint16

// itemSize is the size of the item
type itemSize uint16

// GetItem returns the item which the slot points to
// the returned slice shares memory with the page, so updating it updates the page
func GetItem(p PagePtr, idx SlotIndex) (ItemPtr, error) {
	if nidx := GetNSlotIndex(p); nidx == InvalidSlotIndex || idx > nidx {
		return nil, errors.Errorf("slot %d is not allocated", idx)
	}
	slot, err := GetSlot(p, idx)
	if err != nil {
		return nil, errors.Wrap(err, "GetSlot failed")
	}
	if !IsNormal(slot) {
		return nil, errors.Errorf("slot %d has no storage", idx)
	}
	io := getItemOffset(slot)
	is := getItemSize(slot)
	return ItemPtr(p[io : io+itemOffset(is)]), nil
}

/*
AddItem adds item to the page.
when idx is InvalidSlotIndex, an unused slot is re-used if it exists, otherwise a new slot is allocated.
when idx is specified, it must be an unused slot or the slot right after the last one.
*/
func AddItem(p PagePtr, item ItemPtr, idx SlotIndex) (SlotIndex, error) {
	return addItem(p, item, idx, MaxSlotIndex)
}

// AddHeapItem is AddItem for heap pages: no slot beyond MaxHeapSlotIndex is allocated
// see https://github.com/postgres/postgres/blob/2cd2569c72b8920048e35c31c9be30a6170e1410/src/backend/storage/page/bufpage.c#L268-L273
func AddHeapItem(p PagePtr, item ItemPtr, idx SlotIndex) (SlotIndex, error) {
	if idx != InvalidSlotIndex && idx > MaxHeapSlotIndex {
		return InvalidSlotIndex, errors.Errorf("slot %d exceeds the heap page limit %d", idx, MaxHeapSlotIndex)
	}
	return addItem(p, item, idx, MaxHeapSlotIndex)
}

func addItem(p PagePtr, item ItemPtr, idx SlotIndex, maxIdx SlotIndex) (SlotIndex, error) {
	var err error
	extend := false
	if idx == InvalidSlotIndex {
		idx, err = findFreeSlot(p)
		if err != nil {
			return InvalidSlotIndex, errors.Wrap(err, "findFreeSlot failed")
		}
		if idx == InvalidSlotIndex {
			if idx, err = extendSlot(p, maxIdx); err != nil {
				return InvalidSlotIndex, errors.Wrap(err, "extendSlot failed")
			}
			extend = true
		}
	} else {
		nidx := GetNSlotIndex(p)
		switch {
		case nidx == InvalidSlotIndex && idx == FirstSlotIndex, nidx != InvalidSlotIndex && idx == nidx+1:
			extend = true
		case nidx != InvalidSlotIndex && idx <= nidx:
			slot, err := GetSlot(p, idx)
			if err != nil {
				return InvalidSlotIndex, errors.Wrap(err, "GetSlot failed")
			}
			if !IsUnused(slot) {
				return InvalidSlotIndex, errors.Errorf("slot %d is in use", idx)
			}
		default:
			return InvalidSlotIndex, errors.Errorf("slot %d cannot be allocated", idx)
		}
	}

	needed := len(item)
	if extend {
		needed += slotSize
	}
	if CalculateFreeSpace(p) < needed {
		return InvalidSlotIndex, errors.Errorf("not enough free space: needed %d, free %d", needed, CalculateFreeSpace(p))
	}

	upper := GetUpperOffset(p) - offset(len(item))
	copy(p[upper:upper+offset(len(item))], item)
	SetUpperOffset(p, upper)
	insertSlot(p, idx, itemOffset(upper), itemSize(len(item)))
	if extend {
		SetLowerOffset(p, GetLowerOffset(p)+slotSize)
	}
	return idx, nil
}

// putSlot writes the raw slot value
func putSlot(s SlotPtr, slot Slot) {
	binary.LittleEndian.PutUint32(s[:], uint32(slot))
}
