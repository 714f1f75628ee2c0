package page

import (
	"encoding/binary"
)

// SlotPtr is pointer to slot WITHIN PAGE
type SlotPtr *[slotSize]byte

// slotSize is the byte size of Slot. Slot is defined with uint32
const slotSize = 4

/*
Slot is the line pointer of the slotted page. it consists of three fields
- item offset/uint15. this is the offset of the item which slot points to.
  for a redirected slot this field holds the slot index the chain continues at.
- flag/uint2. unused/normal/redirected/dead
- item size/uint15. this is the byte size of the item. 0 for a slot without storage

vacuum moves a slot through these states:
  normal -> dead (pruned, storage released, index entries may still point here)
  normal -> redirected (the root of a HOT chain whose first members were pruned)
  dead -> unused (index entries are removed, so the slot can be re-used)
see: https://github.com/postgres/postgres/blob/27b77ecf9f4d5be211900eda54d8155ada50d696/src/include/storage/itemid.h#L17-L41
*/
type Slot uint32

// slotFlag is flag stored in Slot
type slotFlag uint8

const (
	// slotFlagUnused indicates the slot is free and can be re-used
	slotFlagUnused slotFlag = iota
	// slotFlagNormal indicates the slot points to a tuple
	slotFlagNormal
	// slotFlagRedirected indicates the slot redirects to another slot of the HOT chain
	slotFlagRedirected
	// slotFlagDead indicates the slot is dead and has no storage
	slotFlagDead
)

// generateSlot generates slot from offset 15bit, flags 2bit, size 15bit
func generateSlot(io itemOffset, flag slotFlag, size itemSize) Slot {
	var slot uint32
	slot |= (uint32(io) << 17)
	slot |= (uint32(flag) << 15)
	slot |= (uint32(size))
	return Slot(slot)
}

// getItemOffset returns item offset
func getItemOffset(s SlotPtr) itemOffset {
	return itemOffset(uint32(convertSlot(s)) >> 17)
}

// setItemOffset updates item offset keeping flag and size
func setItemOffset(s SlotPtr, io itemOffset) {
	var mask uint32 = (1 << 17) - 1
	rest := uint32(convertSlot(s)) & mask
	putSlot(s, Slot(rest|(uint32(io)<<17)))
}

// getItemSize returns item size
func getItemSize(s SlotPtr) itemSize {
	mask := uint32((1 << 15) - 1)
	return itemSize(uint32(convertSlot(s)) & mask)
}

// getFlag returns slot flag
func getFlag(s SlotPtr) slotFlag {
	mask := uint32((1 << 15) | (1 << 16))
	return slotFlag((uint32(convertSlot(s)) & mask) >> 15)
}

// ItemSize returns the byte size of the storage the slot points to
func ItemSize(s SlotPtr) int {
	return int(getItemSize(s))
}

// HasStorage checks whether the slot points to storage within the page
func HasStorage(s SlotPtr) bool {
	return getItemSize(s) != 0
}

// IsUnused checks whether the page slot is unused
func IsUnused(s SlotPtr) bool {
	return getFlag(s) == slotFlagUnused
}

// SetUnused marks the slot unused and forgets its storage
func SetUnused(s SlotPtr) {
	putSlot(s, generateSlot(0, slotFlagUnused, 0))
}

// IsNormal checks whether the page slot is normal
func IsNormal(s SlotPtr) bool {
	return getFlag(s) == slotFlagNormal
}

// IsRedirected checks whether the page slot is redirected
func IsRedirected(s SlotPtr) bool {
	return getFlag(s) == slotFlagRedirected
}

// SetRedirected turns the slot into a redirect to the slot index passed
func SetRedirected(s SlotPtr, to SlotIndex) {
	putSlot(s, generateSlot(itemOffset(to), slotFlagRedirected, 0))
}

// GetRedirect returns the slot index the redirected slot points to
func GetRedirect(s SlotPtr) SlotIndex {
	return SlotIndex(getItemOffset(s))
}

// IsDead checks whether the page slot is dead
func IsDead(s SlotPtr) bool {
	return getFlag(s) == slotFlagDead
}

// SetDead marks the slot dead. storage is released, so RepairFragmentation can reclaim it
func SetDead(s SlotPtr) {
	putSlot(s, generateSlot(0, slotFlagDead, 0))
}

// convertSlot converts slot pointer to slot for calculation or bit operation
func convertSlot(s SlotPtr) Slot {
	return Slot(binary.LittleEndian.Uint32(s[:]))
}
