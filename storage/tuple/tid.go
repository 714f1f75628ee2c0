package tuple

import (
	"encoding/binary"
	"fmt"

	"github.com/HayatoShiba/ppvacuum/storage/page"
)

// Tid consists of pageID and slot index
// so, with tid, the tuple can be located. index entries store tid.
// tids are ordered by (page id, slot index); vacuum keeps dead tids sorted in this order.
type Tid struct {
	pageID page.PageID
	slot   page.SlotIndex
}

// NewTid initializes tid
func NewTid(pid page.PageID, slotIndex page.SlotIndex) Tid {
	return Tid{
		pageID: pid,
		slot:   slotIndex,
	}
}

// InvalidTid points nowhere
var InvalidTid = NewTid(page.InvalidPageID, page.InvalidSlotIndex)

const (
	// tid size is 8byte (page id is 4byte, slot index is 4byte)
	tidSize = 8
	// TidSize is exported for memory budget calculation
	TidSize = tidSize
)

// PageID returns page id
func (t Tid) PageID() page.PageID {
	return t.pageID
}

// SlotIndex returns slot index
func (t Tid) SlotIndex() page.SlotIndex {
	return t.slot
}

// Compare returns -1, 0, +1 comparing (page id, slot index) lexicographically
func (t Tid) Compare(other Tid) int {
	switch {
	case t.pageID < other.pageID:
		return -1
	case t.pageID > other.pageID:
		return 1
	case t.slot < other.slot:
		return -1
	case t.slot > other.slot:
		return 1
	}
	return 0
}

// Less reports whether t sorts before other
func (t Tid) Less(other Tid) bool {
	return t.Compare(other) < 0
}

// String formats tid like postgres ctid
func (t Tid) String() string {
	return fmt.Sprintf("(%d,%d)", t.pageID, t.slot)
}

// marshalTid marshals tid
func marshalTid(t Tid) uint64 {
	return uint64(t.pageID) | uint64(t.slot)<<32
}

// unmarshalTid unmarshals tid
func unmarshalTid(b []byte) Tid {
	v := binary.LittleEndian.Uint64(b)
	return Tid{
		pageID: page.PageID(uint32(v)),
		slot:   page.SlotIndex(uint32(v >> 32)),
	}
}
