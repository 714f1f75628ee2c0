package page

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSlot(t *testing.T) {
	tests := []struct {
		name     string
		offset   itemOffset
		flags    slotFlag
		size     itemSize
		expected uint32
	}{
		{name: "unused", offset: 1, flags: slotFlagUnused, size: 1, expected: 0x20001},
		{name: "normal", offset: 1, flags: slotFlagNormal, size: 1, expected: 0x28001},
		{name: "redirected", offset: 1, flags: slotFlagRedirected, size: 1, expected: 0x30001},
		{name: "dead", offset: 1, flags: slotFlagDead, size: 1, expected: 0x38001},
		{name: "offset and size", offset: 10, flags: slotFlagNormal, size: 20, expected: 0x148014},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, uint32(generateSlot(tt.offset, tt.flags, tt.size)))
		})
	}
}

func TestSlotTransitions(t *testing.T) {
	slot := testingSlotPtr(generateSlot(20, slotFlagNormal, 10))
	assert.True(t, IsNormal(slot))
	assert.True(t, HasStorage(slot))
	assert.Equal(t, 10, ItemSize(slot))

	setItemOffset(slot, 100)
	assert.Equal(t, itemOffset(100), getItemOffset(slot))
	assert.Equal(t, itemSize(10), getItemSize(slot))

	SetRedirected(slot, 7)
	assert.True(t, IsRedirected(slot))
	assert.False(t, HasStorage(slot))
	assert.Equal(t, SlotIndex(7), GetRedirect(slot))

	SetDead(slot)
	assert.True(t, IsDead(slot))
	assert.False(t, HasStorage(slot))

	SetUnused(slot)
	assert.True(t, IsUnused(slot))
	assert.Equal(t, uint32(0), uint32(convertSlot(slot)))
}

func TestGetSlot(t *testing.T) {
	p := NewPagePtr()
	InitializePage(p, 0)
	insertSlot(p, 1, itemOffset(10), itemSize(20))
	got, err := GetSlot(p, 1)
	require.Nil(t, err)
	assert.Equal(t, uint32(0x148014), uint32(convertSlot(got)))

	_, err = GetSlot(p, InvalidSlotIndex)
	assert.NotNil(t, err)
}

func TestGetNSlotIndex(t *testing.T) {
	p := NewPagePtr()
	InitializePage(p, 0)
	assert.Equal(t, InvalidSlotIndex, GetNSlotIndex(p))

	_, err := AddItem(p, []byte{1}, InvalidSlotIndex)
	require.Nil(t, err)
	assert.Equal(t, FirstSlotIndex, GetNSlotIndex(p))
}

func testingSlotPtr(s Slot) SlotPtr {
	var slot = [slotSize]byte{}
	sp := SlotPtr(&slot)
	binary.LittleEndian.PutUint32(sp[:], uint32(s))
	return sp
}
