package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsInitialized(t *testing.T) {
	tests := []struct {
		name        string
		initialized bool
	}{
		{name: "zero-filled page is new", initialized: false},
		{name: "initialized page", initialized: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPagePtr()
			if tt.initialized {
				InitializePage(p, 0)
			}
			assert.Equal(t, tt.initialized, IsInitialized(p))
			assert.Equal(t, !tt.initialized, IsNew(p))
		})
	}
}

func TestIsEmpty(t *testing.T) {
	p := NewPagePtr()
	InitializePage(p, 0)
	assert.True(t, IsEmpty(p))

	_, err := AddItem(p, []byte{1}, InvalidSlotIndex)
	require.Nil(t, err)
	assert.False(t, IsEmpty(p))
}

func TestCalculateFreeSpace(t *testing.T) {
	p := NewPagePtr()
	InitializePage(p, 10)

	expected := PageSize - HeaderSize - 10
	assert.Equal(t, expected, CalculateFreeSpace(p))

	item := []byte{1, 2}
	_, err := AddItem(p, item, InvalidSlotIndex)
	assert.Nil(t, err)
	assert.Equal(t, expected-slotSize-len(item), CalculateFreeSpace(p))
}

func TestHeapFreeSpace(t *testing.T) {
	t.Run("a new slot has to be reserved", func(t *testing.T) {
		p := NewPagePtr()
		InitializePage(p, 0)
		assert.Equal(t, CalculateFreeSpace(p)-slotSize, HeapFreeSpace(p))
	})
	t.Run("an unused slot can be re-used", func(t *testing.T) {
		p := NewPagePtr()
		InitializePage(p, 0)
		_, err := AddItem(p, []byte{1, 2, 3}, InvalidSlotIndex)
		require.Nil(t, err)
		slot, err := GetSlot(p, FirstSlotIndex)
		require.Nil(t, err)
		SetUnused(slot)
		assert.Equal(t, CalculateFreeSpace(p), HeapFreeSpace(p))
	})
	t.Run("no slot is left on a heap page", func(t *testing.T) {
		p := NewPagePtr()
		InitializePage(p, 0)
		for i := 0; i < MaxHeapTuplesPerPage-1; i++ {
			_, err := AddHeapItem(p, []byte{1}, InvalidSlotIndex)
			require.Nil(t, err)
		}
		// the last slot is still available
		assert.Equal(t, CalculateFreeSpace(p)-slotSize, HeapFreeSpace(p))
		_, err := AddHeapItem(p, []byte{1}, InvalidSlotIndex)
		require.Nil(t, err)
		// plenty of bytes are left, but no tuple fits
		assert.Greater(t, CalculateFreeSpace(p), 0)
		assert.Equal(t, 0, HeapFreeSpace(p))
	})
}

func TestRepairFragmentation(t *testing.T) {
	p := NewPagePtr()
	InitializePage(p, 10)
	initial := CalculateFreeSpace(p)

	items := [][]byte{
		{1, 1, 1, 1, 1, 1},
		{2, 2},
		{3, 3, 3, 3},
		{4, 4, 4, 4, 4, 4, 4, 4},
		{5},
	}
	for _, item := range items {
		_, err := AddItem(p, item, InvalidSlotIndex)
		require.Nil(t, err)
	}

	// slot 1 is removed, slot 3 is pruned to dead
	slot, err := GetSlot(p, 1)
	require.Nil(t, err)
	SetUnused(slot)
	slot, err = GetSlot(p, 3)
	require.Nil(t, err)
	SetDead(slot)

	err = RepairFragmentation(p)
	assert.Nil(t, err)

	// only the survivors occupy storage
	expected := initial - len(items)*slotSize - (6 + 4 + 1)
	assert.Equal(t, expected, CalculateFreeSpace(p))

	// survivors keep their contents even though different sizes were moved
	for _, idx := range []SlotIndex{0, 2, 4} {
		got, err := GetItem(p, idx)
		require.Nil(t, err)
		assert.Equal(t, items[idx], []byte(got))
	}
	_, err = GetItem(p, 3)
	assert.NotNil(t, err)
}
