package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetItem(t *testing.T) {
	p, err := TestingNewRandomPage()
	require.Nil(t, err)

	got, err := GetItem(p, FirstSlotIndex+1)
	assert.Nil(t, err)
	assert.Equal(t, []byte{8, 9}, []byte(got))

	// returned item shares memory with the page
	got[0] = 7
	again, err := GetItem(p, FirstSlotIndex+1)
	require.Nil(t, err)
	assert.Equal(t, byte(7), again[0])

	_, err = GetItem(p, FirstSlotIndex+2)
	assert.NotNil(t, err)
}

func TestAddItem(t *testing.T) {
	tests := []struct {
		name        string
		unuseFirst  bool
		idx         SlotIndex
		expectedIdx SlotIndex
		expectedErr bool
	}{
		{name: "extend new slot", idx: InvalidSlotIndex, expectedIdx: 2},
		{name: "re-use unused slot", unuseFirst: true, idx: InvalidSlotIndex, expectedIdx: 0},
		{name: "specified unused slot", unuseFirst: true, idx: 0, expectedIdx: 0},
		{name: "specified next slot", idx: 2, expectedIdx: 2},
		{name: "specified slot in use", idx: 1, expectedErr: true},
		{name: "specified slot beyond the end", idx: 5, expectedErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := TestingNewRandomPage()
			require.Nil(t, err)
			if tt.unuseFirst {
				slot, err := GetSlot(p, FirstSlotIndex)
				require.Nil(t, err)
				SetUnused(slot)
			}
			item := []byte{10, 11, 12}
			got, err := AddItem(p, item, tt.idx)
			if tt.expectedErr {
				assert.NotNil(t, err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tt.expectedIdx, got)
			stored, err := GetItem(p, got)
			require.Nil(t, err)
			assert.Equal(t, item, []byte(stored))
		})
	}

	t.Run("page is full", func(t *testing.T) {
		p := NewPagePtr()
		InitializePage(p, 0)
		_, err := AddItem(p, make([]byte, PageSize), InvalidSlotIndex)
		assert.NotNil(t, err)
	})
}

func TestAddHeapItem(t *testing.T) {
	// a heap page with MaxHeapTuplesPerPage slots, every slot holding one byte
	testingFullHeapPage := func(t *testing.T) PagePtr {
		p := NewPagePtr()
		InitializePage(p, 0)
		for i := 0; i < MaxHeapTuplesPerPage; i++ {
			idx, err := AddHeapItem(p, []byte{1}, InvalidSlotIndex)
			require.Nil(t, err)
			require.Equal(t, SlotIndex(i), idx)
		}
		return p
	}

	tests := []struct {
		name        string
		unuseSlot   bool
		idx         SlotIndex
		expectedIdx SlotIndex
		expectedErr bool
	}{
		{name: "no slot is extended beyond the limit", idx: InvalidSlotIndex, expectedErr: true},
		{name: "specified slot beyond the limit", idx: MaxHeapSlotIndex + 1, expectedErr: true},
		{name: "an unused slot is re-used", unuseSlot: true, idx: InvalidSlotIndex, expectedIdx: 10},
		{name: "specified unused slot", unuseSlot: true, idx: 10, expectedIdx: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testingFullHeapPage(t)
			if tt.unuseSlot {
				slot, err := GetSlot(p, 10)
				require.Nil(t, err)
				SetUnused(slot)
			}
			got, err := AddHeapItem(p, []byte{2}, tt.idx)
			if tt.expectedErr {
				assert.NotNil(t, err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tt.expectedIdx, got)
		})
	}

	t.Run("AddItem is not limited", func(t *testing.T) {
		p := testingFullHeapPage(t)
		idx, err := AddItem(p, []byte{2}, InvalidSlotIndex)
		require.Nil(t, err)
		assert.Equal(t, MaxHeapSlotIndex+1, idx)
	})
}
