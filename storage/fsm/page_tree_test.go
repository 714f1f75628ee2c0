package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetChildAddress(t *testing.T) {
	tests := []struct {
		name     string
		addr     address
		slot     fsmSlot
		expected address
		ok       bool
	}{
		{
			name:     "root's first child",
			addr:     rootAddress,
			slot:     0,
			expected: address{treeLevel: treeLevelRoot - 1, logicalPageID: 0},
			ok:       true,
		},
		{
			name:     "root's second child",
			addr:     rootAddress,
			slot:     1,
			expected: address{treeLevel: treeLevelRoot - 1, logicalPageID: 1},
			ok:       true,
		},
		{
			name:     "second middle page's first child",
			addr:     address{treeLevel: 1, logicalPageID: 1},
			slot:     0,
			expected: address{treeLevel: treeLevelBottom, logicalPageID: logicalPageID(leafNodeNum)},
			ok:       true,
		},
		{
			name: "bottom level has no child",
			addr: address{treeLevel: treeLevelBottom, logicalPageID: 3},
			slot: 0,
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := getChildAddress(tt.addr, tt.slot)
			assert.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.expected, got)

			// going up leads back to the slot
			parent, slot, ok := getParentAddress(got)
			assert.True(t, ok)
			assert.Equal(t, tt.addr, parent)
			assert.Equal(t, tt.slot, slot)
		})
	}
}

func TestGetParentAddressOfRoot(t *testing.T) {
	_, slot, ok := getParentAddress(rootAddress)
	assert.False(t, ok)
	assert.Equal(t, invalidSlot, slot)
}
