package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/HayatoShiba/ppvacuum/storage/page"
)

func TestGetAddressFromRelationPageID(t *testing.T) {
	tests := []struct {
		name   string
		pageID page.PageID
		addr   address
		slot   fsmSlot
	}{
		{
			name:   "relation page id is 0",
			pageID: 0,
			addr:   address{treeLevel: treeLevelBottom, logicalPageID: 0},
			slot:   0,
		},
		{
			name:   "relation page id is leafNodeNum - 1",
			pageID: page.PageID(leafNodeNum - 1),
			addr:   address{treeLevel: treeLevelBottom, logicalPageID: 0},
			slot:   fsmSlot(leafNodeNum - 1),
		},
		{
			name:   "relation page id is leafNodeNum",
			pageID: page.PageID(leafNodeNum),
			addr:   address{treeLevel: treeLevelBottom, logicalPageID: 1},
			slot:   0,
		},
		{
			name:   "relation page id is leafNodeNum*2 + 3",
			pageID: page.PageID(leafNodeNum*2 + 3),
			addr:   address{treeLevel: treeLevelBottom, logicalPageID: 2},
			slot:   3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, slot := getAddressFromRelationPageID(tt.pageID)
			assert.Equal(t, tt.addr, addr)
			assert.Equal(t, tt.slot, slot)

			pageID, ok := getRelationPageIDFromAddress(addr, slot)
			assert.True(t, ok)
			assert.Equal(t, tt.pageID, pageID)
		})
	}

	_, ok := getRelationPageIDFromAddress(rootAddress, 0)
	assert.False(t, ok)
}
