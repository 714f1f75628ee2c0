package vm

import (
	"testing"

	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/stretchr/testify/assert"
)

func TestGetVMPageIDFromPageID(t *testing.T) {
	tests := []struct {
		name     string
		pageID   page.PageID
		vmPageID page.PageID
	}{
		{name: "page id is 0", pageID: 0, vmPageID: 0},
		{name: "page id is nodeNumPerPage-1", pageID: page.PageID(nodeNumPerPage - 1), vmPageID: 0},
		{name: "page id is nodeNumPerPage", pageID: page.PageID(nodeNumPerPage), vmPageID: 1},
		{name: "page id is nodeNumPerPage+1", pageID: page.PageID(nodeNumPerPage + 1), vmPageID: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.vmPageID, GetVMPageIDFromPageID(tt.pageID))
		})
	}
}

func TestGetStatusUpdateStatus(t *testing.T) {
	tests := []struct {
		name     string
		pageID   page.PageID
		flags    uint8
		expected uint8
	}{
		{name: "first node, all visible", pageID: 0, flags: StatusAllVisible, expected: StatusAllVisible},
		{name: "last node in byte, all visible and frozen", pageID: 3, flags: StatusValidBits, expected: StatusValidBits},
		{name: "second byte, cleared", pageID: 5, flags: StatusInitialized, expected: StatusInitialized},
		{name: "frozen alone implies visible", pageID: 6, flags: StatusAllFrozen, expected: StatusValidBits},
		{name: "last node in page", pageID: page.PageID(nodeNumPerPage - 1), flags: StatusAllVisible, expected: StatusAllVisible},
		{name: "first node of the next vm page", pageID: page.PageID(nodeNumPerPage), flags: StatusValidBits, expected: StatusValidBits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := page.NewPagePtr()
			page.InitializePage(p, 0)
			// neighbours are set, so that we can confirm they are not touched
			if tt.pageID > 0 {
				UpdateStatus(p, tt.pageID-1, StatusValidBits)
			}
			UpdateStatus(p, tt.pageID+1, StatusAllVisible)

			UpdateStatus(p, tt.pageID, tt.flags)
			assert.Equal(t, tt.expected, GetStatus(p, tt.pageID))
			if tt.pageID > 0 {
				assert.Equal(t, StatusValidBits, GetStatus(p, tt.pageID-1))
			}
			assert.Equal(t, StatusAllVisible, GetStatus(p, tt.pageID+1))
			// header is untouched
			assert.True(t, page.IsInitialized(p))
		})
	}
}
