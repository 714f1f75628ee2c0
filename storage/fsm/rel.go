package fsm

import "github.com/HayatoShiba/ppvacuum/storage/page"

// getAddressFromRelationPageID returns the bottom level address and slot which hold the free space of the heap page.
// the logical page id of bottom level is the heap page id divided by the slots per page
func getAddressFromRelationPageID(pageID page.PageID) (address, fsmSlot) {
	return address{
		treeLevel:     treeLevelBottom,
		logicalPageID: logicalPageID(pageID) / logicalPageID(leafNodeNum),
	}, fsmSlot(uint64(pageID) % uint64(leafNodeNum))
}

// getRelationPageIDFromAddress returns heap page id calculated from bottom level address and slot
func getRelationPageIDFromAddress(addr address, slot fsmSlot) (page.PageID, bool) {
	if addr.treeLevel != treeLevelBottom {
		return page.InvalidPageID, false
	}
	return page.PageID(uint64(addr.logicalPageID)*uint64(leafNodeNum) + uint64(slot)), true
}
