// page tree is tree structures of pages.
// the functions about tree structures WITHIN page is defined tree.go.
package fsm

// getChildAddress gets child fsm page's address calculated from parent fsm address/slot.
// this function is expected to be called to go down to the next tree level
func getChildAddress(addr address, slot fsmSlot) (address, bool) {
	// tree level bottom does not have any child
	if addr.treeLevel == treeLevelBottom {
		return address{}, false
	}
	return address{
		treeLevel:     addr.treeLevel - 1,
		logicalPageID: addr.logicalPageID*logicalPageID(leafNodeNum) + logicalPageID(slot),
	}, true
}

// getParentAddress gets parent fsm page's address and the slot pointing to the child.
// this function is expected to be called to go up to the next tree level
func getParentAddress(addr address) (address, fsmSlot, bool) {
	// tree root level does not have any parent
	if addr.treeLevel == treeLevelRoot {
		return address{}, invalidSlot, false
	}
	return address{
		treeLevel:     addr.treeLevel + 1,
		logicalPageID: addr.logicalPageID / logicalPageID(leafNodeNum),
	}, fsmSlot(addr.logicalPageID % logicalPageID(leafNodeNum)), true
}
