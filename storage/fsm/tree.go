// tree is tree structures within pages.
// the functions about tree structures OF page is defined page_tree.go.
package fsm

import "github.com/HayatoShiba/ppvacuum/storage/page"

// nodeIndex is the index of fsm binary tree node. this is not byte offset within page.
// if index is 0, the node is root node
// if index is 1, the node is left child of root node
// fsm node size is 1 byte (see space.go)
type nodeIndex uint

const (
	rootNodeIndex nodeIndex = 0
)

// getLeftChildNode returns the index of left child node of binary tree within page.
func getLeftChildNode(index nodeIndex) nodeIndex {
	return index*2 + 1
}

// getRightChildNode returns the index of right child node of binary tree within page.
func getRightChildNode(index nodeIndex) nodeIndex {
	return index*2 + 2
}

// getParentNode returns the index of parent node of binary tree within page.
func getParentNode(index nodeIndex) nodeIndex {
	return (index - 1) / 2
}

// getSlotFromNodeIndex returns the slot of leaf node
func getSlotFromNodeIndex(index nodeIndex) (fsmSlot, bool) {
	if !isLeaf(index) {
		return invalidSlot, false
	}
	return fsmSlot(int(index) - nonLeafNodeNum), true
}

// getNodeIndexFromSlot returns the node index within page calculated from fsm slot
func getNodeIndexFromSlot(slot fsmSlot) nodeIndex {
	return nodeIndex(int(slot) + nonLeafNodeNum)
}

func isLeaf(index nodeIndex) bool {
	return int(index) >= nonLeafNodeNum
}

func isRoot(index nodeIndex) bool {
	return index == rootNodeIndex
}

// exists is false for the right child of the last non-leaf node
func exists(index nodeIndex) bool {
	return int(index) < nodeNum
}

// getByteOffsetFromNodeIndex returns the byte offset of the node within the page
func getByteOffsetFromNodeIndex(index nodeIndex) int {
	return rootNodeOffset + int(index)
}

func getFreeSpaceSizeFromNodeIndex(p page.PagePtr, index nodeIndex) freeSpaceSize {
	if !exists(index) {
		return 0
	}
	return freeSpaceSize(p[getByteOffsetFromNodeIndex(index)])
}

func updateFreeSpaceSizeFromNodeIndex(p page.PagePtr, index nodeIndex, fss freeSpaceSize) {
	p[getByteOffsetFromNodeIndex(index)] = byte(fss)
}

// getChildrenMax returns the bigger free space size of the two children
func getChildrenMax(p page.PagePtr, index nodeIndex) freeSpaceSize {
	l := getFreeSpaceSizeFromNodeIndex(p, getLeftChildNode(index))
	r := getFreeSpaceSizeFromNodeIndex(p, getRightChildNode(index))
	if r > l {
		return r
	}
	return l
}

/*
setAvail sets the free space size of the slot, and bubbles up the change to the root node of the page.
bubbling stops at the first node which already holds the max of its children.
returns whether the page has been modified.
see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/fsmpage.c#L63
*/
func setAvail(p page.PagePtr, slot fsmSlot, fss freeSpaceSize) bool {
	idx := getNodeIndexFromSlot(slot)
	if getFreeSpaceSizeFromNodeIndex(p, idx) == fss && fss <= getFreeSpaceSizeFromNodeIndex(p, rootNodeIndex) {
		return false
	}
	updateFreeSpaceSizeFromNodeIndex(p, idx, fss)

	for !isRoot(idx) {
		idx = getParentNode(idx)
		newValue := getChildrenMax(p, idx)
		if getFreeSpaceSizeFromNodeIndex(p, idx) == newValue {
			break
		}
		updateFreeSpaceSizeFromNodeIndex(p, idx, newValue)
	}

	// the upper nodes were broken (the page is not WAL-logged and may be torn)
	if getFreeSpaceSizeFromNodeIndex(p, rootNodeIndex) < fss {
		rebuild(p)
	}
	return true
}

func getAvail(p page.PagePtr, slot fsmSlot) freeSpaceSize {
	return getFreeSpaceSizeFromNodeIndex(p, getNodeIndexFromSlot(slot))
}

func getMaxAvail(p page.PagePtr) freeSpaceSize {
	return getFreeSpaceSizeFromNodeIndex(p, rootNodeIndex)
}

/*
searchAvail goes down the binary tree within page to a slot which has at least wanted.
the left child is preferred, so lower heap pages are filled first.
ok is false when the root node promised enough space but no leaf has it,
which means the upper nodes of the page are broken and the page has to be rebuilt.
see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/fsmpage.c#L158
*/
func searchAvail(p page.PagePtr, wanted freeSpaceSize) (slot fsmSlot, ok bool) {
	idx := rootNodeIndex
	if getFreeSpaceSizeFromNodeIndex(p, idx) < wanted {
		return invalidSlot, true
	}
	for !isLeaf(idx) {
		leftIndex := getLeftChildNode(idx)
		rightIndex := getRightChildNode(idx)
		if getFreeSpaceSizeFromNodeIndex(p, leftIndex) >= wanted {
			idx = leftIndex
		} else if getFreeSpaceSizeFromNodeIndex(p, rightIndex) >= wanted {
			idx = rightIndex
		} else {
			return invalidSlot, false
		}
	}
	slot, _ = getSlotFromNodeIndex(idx)
	return slot, true
}

// rebuild recomputes every non-leaf node from the leaf nodes. returns whether the page has been modified.
// see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/fsmpage.c#L369
func rebuild(p page.PagePtr) bool {
	changed := false
	for idx := nodeIndex(nonLeafNodeNum); idx > rootNodeIndex; {
		idx--
		newValue := getChildrenMax(p, idx)
		if getFreeSpaceSizeFromNodeIndex(p, idx) != newValue {
			updateFreeSpaceSizeFromNodeIndex(p, idx, newValue)
			changed = true
		}
	}
	return changed
}

// truncateAvail clears the slots at or beyond nslots and rebuilds the page
// see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/fsmpage.c#L328
func truncateAvail(p page.PagePtr, nslots fsmSlot) bool {
	changed := false
	for slot := nslots; slot < fsmSlot(leafNodeNum); slot++ {
		if getAvail(p, slot) != 0 {
			updateFreeSpaceSizeFromNodeIndex(p, getNodeIndexFromSlot(slot), 0)
			changed = true
		}
	}
	if changed {
		rebuild(p)
	}
	return changed
}
