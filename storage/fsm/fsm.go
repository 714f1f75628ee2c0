/*
the layout of free space map structure
*/
package fsm

import "github.com/HayatoShiba/ppvacuum/storage/page"

const (
	// root node is stored right after the page header
	rootNodeOffset = page.HeaderSize

	// the number of fsm node within page
	// (the node size is 1 byte)
	nodeNum = page.PageSize - rootNodeOffset

	// the number of non-leaf node within page.
	// non-leaf nodes fill the upper levels of a perfect binary tree, so every leaf node is on the same level
	// and the slots are ordered from left to right. the last few non-leaf nodes have no child
	nonLeafNodeNum = page.PageSize/2 - 1
	// the number of leaf node within page. each leaf node is a slot
	leafNodeNum = nodeNum - nonLeafNodeNum
)

// address is the address of fsm page within the tree of pages
type address struct {
	treeLevel     treeLevel
	logicalPageID logicalPageID
}

// treeLevel is tree level of fsm binary tree over page
type treeLevel uint

const (
	// the tree depth has to be capable of storing all pages in one relation.
	// PageID is uint32 and leafNodeNum^3 exceeds 2^32
	// see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/freespace.c#L68-L78
	treeLevelDepth            = 3
	treeLevelRoot   treeLevel = treeLevelDepth - 1
	treeLevelBottom treeLevel = 0
)

// logicalPageID is fsm logical page id
// logical page id is allocated per each tree level
type logicalPageID uint64

const (
	firstLogicalPageID logicalPageID = 0
)

// fsmSlot is the fsm slot within the page
type fsmSlot int

const (
	invalidSlot fsmSlot = -1
	firstSlot   fsmSlot = 0
)

// fsmPageID is physical page id of fsm fork, not relation. this is alias of PageID.
type fsmPageID page.PageID

// rootAddress is the entry point of every search
var rootAddress = address{
	treeLevel:     treeLevelRoot,
	logicalPageID: firstLogicalPageID,
}

/*
getFSMPageIDFromAddress gets fsm page id from address.
pages are stored in depth-first order: the root page, the first middle page,
the bottom pages under it, the second middle page, and so on.
so the physical page id is the number of pages stored before it at every level.
see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/freespace.c#L432
*/
func getFSMPageIDFromAddress(addr address) fsmPageID {
	// the first leaf of bottom level below the page
	leafNumInBottomLevel := uint64(addr.logicalPageID)
	for i := addr.treeLevel; i > treeLevelBottom; i-- {
		leafNumInBottomLevel *= uint64(leafNodeNum)
	}
	var pid uint64
	for level := 0; level < treeLevelDepth; level++ {
		pid += leafNumInBottomLevel + 1
		leafNumInBottomLevel /= uint64(leafNodeNum)
	}
	// the pages below the address at the lower levels come after it
	pid -= uint64(addr.treeLevel)
	return fsmPageID(pid - 1)
}
