/*
Free space map stores the information about free space within each heap page.
When inserting new tuples, free space map is used to find a page which can store the tuple.
Vacuum records the free space of every page it has pruned, so the space can be reused.

----
About free space map:

Each free space is expressed with ONE BYTE (see space.go) for making the size of fsm small.
The fsm fork uses the page layout of the relation. Within each fsm page the bytes form a binary tree:
a leaf node (slot) holds the free space of one child, and a non-leaf node holds the max of its children.
The pages themselves form a tree of three levels (see fsm.go):
a slot of the bottom level is a heap page, and a slot of an upper level is the root node of a child fsm page.

how to search enough free space when inserting new tuple:

 1. fetch fsm root page and check its root node.
    if it is smaller than we want, then enough free space doesn't exist. the caller extends the relation.
 2. go down the binary tree within the page until it reaches the leaf node.
 3. fetch the child fsm page the slot points to and continue.
    maybe another goroutine has updated the child page, or the upper levels are out of date:
    when the child page has no enough free space, fix the slot of the parent and restart from the root page.
 4. when the bottom level is reached, the slot is the heap page.

how to update:
RecordFreeSpace updates the slot of the bottom level and bubbles up the change within the page.
an increase is carried up to the root page at once, so that a searcher can find it right away.
a decrease is not: the upper levels may promise space which is gone.
searchers fix the upper levels lazily (step 3), and Vacuum recomputes them all.

FSM is not WAL-logged: see https://github.com/postgres/postgres/blob/7db0cde6b58eef2ba0c70437324cbc7622230320/src/backend/storage/freespace/README#L168-L189

see https://github.com/postgres/postgres/blob/7db0cde6b58eef2ba0c70437324cbc7622230320/src/backend/storage/freespace/README#L1
*/
package fsm

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/buffer"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
)

// maxSearchRestarts bounds the restarts of one search. a concurrent updater may keep the tree moving
const maxSearchRestarts = 1000

// Manager records and searches free space of heap pages
type Manager struct {
	bm *buffer.Manager
}

// NewManager initializes manager
func NewManager(bm *buffer.Manager) *Manager {
	return &Manager{
		bm: bm,
	}
}

// RecordFreeSpace records the free space of the heap page
// see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/freespace.c#L181
func (m *Manager) RecordFreeSpace(rel common.Relation, pageID page.PageID, size int) error {
	fss, ok := convertToFreeSpaceSize(size)
	if !ok {
		return errors.Errorf("the size passed is unexpected: %d", size)
	}
	addr, slot := getAddressFromRelationPageID(pageID)
	fsmPageID := getFSMPageIDFromAddress(addr)
	// nothing to record on a page which does not exist yet
	if fss == 0 {
		n, err := m.bm.NPages(rel, disk.ForkNumberFSM)
		if err != nil {
			return err
		}
		if uint32(fsmPageID) >= n {
			return nil
		}
	}

	// extending the fork up to the bottom page creates its parents too, because they are stored before it
	maxAvail, err := m.setSlot(rel, addr, slot, fss, true)
	if err != nil {
		return err
	}
	return m.bubbleUp(rel, addr, maxAvail)
}

// bubbleUp carries an increase of the page at addr up to the root page.
// it stops at the first parent slot which already has as much
func (m *Manager) bubbleUp(rel common.Relation, addr address, fss freeSpaceSize) error {
	for {
		parent, slot, ok := getParentAddress(addr)
		if !ok {
			return nil
		}
		bufID, err := m.bm.ReadBufferFSM(rel, page.PageID(getFSMPageIDFromAddress(parent)), true, true)
		if err != nil {
			return errors.Wrap(err, "ReadBufferFSM failed")
		}
		p := m.bm.GetPage(bufID)
		if !page.IsInitialized(p) {
			page.InitializePage(p, 0)
			m.bm.MarkDirty(bufID)
		}
		if getAvail(p, slot) >= fss {
			m.bm.ReleaseBufferFSM(bufID, true)
			return nil
		}
		setAvail(p, slot, fss)
		m.bm.MarkDirty(bufID)
		m.bm.ReleaseBufferFSM(bufID, true)
		addr = parent
	}
}

// setSlot sets the slot of the fsm page at addr, and returns the root node of the page after the update
// when the page does not exist and extend is false, nothing is done
func (m *Manager) setSlot(rel common.Relation, addr address, slot fsmSlot, fss freeSpaceSize, extend bool) (freeSpaceSize, error) {
	bufID, err := m.bm.ReadBufferFSM(rel, page.PageID(getFSMPageIDFromAddress(addr)), extend, true)
	if err != nil {
		return 0, errors.Wrap(err, "ReadBufferFSM failed")
	}
	if bufID == buffer.InvalidBufferID {
		return 0, nil
	}
	defer m.bm.ReleaseBufferFSM(bufID, true)

	p := m.bm.GetPage(bufID)
	if !page.IsInitialized(p) {
		page.InitializePage(p, 0)
		m.bm.MarkDirty(bufID)
	}
	if setAvail(p, slot, fss) {
		m.bm.MarkDirty(bufID)
	}
	return getMaxAvail(p), nil
}

// GetFreeSpace returns the recorded free space of the heap page
// it is the lower bound of the category so may be smaller than the actual free space
func (m *Manager) GetFreeSpace(rel common.Relation, pageID page.PageID) (int, error) {
	addr, slot := getAddressFromRelationPageID(pageID)
	bufID, err := m.bm.ReadBufferFSM(rel, page.PageID(getFSMPageIDFromAddress(addr)), false, false)
	if err != nil {
		return 0, errors.Wrap(err, "ReadBufferFSM failed")
	}
	if bufID == buffer.InvalidBufferID {
		return 0, nil
	}
	defer m.bm.ReleaseBufferFSM(bufID, false)

	p := m.bm.GetPage(bufID)
	if !page.IsInitialized(p) {
		return 0, nil
	}
	return getAvail(p, slot).toBytes(), nil
}

// MaxFreeSpace returns the free space the root page promises for the whole relation.
// it is exact right after Vacuum, and may be bigger than any page has otherwise
func (m *Manager) MaxFreeSpace(rel common.Relation) (int, error) {
	bufID, err := m.bm.ReadBufferFSM(rel, page.PageID(getFSMPageIDFromAddress(rootAddress)), false, false)
	if err != nil {
		return 0, errors.Wrap(err, "ReadBufferFSM failed")
	}
	if bufID == buffer.InvalidBufferID {
		return 0, nil
	}
	defer m.bm.ReleaseBufferFSM(bufID, false)
	return getMaxAvail(m.bm.GetPage(bufID)).toBytes(), nil
}

/*
SearchPageIDWithFreeSpaceSize searches page which has at least size bytes free.
it goes down the tree from the root page (see the package comment).
when fsm shows no enough free space, then this function returns InvalidPageID.
the caller has to check the page, because fsm may be out of date.
see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/freespace.c#L702
*/
func (m *Manager) SearchPageIDWithFreeSpaceSize(rel common.Relation, size int) (page.PageID, error) {
	wanted, ok := spaceNeededToFreeSpaceSize(size)
	if !ok {
		return page.InvalidPageID, errors.Errorf("the size passed is unexpected: %d", size)
	}
	nheap, err := m.bm.NPages(rel, disk.ForkNumberMain)
	if err != nil {
		return page.InvalidPageID, err
	}

	addr := rootAddress
	restarts := 0
	for {
		slot, maxAvail, err := m.searchPage(rel, addr, wanted)
		if err != nil {
			return page.InvalidPageID, err
		}

		if slot != invalidSlot {
			if addr.treeLevel != treeLevelBottom {
				addr, _ = getChildAddress(addr, slot)
				continue
			}
			pageID, _ := getRelationPageIDFromAddress(addr, slot)
			if uint32(pageID) < nheap {
				return pageID, nil
			}
			// the heap has been truncated behind fsm: forget the page
			if _, err := m.setSlot(rel, addr, slot, 0, false); err != nil {
				return page.InvalidPageID, err
			}
		} else {
			if addr == rootAddress {
				return page.InvalidPageID, nil
			}
			// the parent promised more than the page has: fix the parent slot
			parent, parentSlot, _ := getParentAddress(addr)
			if _, err := m.setSlot(rel, parent, parentSlot, maxAvail, false); err != nil {
				return page.InvalidPageID, err
			}
		}

		restarts++
		if restarts > maxSearchRestarts {
			log.WithFields(log.Fields{"rel": rel, "size": size}).Warn("fsm search gave up")
			return page.InvalidPageID, nil
		}
		addr = rootAddress
	}
}

// searchPage searches the slot which has at least wanted within the fsm page at addr.
// when no slot has it, invalidSlot and the root node of the page are returned
func (m *Manager) searchPage(rel common.Relation, addr address, wanted freeSpaceSize) (fsmSlot, freeSpaceSize, error) {
	fsmPageID := page.PageID(getFSMPageIDFromAddress(addr))
	bufID, err := m.bm.ReadBufferFSM(rel, fsmPageID, false, false)
	if err != nil {
		return invalidSlot, 0, errors.Wrap(err, "ReadBufferFSM failed")
	}
	if bufID == buffer.InvalidBufferID {
		return invalidSlot, 0, nil
	}
	p := m.bm.GetPage(bufID)
	if !page.IsInitialized(p) {
		m.bm.ReleaseBufferFSM(bufID, false)
		return invalidSlot, 0, nil
	}
	slot, ok := searchAvail(p, wanted)
	maxAvail := getMaxAvail(p)
	m.bm.ReleaseBufferFSM(bufID, false)
	if ok {
		return slot, maxAvail, nil
	}

	// the non-leaf nodes of the page are broken. rebuild them under exclusive lock and retry
	bufID, err = m.bm.ReadBufferFSM(rel, fsmPageID, false, true)
	if err != nil {
		return invalidSlot, 0, errors.Wrap(err, "ReadBufferFSM failed")
	}
	defer m.bm.ReleaseBufferFSM(bufID, true)
	p = m.bm.GetPage(bufID)
	if rebuild(p) {
		m.bm.MarkDirty(bufID)
	}
	slot, _ = searchAvail(p, wanted)
	return slot, getMaxAvail(p), nil
}

/*
Vacuum recomputes the upper levels of the tree from the bottom level.
RecordFreeSpace does not carry a decrease up, so after a vacuum has recorded
the free space of many pages, the upper levels may be stale. this makes them exact again.
see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/freespace.c#L333
*/
func (m *Manager) Vacuum(rel common.Relation) error {
	nfsm, err := m.bm.NPages(rel, disk.ForkNumberFSM)
	if err != nil {
		return err
	}
	if nfsm == 0 {
		return nil
	}
	root, err := m.vacuumPage(rel, rootAddress, nfsm)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"rel": rel, "fsm_pages": nfsm, "max_avail": root.toBytes()}).Debug("fsm vacuumed")
	return nil
}

// vacuumPage recomputes the page at addr and every page below it, and returns the root node of the page
// see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/freespace.c#L807
func (m *Manager) vacuumPage(rel common.Relation, addr address, nfsm uint32) (freeSpaceSize, error) {
	fsmPageID := getFSMPageIDFromAddress(addr)
	if uint32(fsmPageID) >= nfsm {
		return 0, nil
	}

	var children []freeSpaceSize
	if addr.treeLevel != treeLevelBottom {
		for slot := firstSlot; slot < fsmSlot(leafNodeNum); slot++ {
			child, _ := getChildAddress(addr, slot)
			// the child pages are stored in order, so no later child exists either
			if uint32(getFSMPageIDFromAddress(child)) >= nfsm {
				break
			}
			fss, err := m.vacuumPage(rel, child, nfsm)
			if err != nil {
				return 0, err
			}
			children = append(children, fss)
		}
	}

	bufID, err := m.bm.ReadBufferFSM(rel, page.PageID(fsmPageID), false, true)
	if err != nil {
		return 0, errors.Wrap(err, "ReadBufferFSM failed")
	}
	defer m.bm.ReleaseBufferFSM(bufID, true)
	p := m.bm.GetPage(bufID)
	if !page.IsInitialized(p) {
		page.InitializePage(p, 0)
		m.bm.MarkDirty(bufID)
	}

	changed := false
	if addr.treeLevel != treeLevelBottom {
		for slot := firstSlot; slot < fsmSlot(leafNodeNum); slot++ {
			var fss freeSpaceSize
			if int(slot) < len(children) {
				fss = children[slot]
			}
			if getAvail(p, slot) != fss {
				updateFreeSpaceSizeFromNodeIndex(p, getNodeIndexFromSlot(slot), fss)
				changed = true
			}
		}
	}
	if rebuild(p) {
		changed = true
	}
	if changed {
		m.bm.MarkDirty(bufID)
	}
	return getMaxAvail(p), nil
}

/*
Truncate forgets the heap pages at or beyond nheapPages.
the bottom page which covers nheapPages is cleared from it, the pages after it are truncated,
and the upper levels are recomputed.
see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/freespace.c#L262
*/
func (m *Manager) Truncate(rel common.Relation, nheapPages uint32) error {
	nfsm, err := m.bm.NPages(rel, disk.ForkNumberFSM)
	if err != nil {
		return err
	}
	addr, slot := getAddressFromRelationPageID(page.PageID(nheapPages))
	fsmPageID := getFSMPageIDFromAddress(addr)
	if uint32(fsmPageID) >= nfsm {
		return nil
	}

	newFSMPages := uint32(fsmPageID)
	if slot != firstSlot {
		bufID, err := m.bm.ReadBufferFSM(rel, page.PageID(fsmPageID), false, true)
		if err != nil {
			return errors.Wrap(err, "ReadBufferFSM failed")
		}
		p := m.bm.GetPage(bufID)
		if page.IsInitialized(p) && truncateAvail(p, slot) {
			m.bm.MarkDirty(bufID)
		}
		m.bm.ReleaseBufferFSM(bufID, true)
		newFSMPages++
	}
	if newFSMPages < nfsm {
		if err := m.bm.TruncateRelation(rel, disk.ForkNumberFSM, newFSMPages); err != nil {
			return err
		}
	}
	return m.Vacuum(rel)
}
