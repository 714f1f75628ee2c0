package buffer

import (
	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/vm"
)

// readVMPage pins the vm page which covers pageID and acquires content lock on it
// when extend is false and the vm page does not exist, InvalidBufferID is returned without error
// see https://github.com/postgres/postgres/blob/97c61f70d1b97bdfd20dcb1f2b1be42862ec88c2/src/backend/access/heap/visibilitymap.c#L567
func (m *Manager) readVMPage(rel common.Relation, pageID page.PageID, extend, exclusive bool) (BufferID, error) {
	vmPageID := vm.GetVMPageIDFromPageID(pageID)
	npages, err := m.NPages(rel, disk.ForkNumberVM)
	if err != nil {
		return InvalidBufferID, err
	}
	if uint32(vmPageID) >= npages {
		if !extend {
			return InvalidBufferID, nil
		}
		// for the nature of visibility map, it may have to extend multiple pages
		for i := npages; i <= uint32(vmPageID); i++ {
			bufID, _, err := m.ExtendRelation(rel, disk.ForkNumberVM)
			if err != nil {
				return InvalidBufferID, err
			}
			m.ReleaseBuffer(bufID)
		}
	}

	bufID, err := m.ReadBuffer(rel, disk.ForkNumberVM, vmPageID)
	if err != nil {
		return InvalidBufferID, errors.Wrap(err, "ReadBuffer failed")
	}
	m.AcquireContentLock(bufID, exclusive)
	return bufID, nil
}

func (m *Manager) releaseVMPage(bufID BufferID, exclusive bool) {
	m.ReleaseContentLock(bufID, exclusive)
	m.ReleaseBuffer(bufID)
}

// GetVMStatus gets the status of VM bits
// a page beyond the end of the vm fork has no bits set
func (m *Manager) GetVMStatus(rel common.Relation, pageID page.PageID) (uint8, error) {
	bufID, err := m.readVMPage(rel, pageID, false, false)
	if err != nil {
		return vm.StatusInitialized, err
	}
	if bufID == InvalidBufferID {
		return vm.StatusInitialized, nil
	}
	defer m.releaseVMPage(bufID, false)

	p := m.GetPage(bufID)
	if !page.IsInitialized(p) {
		return vm.StatusInitialized, nil
	}
	return vm.GetStatus(p, pageID), nil
}

// SetVMStatus turns on the flags of pageID and returns the status before the update
// setting all-frozen turns on all-visible too
// see https://github.com/postgres/postgres/blob/97c61f70d1b97bdfd20dcb1f2b1be42862ec88c2/src/backend/access/heap/visibilitymap.c#L244
func (m *Manager) SetVMStatus(rel common.Relation, pageID page.PageID, flags uint8) (uint8, error) {
	bufID, err := m.readVMPage(rel, pageID, true, true)
	if err != nil {
		return vm.StatusInitialized, err
	}
	defer m.releaseVMPage(bufID, true)

	p := m.GetPage(bufID)
	if !page.IsInitialized(p) {
		page.InitializePage(p, 0)
		m.MarkDirty(bufID)
	}
	old := vm.GetStatus(p, pageID)
	if updated := vm.Normalize(old | flags); updated != old {
		vm.UpdateStatus(p, pageID, updated)
		m.MarkDirty(bufID)
	}
	return old, nil
}

// ClearVMStatus turns off the flags of pageID
// clearing all-visible turns off all-frozen too
// see https://github.com/postgres/postgres/blob/97c61f70d1b97bdfd20dcb1f2b1be42862ec88c2/src/backend/access/heap/visibilitymap.c#L136
func (m *Manager) ClearVMStatus(rel common.Relation, pageID page.PageID, flags uint8) error {
	bufID, err := m.readVMPage(rel, pageID, false, true)
	if err != nil {
		return err
	}
	if bufID == InvalidBufferID {
		return nil
	}
	defer m.releaseVMPage(bufID, true)

	p := m.GetPage(bufID)
	if !page.IsInitialized(p) {
		return nil
	}
	if vm.IsAllVisible(flags) {
		flags |= vm.StatusAllFrozen
	}
	old := vm.GetStatus(p, pageID)
	if updated := old &^ flags; updated != old {
		vm.UpdateStatus(p, pageID, updated)
		m.MarkDirty(bufID)
	}
	return nil
}

// CountVM counts all-visible and all-frozen pages among the first npages heap pages
// see https://github.com/postgres/postgres/blob/97c61f70d1b97bdfd20dcb1f2b1be42862ec88c2/src/backend/access/heap/visibilitymap.c#L401
func (m *Manager) CountVM(rel common.Relation, npages uint32) (allVisible, allFrozen uint32, err error) {
	for pid := page.FirstPageID; uint32(pid) < npages; pid++ {
		status, err := m.GetVMStatus(rel, pid)
		if err != nil {
			return 0, 0, err
		}
		if vm.IsAllVisible(status) {
			allVisible++
		}
		if vm.IsAllFrozen(status) {
			allFrozen++
		}
	}
	return allVisible, allFrozen, nil
}

// TruncateVM drops the vm bits of heap pages at or beyond nheapPages
// the bits sharing the last vm page with the remaining heap pages are cleared, later vm pages are truncated
// see https://github.com/postgres/postgres/blob/97c61f70d1b97bdfd20dcb1f2b1be42862ec88c2/src/backend/access/heap/visibilitymap.c#L448
func (m *Manager) TruncateVM(rel common.Relation, nheapPages uint32) error {
	npages, err := m.NPages(rel, disk.ForkNumberVM)
	if err != nil {
		return err
	}
	truncPageID := vm.GetVMPageIDFromPageID(page.PageID(nheapPages))
	if uint32(truncPageID) >= npages {
		return nil
	}

	newVMPages := uint32(truncPageID)
	// the remaining heap pages share the vm page, so clear the tail bits only
	if first := vm.FirstHeapPageID(truncPageID); first != page.PageID(nheapPages) {
		bufID, err := m.readVMPage(rel, page.PageID(nheapPages), false, true)
		if err != nil {
			return err
		}
		p := m.GetPage(bufID)
		if page.IsInitialized(p) {
			for pid := page.PageID(nheapPages); vm.GetVMPageIDFromPageID(pid) == truncPageID; pid++ {
				vm.UpdateStatus(p, pid, vm.StatusInitialized)
			}
			m.MarkDirty(bufID)
		}
		m.releaseVMPage(bufID, true)
		newVMPages++
	}
	return m.TruncateRelation(rel, disk.ForkNumberVM, newVMPages)
}
