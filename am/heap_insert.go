package am

import (
	"context"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/buffer"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
	"github.com/HayatoShiba/ppvacuum/storage/vm"
	"github.com/HayatoShiba/ppvacuum/transaction"
)

// maxTupleSize is the size of tuple which fits in an empty page with one slot
const maxTupleSize = page.PageSize - page.HeaderSize - 4

/*
HeapInsert inserts the data as a new tuple of the transaction and returns its tid
- search free space map for a page with enough space
  - if free space map knows none, try the last page
  - if no page has enough space, extend the relation
- add the tuple to the page under exclusive content lock
- clear all-visible of the page and the visibility map, because the new tuple is not visible to everyone yet
- mark buffer dirty

https://github.com/postgres/postgres/blob/8e1db29cdbbd218ab6ba53eea56624553c3bef8c/src/backend/access/heap/heapam_handler.c#L241
*/
func (m *Manager) HeapInsert(ctx context.Context, rel common.Relation, tx *transaction.Tx, data []byte) (tuple.Tid, error) {
	unlock, err := m.lockRelation(ctx, rel, tx)
	if err != nil {
		return tuple.InvalidTid, err
	}
	defer unlock()

	tup := tuple.NewTuple(tx.ID(), data)
	bufID, pageID, err := m.getBufferForInsert(rel, len(tup))
	if err != nil {
		return tuple.InvalidTid, errors.Wrap(err, "getBufferForInsert failed")
	}
	defer m.bm.ReleaseBuffer(bufID)
	defer m.bm.ReleaseContentLock(bufID, true)

	p := m.bm.GetPage(bufID)
	tid, err := insertTuple(p, tup, pageID)
	if err != nil {
		return tuple.InvalidTid, errors.Wrap(err, "insertTuple failed")
	}
	if err := m.clearAllVisible(rel, pageID, p); err != nil {
		return tuple.InvalidTid, err
	}
	m.bm.MarkDirty(bufID)
	return tid, nil
}

// clearAllVisible clears all-visible of the page and its visibility map bits
// the caller holds exclusive content lock
func (m *Manager) clearAllVisible(rel common.Relation, pageID page.PageID, p page.PagePtr) error {
	if !page.IsAllVisible(p) {
		return nil
	}
	page.ClearAllVisible(p)
	if err := m.bm.ClearVMStatus(rel, pageID, vm.StatusAllVisible); err != nil {
		return errors.Wrap(err, "ClearVMStatus failed")
	}
	return nil
}

// getBufferForInsert gets buffer for insertion of the tuple
// this returns pinned and exclusive content locked buffer
// https://github.com/postgres/postgres/blob/2dc2e4e31adb71502074c8c2bf9e0766347aa6e5/src/backend/access/heap/hio.c#L333
func (m *Manager) getBufferForInsert(rel common.Relation, tupleSize int) (buffer.BufferID, page.PageID, error) {
	if tupleSize > maxTupleSize {
		return buffer.InvalidBufferID, page.InvalidPageID, errors.Wrapf(ErrTupleTooLarge, "size %d", tupleSize)
	}
	triedLast := false
	for {
		pageID, err := m.fsm.SearchPageIDWithFreeSpaceSize(rel, tupleSize)
		if err != nil {
			return buffer.InvalidBufferID, page.InvalidPageID, errors.Wrap(err, "SearchPageIDWithFreeSpaceSize failed")
		}
		if pageID == page.InvalidPageID && !triedLast {
			// free space map knows nothing about pages filled by insertion. try the last page once
			triedLast = true
			npages, err := m.bm.NPages(rel, disk.ForkNumberMain)
			if err != nil {
				return buffer.InvalidBufferID, page.InvalidPageID, errors.Wrap(err, "NPages failed")
			}
			if npages > 0 {
				pageID = page.PageID(npages - 1)
			}
		}

		var bufID buffer.BufferID
		if pageID == page.InvalidPageID {
			// no page has enough free space, so extend the relation
			bufID, pageID, err = m.bm.ExtendRelation(rel, disk.ForkNumberMain)
			if err != nil {
				return buffer.InvalidBufferID, page.InvalidPageID, errors.Wrap(err, "ExtendRelation failed")
			}
		} else {
			bufID, err = m.bm.ReadBuffer(rel, disk.ForkNumberMain, pageID)
			if err != nil {
				return buffer.InvalidBufferID, page.InvalidPageID, errors.Wrap(err, "ReadBuffer failed")
			}
		}
		m.bm.AcquireContentLock(bufID, true)

		p := m.bm.GetPage(bufID)
		if page.IsNew(p) {
			page.InitializePage(p, 0)
			m.bm.MarkDirty(bufID)
		}
		free := page.HeapFreeSpace(p)
		if free >= tupleSize {
			return bufID, pageID, nil
		}
		// free space map was out of date. correct it and search again
		m.bm.ReleaseContentLock(bufID, true)
		m.bm.ReleaseBuffer(bufID)
		if err := m.fsm.RecordFreeSpace(rel, pageID, free); err != nil {
			return buffer.InvalidBufferID, page.InvalidPageID, errors.Wrap(err, "RecordFreeSpace failed")
		}
	}
}

// insertTuple adds the tuple to the page and sets its ctid to itself
// https://github.com/postgres/postgres/blob/2dc2e4e31adb71502074c8c2bf9e0766347aa6e5/src/backend/access/heap/hio.c#L36
func insertTuple(p page.PagePtr, tup tuple.TupleByte, pageID page.PageID) (tuple.Tid, error) {
	idx, err := page.AddHeapItem(p, page.ItemPtr(tup), page.InvalidSlotIndex)
	if err != nil {
		return tuple.InvalidTid, errors.Wrap(err, "page.AddHeapItem failed")
	}
	tid := tuple.NewTid(pageID, idx)
	item, err := page.GetItem(p, idx)
	if err != nil {
		return tuple.InvalidTid, errors.Wrap(err, "page.GetItem failed")
	}
	tuple.TupleByte(item).SetCtid(tid)
	return tid, nil
}
