package am

import (
	"context"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
	"github.com/HayatoShiba/ppvacuum/transaction"
)

/*
HeapUpdate replaces the tuple with a new version holding data, and returns the tid of the new version.
the process is `delete the old tuple` and `insert new tuple`, and the old tuple's ctid points to the new one.
this results in `version chain` (so-called in CMU database lecture).

when the new version fits in the same page, the update is HOT (heap only tuple):
the old version is marked hot-updated and the new one heap-only.
indexes keep pointing to the root of the chain, so the caller does not insert index entries (hot is true).
pruning can later collapse the chain inside the page without touching indexes.

when it does not fit, the new version goes to another page and the caller has to insert index entries for it.
xmax of the old version is set first, so that nobody else can update it while the new version is placed.

https://github.com/postgres/postgres/blob/63c844a0a5d70cdbd6ae0470d582d39e75ad8d66/src/backend/access/heap/heapam.c#L3161
*/
func (m *Manager) HeapUpdate(ctx context.Context, rel common.Relation, tx *transaction.Tx, tid tuple.Tid, data []byte) (newTid tuple.Tid, hot bool, err error) {
	unlock, err := m.lockRelation(ctx, rel, tx)
	if err != nil {
		return tuple.InvalidTid, false, err
	}
	defer unlock()

	bufID, oldTup, err := m.readTupleForUpdate(rel, tid)
	if err != nil {
		return tuple.InvalidTid, false, err
	}
	p := m.bm.GetPage(bufID)
	newTup := tuple.NewTuple(tx.ID(), data)

	if page.HeapFreeSpace(p) >= len(newTup) {
		defer m.bm.ReleaseBuffer(bufID)
		defer m.bm.ReleaseContentLock(bufID, true)

		newTid, err := insertTuple(p, newTup, tid.PageID())
		if err != nil {
			return tuple.InvalidTid, false, errors.Wrap(err, "insertTuple failed")
		}
		oldTup.SetXmax(tx.ID())
		oldTup.SetCtid(newTid)
		oldTup.SetHotUpdated()
		newItem, err := page.GetItem(p, newTid.SlotIndex())
		if err != nil {
			return tuple.InvalidTid, false, errors.Wrap(err, "page.GetItem failed")
		}
		tuple.TupleByte(newItem).SetHeapOnly()

		if err := m.clearAllVisible(rel, tid.PageID(), p); err != nil {
			return tuple.InvalidTid, false, err
		}
		m.bm.MarkDirty(bufID)
		return newTid, true, nil
	}

	// claim the old version, then place the new one in another page
	oldTup.SetXmax(tx.ID())
	if err := m.clearAllVisible(rel, tid.PageID(), p); err != nil {
		m.bm.ReleaseContentLock(bufID, true)
		m.bm.ReleaseBuffer(bufID)
		return tuple.InvalidTid, false, err
	}
	m.bm.MarkDirty(bufID)
	m.bm.ReleaseContentLock(bufID, true)

	newBufID, newPageID, err := m.getBufferForInsert(rel, len(newTup))
	if err != nil {
		m.bm.ReleaseBuffer(bufID)
		return tuple.InvalidTid, false, errors.Wrap(err, "getBufferForInsert failed")
	}
	newP := m.bm.GetPage(newBufID)
	newTid, err = insertTuple(newP, newTup, newPageID)
	if err == nil {
		err = m.clearAllVisible(rel, newPageID, newP)
	}
	m.bm.MarkDirty(newBufID)
	m.bm.ReleaseContentLock(newBufID, true)
	m.bm.ReleaseBuffer(newBufID)
	if err != nil {
		m.bm.ReleaseBuffer(bufID)
		return tuple.InvalidTid, false, errors.Wrap(err, "insertTuple failed")
	}

	// link the old version to the new one
	m.bm.AcquireContentLock(bufID, true)
	defer m.bm.ReleaseBuffer(bufID)
	defer m.bm.ReleaseContentLock(bufID, true)
	item, err := page.GetItem(p, tid.SlotIndex())
	if err != nil {
		return tuple.InvalidTid, false, errors.Wrap(err, "page.GetItem failed")
	}
	tuple.TupleByte(item).SetCtid(newTid)
	m.bm.MarkDirty(bufID)
	return newTid, false, nil
}
