package am

import (
	"context"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/buffer"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
	"github.com/HayatoShiba/ppvacuum/transaction"
)

/*
HeapDelete deletes the tuple by setting xmax with the transaction id.
the tuple is not removed physically. vacuum removes it after nobody can see it.

postgres waits for the transaction which holds xmax when it is still running.
ppvacuum returns ErrTupleUpdated instead.
https://github.com/postgres/postgres/blob/63c844a0a5d70cdbd6ae0470d582d39e75ad8d66/src/backend/access/heap/heapam.c#L2702
*/
func (m *Manager) HeapDelete(ctx context.Context, rel common.Relation, tx *transaction.Tx, tid tuple.Tid) error {
	unlock, err := m.lockRelation(ctx, rel, tx)
	if err != nil {
		return err
	}
	defer unlock()

	bufID, tup, err := m.readTupleForUpdate(rel, tid)
	if err != nil {
		return err
	}
	defer m.bm.ReleaseBuffer(bufID)
	defer m.bm.ReleaseContentLock(bufID, true)

	tup.SetXmax(tx.ID())
	p := m.bm.GetPage(bufID)
	if err := m.clearAllVisible(rel, tid.PageID(), p); err != nil {
		return err
	}
	m.bm.MarkDirty(bufID)
	return nil
}

// readTupleForUpdate returns the pinned, exclusive locked buffer and the tuple which can be updated/deleted
// on error, the buffer has been released
func (m *Manager) readTupleForUpdate(rel common.Relation, tid tuple.Tid) (buffer.BufferID, tuple.TupleByte, error) {
	bufID, err := m.bm.ReadBuffer(rel, disk.ForkNumberMain, tid.PageID())
	if err != nil {
		return buffer.InvalidBufferID, nil, errors.Wrap(err, "ReadBuffer failed")
	}
	m.bm.AcquireContentLock(bufID, true)

	release := func() {
		m.bm.ReleaseContentLock(bufID, true)
		m.bm.ReleaseBuffer(bufID)
	}
	item, err := page.GetItem(m.bm.GetPage(bufID), tid.SlotIndex())
	if err != nil {
		release()
		return buffer.InvalidBufferID, nil, errors.Wrap(err, "page.GetItem failed")
	}
	tup := tuple.TupleByte(item)
	if !m.canBeModified(tup) {
		release()
		return buffer.InvalidBufferID, nil, errors.Wrapf(ErrTupleUpdated, "tid %s", tid)
	}
	return bufID, tup, nil
}

// canBeModified checks whether nobody else has deleted or updated the tuple
// an xmax of aborted transaction is ignored
func (m *Manager) canBeModified(tup tuple.TupleByte) bool {
	if tup.XmaxInvalid() {
		return true
	}
	xmax := tup.Xmax()
	if m.tm.IsInProgress(xmax) || m.tm.IsCommitted(xmax) {
		return false
	}
	return true
}
