package am

import (
	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
)

// ErrTupleNotFound is returned when the tid points to nothing
var ErrTupleNotFound = errors.New("tuple not found")

// HeapFetch returns a copy of the tuple which tid points to
// a redirected slot (root of a pruned HOT chain) is followed to the tuple it points to.
// visibility is not checked.
// https://github.com/postgres/postgres/blob/63c844a0a5d70cdbd6ae0470d582d39e75ad8d66/src/backend/access/heap/heapam.c#L1550
func (m *Manager) HeapFetch(rel common.Relation, tid tuple.Tid) (tuple.TupleByte, error) {
	bufID, err := m.bm.ReadBuffer(rel, disk.ForkNumberMain, tid.PageID())
	if err != nil {
		return nil, errors.Wrap(err, "ReadBuffer failed")
	}
	defer m.bm.ReleaseBuffer(bufID)
	m.bm.AcquireContentLock(bufID, false)
	defer m.bm.ReleaseContentLock(bufID, false)

	p := m.bm.GetPage(bufID)
	idx := tid.SlotIndex()
	if nidx := page.GetNSlotIndex(p); nidx == page.InvalidSlotIndex || idx > nidx {
		return nil, errors.Wrapf(ErrTupleNotFound, "tid %s", tid)
	}
	slot, err := page.GetSlot(p, idx)
	if err != nil {
		return nil, errors.Wrap(err, "page.GetSlot failed")
	}
	if page.IsRedirected(slot) {
		idx = page.GetRedirect(slot)
	}
	item, err := page.GetItem(p, idx)
	if err != nil {
		return nil, errors.Wrapf(ErrTupleNotFound, "tid %s", tid)
	}
	tup := make(tuple.TupleByte, len(item))
	copy(tup, item)
	return tup, nil
}
