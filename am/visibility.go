package am

import (
	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// HTSVResult is the result of SatisfiesVacuum
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/include/access/heapam.h#L90-L97
type HTSVResult int

const (
	// HeapTupleDead means nobody can see the tuple any more
	HeapTupleDead HTSVResult = iota + 1
	// HeapTupleLive means the tuple is live or might become live
	HeapTupleLive
	// HeapTupleRecentlyDead means the tuple is dead but some transactions may still see it
	HeapTupleRecentlyDead
	// HeapTupleInsertInProgress means the inserting transaction is still running
	HeapTupleInsertInProgress
	// HeapTupleDeleteInProgress means the deleting transaction is still running
	HeapTupleDeleteInProgress
)

func (r HTSVResult) String() string {
	switch r {
	case HeapTupleDead:
		return "dead"
	case HeapTupleLive:
		return "live"
	case HeapTupleRecentlyDead:
		return "recently dead"
	case HeapTupleInsertInProgress:
		return "insert in progress"
	case HeapTupleDeleteInProgress:
		return "delete in progress"
	}
	return "unknown"
}

/*
SatisfiesVacuum determines the status of the tuple for vacuum.
oldestXmin is the cutoff: a tuple deleted by a transaction which committed before it is dead for everyone.

the commit status of xmin and xmax is cached in the tuple's hint bits once it is known,
so the caller has to mark the buffer dirty (and hold a lock on it).
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/heapam_visibility.c#L1162
*/
func (m *Manager) SatisfiesVacuum(tup tuple.TupleByte, oldestXmin txid.TxID) HTSVResult {
	if !m.xminCommitted(tup) {
		if tup.XminInvalid() {
			return HeapTupleDead
		}
		xmin := tup.Xmin()
		switch {
		case m.tm.IsInProgress(xmin):
			// the inserting transaction deleted the tuple by itself
			if !tup.XmaxInvalid() && tup.Xmax() == xmin {
				return HeapTupleDeleteInProgress
			}
			return HeapTupleInsertInProgress
		case m.tm.IsCommitted(xmin):
			tup.SetXminCommitted()
		default:
			// aborted or crashed
			tup.SetXminInvalid()
			return HeapTupleDead
		}
	}

	// xmin is committed here
	if tup.XmaxInvalid() {
		return HeapTupleLive
	}
	xmax := tup.Xmax()
	if !tup.XmaxCommitted() {
		switch {
		case m.tm.IsInProgress(xmax):
			return HeapTupleDeleteInProgress
		case m.tm.IsCommitted(xmax):
			tup.SetXmaxCommitted()
		default:
			// the deleter aborted
			tup.SetXmaxInvalid()
			return HeapTupleLive
		}
	}

	// deleted by committed transaction. the tuple is dead if no one can see it
	if !xmax.IsPrecedes(oldestXmin) {
		return HeapTupleRecentlyDead
	}
	return HeapTupleDead
}

// xminCommitted checks hint bits and special transaction ids
func (m *Manager) xminCommitted(tup tuple.TupleByte) bool {
	return tup.XminCommitted() || tup.XminFrozen() || tup.Xmin() == txid.BootstrapTxID
}

/*
PageIsAllVisible checks whether every tuple on the page is visible to everyone.
it returns
- allVisible: no dead slot and every tuple is live with xmin older than oldestXmin
- cutoffXid: the newest xmin of the tuples, which is the visibility cutoff of the page
- allFrozen: every tuple is totally frozen (meaningful only when allVisible)
this is used after the page is cleaned in the second heap pass.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L2906
*/
func (m *Manager) PageIsAllVisible(p page.PagePtr, oldestXmin txid.TxID) (allVisible bool, cutoffXid txid.TxID, allFrozen bool, err error) {
	allVisible, allFrozen = true, true
	cutoffXid = txid.InvalidTxID

	nidx := page.GetNSlotIndex(p)
	if nidx == page.InvalidSlotIndex {
		return allVisible, cutoffXid, allFrozen, nil
	}
	for idx := page.FirstSlotIndex; idx <= nidx && allVisible; idx++ {
		slot, err := page.GetSlot(p, idx)
		if err != nil {
			return false, txid.InvalidTxID, false, errors.Wrap(err, "page.GetSlot failed")
		}
		if page.IsUnused(slot) || page.IsRedirected(slot) {
			continue
		}
		if page.IsDead(slot) {
			allVisible, allFrozen = false, false
			break
		}
		item, err := page.GetItem(p, idx)
		if err != nil {
			return false, txid.InvalidTxID, false, errors.Wrap(err, "page.GetItem failed")
		}
		tup := tuple.TupleByte(item)
		if m.SatisfiesVacuum(tup, oldestXmin) != HeapTupleLive {
			allVisible, allFrozen = false, false
			break
		}
		xmin := tup.Xmin()
		if !tup.XminFrozen() {
			if !xmin.IsPrecedes(oldestXmin) {
				allVisible, allFrozen = false, false
				break
			}
			if xmin.IsNormal() && (cutoffXid == txid.InvalidTxID || xmin.IsFollows(cutoffXid)) {
				cutoffXid = xmin
			}
		}
		if allFrozen && !tuple.IsTotallyFrozen(tup) {
			allFrozen = false
		}
	}
	return allVisible, cutoffXid, allFrozen, nil
}
