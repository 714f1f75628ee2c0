/*
Freezing rewrites the transaction markers of old tuples so that they are never
compared with new transaction ids again (see txid package about wraparound).

Vacuum freezes a page in two steps:
- PrepareFreeze decides, tuple by tuple, what has to change. nothing is written yet.
- ExecuteFreeze applies the plans to the page inside one wal-logged critical section.
so a page is either entirely frozen as planned or not touched at all.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/heapam.c#L6378
*/
package tuple

import (
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// FreezePlan describes the change for one tuple
type FreezePlan struct {
	// Slot is the slot index of the tuple
	Slot page.SlotIndex
	// FreezeXmin marks xmin frozen
	FreezeXmin bool
	// ClearXmax resets an aborted xmax older than the cutoff
	ClearXmax bool
}

/*
PrepareFreeze checks whether the tuple has to be frozen with cutoff (the freeze limit).
- xmin older than the cutoff is frozen. only committed xmin reaches here (live or recently dead tuples)
- xmax older than the cutoff is cleared if it never committed
it returns the plan, whether the plan changes anything,
and whether the tuple will be totally frozen after the plan is executed.
*/
func PrepareFreeze(t TupleByte, slot page.SlotIndex, cutoff txid.TxID) (FreezePlan, bool, bool) {
	plan := FreezePlan{Slot: slot}
	xminFrozenAfter := t.XminFrozen()
	xmaxClearAfter := t.Xmax() == txid.InvalidTxID

	xmin := t.Xmin()
	if !t.XminFrozen() && xmin.IsNormal() && xmin.IsPrecedes(cutoff) {
		plan.FreezeXmin = true
		xminFrozenAfter = true
	}

	xmax := t.Xmax()
	if xmax.IsNormal() && xmax.IsPrecedes(cutoff) && !t.XmaxCommitted() {
		plan.ClearXmax = true
		xmaxClearAfter = true
	} else if !xmax.IsNormal() {
		xmaxClearAfter = true
	}

	changed := plan.FreezeXmin || plan.ClearXmax
	return plan, changed, xminFrozenAfter && xmaxClearAfter
}

// ExecuteFreeze applies the plan to the tuple
// the caller has to hold exclusive lock on the page and has to be inside the critical section
func ExecuteFreeze(t TupleByte, plan FreezePlan) {
	if plan.FreezeXmin {
		t.SetXminFrozen()
	}
	if plan.ClearXmax {
		t.SetXmax(txid.InvalidTxID)
	}
}

// NeedsFreeze checks whether the tuple has a transaction id older than the cutoff which has not been frozen
// this is used when vacuum only holds a shared lock and cannot prune the page
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/heapam.c#L6908
func NeedsFreeze(t TupleByte, cutoff txid.TxID) bool {
	xmin := t.Xmin()
	if !t.XminFrozen() && xmin.IsNormal() && xmin.IsPrecedes(cutoff) {
		return true
	}
	xmax := t.Xmax()
	return xmax.IsNormal() && xmax.IsPrecedes(cutoff)
}

// IsTotallyFrozen checks whether nothing is left to freeze on the tuple
func IsTotallyFrozen(t TupleByte) bool {
	return t.XminFrozen() && !t.Xmax().IsNormal()
}
