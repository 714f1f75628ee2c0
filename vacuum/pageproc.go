package vacuum

import (
	"context"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/am"
	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/buffer"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
	"github.com/HayatoShiba/ppvacuum/storage/vm"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
	"github.com/HayatoShiba/ppvacuum/wal"
)

// pageResult tells the caller what to record into free space map after the page lock is released
type pageResult struct {
	freeSpace   int
	recordSpace bool
}

/*
scanPage processes one page of the heap scan.

cleanup lock is needed to prune the page. when it is not available right away,
a non-aggressive run skips the page, since another vacuum will visit it.
an aggressive run must not leave unfrozen tuples, so it checks the page with shared lock
and waits for cleanup lock only if some tuple needs freezing.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L1010-L1090
*/
func (w *worker) scanPage(ctx context.Context, pid page.PageID, allVisibleAccordingToVM bool) error {
	bm := w.m.bm
	bufID, err := bm.ReadBuffer(w.rc.Rel, disk.ForkNumberMain, pid)
	if err != nil {
		return errors.Wrap(err, "bm.ReadBuffer failed")
	}
	defer bm.ReleaseBuffer(bufID)

	if !bm.ConditionalLockForCleanup(bufID) {
		locked, err := w.waitCleanupLock(ctx, bufID, pid)
		if err != nil || !locked {
			return err
		}
	}

	res, err := w.processPage(bufID, pid, allVisibleAccordingToVM)
	bm.ReleaseContentLock(bufID, true)
	if err != nil {
		return err
	}
	if res.recordSpace {
		if err := w.m.fsm.RecordFreeSpace(w.rc.Rel, pid, res.freeSpace); err != nil {
			return errors.Wrap(err, "fsm.RecordFreeSpace failed")
		}
	}
	return nil
}

// waitCleanupLock is called when cleanup lock was not available.
// it returns true with cleanup lock held, or false when the page is skipped
func (w *worker) waitCleanupLock(ctx context.Context, bufID buffer.BufferID, pid page.PageID) (bool, error) {
	bm := w.m.bm
	if !w.rc.Aggressive && !w.forceCheck(pid) {
		w.stats.PinSkippedPages++
		w.rc.verbosef("skipping page %d: cleanup lock not available", pid)
		return false, nil
	}

	bm.AcquireContentLock(bufID, false)
	needs, hasTuple, err := needsFreeze(bm.GetPage(bufID), w.rc.FreezeLimit)
	bm.ReleaseContentLock(bufID, false)
	if err != nil {
		return false, err
	}
	if !needs {
		// nothing to freeze. the page has been scanned as far as freezing is concerned
		w.stats.ScannedPages++
		w.stats.PinSkippedPages++
		if hasTuple {
			w.stats.NonemptyPages = uint32(pid) + 1
		}
		return false, nil
	}
	if !w.rc.Aggressive {
		// the last page checked for truncation
		w.stats.PinSkippedPages++
		if hasTuple {
			w.stats.NonemptyPages = uint32(pid) + 1
		}
		return false, nil
	}

	if err := bm.LockForCleanup(ctx, bufID); err != nil {
		return false, errors.Wrap(err, "bm.LockForCleanup failed")
	}
	return true, nil
}

// needsFreeze checks whether any tuple on the page needs freezing, and whether the page has any used slot
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L2230
func needsFreeze(p page.PagePtr, freezeLimit txid.TxID) (needs bool, hasTuple bool, err error) {
	if page.IsNew(p) || page.IsEmpty(p) {
		return false, false, nil
	}
	nidx := page.GetNSlotIndex(p)
	for idx := page.FirstSlotIndex; nidx != page.InvalidSlotIndex && idx <= nidx; idx++ {
		slot, err := page.GetSlot(p, idx)
		if err != nil {
			return false, false, errors.Wrap(err, "page.GetSlot failed")
		}
		if page.IsUnused(slot) {
			continue
		}
		hasTuple = true
		if !page.IsNormal(slot) {
			continue
		}
		item, err := page.GetItem(p, idx)
		if err != nil {
			return false, false, errors.Wrap(err, "page.GetItem failed")
		}
		if tuple.NeedsFreeze(tuple.TupleByte(item), freezeLimit) {
			return true, hasTuple, nil
		}
	}
	return false, hasTuple, nil
}

// processPage does the work of heap scan on the page. the caller holds cleanup lock
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L1092-L1370
func (w *worker) processPage(bufID buffer.BufferID, pid page.PageID, allVisibleAccordingToVM bool) (pageResult, error) {
	bm := w.m.bm
	p := bm.GetPage(bufID)
	w.stats.ScannedPages++

	if page.IsNew(p) {
		// an extension of the relation crashed before the page was initialized
		w.rc.logger.WithField("page", pid).Warn("relation page is uninitialized, fixing")
		page.InitializePage(p, 0)
		bm.MarkDirty(bufID)
		w.stats.EmptyPages++
		return pageResult{freeSpace: page.HeapFreeSpace(p), recordSpace: true}, nil
	}

	if page.IsEmpty(p) {
		w.stats.EmptyPages++
		if !page.IsAllVisible(p) {
			bm.MarkDirty(bufID)
			// the page may have been initialized without wal
			if page.GetLSN(p) == common.InvalidWALRecordPtr {
				if err := w.logPage(p, wal.NewPageRecord(w.rc.Rel, pid, p)); err != nil {
					return pageResult{}, err
				}
			}
			page.SetAllVisible(p)
			if err := w.setVisibilityMap(p, pid, txid.InvalidTxID, vm.StatusAllVisible|vm.StatusAllFrozen); err != nil {
				return pageResult{}, err
			}
		}
		return pageResult{freeSpace: page.HeapFreeSpace(p), recordSpace: true}, nil
	}

	pruned, err := w.m.heap.HeapPagePrune(p, w.rc.OldestXmin)
	if err != nil {
		return pageResult{}, errors.Wrap(err, "heap.HeapPagePrune failed")
	}
	if pruned.Changed() {
		bm.MarkDirty(bufID)
		redirected := make([][2]page.SlotIndex, 0, len(pruned.Redirected))
		for _, rd := range pruned.Redirected {
			redirected = append(redirected, [2]page.SlotIndex{rd.From, rd.To})
		}
		rec := wal.CleanRecord(w.rc.Rel, pid, pruned.LatestRemovedXid, redirected, pruned.NowDead, pruned.NowUnused)
		if err := w.logPage(p, rec); err != nil {
			return pageResult{}, err
		}
	}
	w.stats.TuplesDeleted += float64(pruned.NDeleted)
	w.stats.advanceLatestRemovedXid(pruned.LatestRemovedXid)

	prevDead := w.store.Len()
	scan, err := w.classifyTuples(p, pid)
	if err != nil {
		return pageResult{}, err
	}
	// hint bits may have been set
	bm.MarkDirty(bufID)

	if len(scan.freeze) > 0 {
		if err := w.freezePage(p, pid, scan.freeze); err != nil {
			return pageResult{}, err
		}
	}

	// without indexes, dead tuples can be removed right away
	if !w.hasIndexes() && w.store.Len() > 0 {
		if err := w.vacuumPage(bufID, pid, w.store.tids); err != nil {
			return pageResult{}, err
		}
		scan.hasDeadTuples = false
		w.store.Clear()
		w.stats.VacuumedPages++
	}

	freeSpace := page.HeapFreeSpace(p)
	if err := w.updateVisibility(bufID, p, pid, scan, allVisibleAccordingToVM); err != nil {
		return pageResult{}, err
	}

	if scan.hasTuple {
		w.stats.NonemptyPages = uint32(pid) + 1
	}
	// pages with dead tuples are recorded after the heap vacuum
	return pageResult{freeSpace: freeSpace, recordSpace: w.store.Len() == prevDead}, nil
}

// pageScan is what classifyTuples found on the page
type pageScan struct {
	allVisible    bool
	allFrozen     bool
	hasTuple      bool
	hasDeadTuples bool
	// visibilityCutoff is the newest xmin of the live tuples
	visibilityCutoff txid.TxID
	freeze           []tuple.FreezePlan
}

// classifyTuples checks every slot, records dead tuples into the store and prepares freezing
func (w *worker) classifyTuples(p page.PagePtr, pid page.PageID) (pageScan, error) {
	scan := pageScan{allVisible: true, allFrozen: true, visibilityCutoff: txid.InvalidTxID}
	nidx := page.GetNSlotIndex(p)
	for idx := page.FirstSlotIndex; nidx != page.InvalidSlotIndex && idx <= nidx; idx++ {
		slot, err := page.GetSlot(p, idx)
		if err != nil {
			return pageScan{}, errors.Wrap(err, "page.GetSlot failed")
		}
		if page.IsUnused(slot) {
			w.stats.UnusedTuples++
			continue
		}
		tid := tuple.NewTid(pid, idx)
		// a redirect has to stay as long as the chain it points to
		if page.IsRedirected(slot) {
			scan.hasTuple = true
			continue
		}
		// dead slots left by pruning. their index entries have to be removed
		if page.IsDead(slot) {
			w.recordDeadTuple(tid)
			scan.allVisible = false
			continue
		}

		item, err := page.GetItem(p, idx)
		if err != nil {
			return pageScan{}, errors.Wrap(err, "page.GetItem failed")
		}
		tup := tuple.TupleByte(item)
		removable := false

		switch res := w.m.oracle.SatisfiesVacuum(tup, w.rc.OldestXmin); res {
		case am.HeapTupleDead:
			// pruning leaves chain members it could not remove, e.g. the xmax aborted after the check.
			// keep them and let the next vacuum handle them
			if tup.IsHotUpdated() || tup.IsHeapOnly() {
				w.stats.NewDeadTuples++
			} else {
				removable = true
			}
			scan.allVisible = false
		case am.HeapTupleLive:
			if scan.allVisible && !tup.XminFrozen() {
				// xmin has to be older than every running transaction to be visible to all of them
				xmin := tup.Xmin()
				if !tup.XminCommitted() || !xmin.IsPrecedes(w.rc.OldestXmin) {
					scan.allVisible = false
					break
				}
				if xmin.IsNormal() && (scan.visibilityCutoff == txid.InvalidTxID || xmin.IsFollows(scan.visibilityCutoff)) {
					scan.visibilityCutoff = xmin
				}
			}
		case am.HeapTupleRecentlyDead:
			w.stats.NewDeadTuples++
			scan.allVisible = false
		case am.HeapTupleInsertInProgress, am.HeapTupleDeleteInProgress:
			scan.allVisible = false
		default:
			return pageScan{}, errors.Wrapf(ErrUnexpectedVisibility, "tuple %s: %s", tid, res)
		}

		if removable {
			w.recordDeadTuple(tid)
			if tup.XmaxCommitted() {
				w.stats.advanceLatestRemovedXid(tup.Xmax())
			}
			w.stats.TuplesDeleted++
			scan.hasDeadTuples = true
			continue
		}

		w.stats.ScannedTuples++
		scan.hasTuple = true
		plan, changed, totallyFrozen := tuple.PrepareFreeze(tup, idx, w.rc.FreezeLimit)
		if changed {
			scan.freeze = append(scan.freeze, plan)
		}
		if !totallyFrozen {
			scan.allFrozen = false
		}
	}
	return scan, nil
}

// recordDeadTuple adds the tid to the store. tids which do not fit are left for the next vacuum
func (w *worker) recordDeadTuple(tid tuple.Tid) {
	if !w.store.Record(tid) {
		w.rc.verbosef("dead tuple store is full, leaving %s", tid)
	}
}

// freezePage applies the freeze plans and logs them with one record
// every tuple is looked up before any of them is modified, so the page is frozen entirely or not at all
func (w *worker) freezePage(p page.PagePtr, pid page.PageID, plans []tuple.FreezePlan) error {
	tups := make([]tuple.TupleByte, 0, len(plans))
	for _, plan := range plans {
		item, err := page.GetItem(p, plan.Slot)
		if err != nil {
			return errors.Wrap(err, "page.GetItem failed")
		}
		tups = append(tups, tuple.TupleByte(item))
	}
	for i, plan := range plans {
		tuple.ExecuteFreeze(tups[i], plan)
	}
	return w.logPage(p, wal.FreezeRecord(w.rc.Rel, pid, w.rc.FreezeLimit, plans))
}

/*
updateVisibility keeps visibility map and the page flag consistent with what the scan found.
- the page turned all-visible: set the page flag and vm bits
- vm says all-visible but the page flag is not set: vm is wrong, clear it
- the page flag is set although dead tuples were found: clear both
- the page is all-frozen now but vm says only all-visible: set all-frozen bit
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L1270-L1350
*/
func (w *worker) updateVisibility(bufID buffer.BufferID, p page.PagePtr, pid page.PageID, scan pageScan, allVisibleAccordingToVM bool) error {
	bm := w.m.bm
	if scan.allVisible && !allVisibleAccordingToVM {
		flags := vm.StatusAllVisible
		if scan.allFrozen {
			flags |= vm.StatusAllFrozen
		}
		page.SetAllVisible(p)
		bm.MarkDirty(bufID)
		return w.setVisibilityMap(p, pid, scan.visibilityCutoff, flags)
	}

	status := vm.StatusInitialized
	if allVisibleAccordingToVM {
		var err error
		if status, err = bm.GetVMStatus(w.rc.Rel, pid); err != nil {
			return errors.Wrap(err, "bm.GetVMStatus failed")
		}
	}

	switch {
	case allVisibleAccordingToVM && !page.IsAllVisible(p) && vm.IsAllVisible(status):
		w.rc.logger.WithField("page", pid).Warn("page is not marked all-visible but visibility map bit is set")
		if err := bm.ClearVMStatus(w.rc.Rel, pid, vm.StatusValidBits); err != nil {
			return errors.Wrap(err, "bm.ClearVMStatus failed")
		}
	case page.IsAllVisible(p) && scan.hasDeadTuples:
		w.rc.logger.WithField("page", pid).Warn("page containing dead tuples is marked as all-visible")
		page.ClearAllVisible(p)
		bm.MarkDirty(bufID)
		if err := bm.ClearVMStatus(w.rc.Rel, pid, vm.StatusValidBits); err != nil {
			return errors.Wrap(err, "bm.ClearVMStatus failed")
		}
	case allVisibleAccordingToVM && scan.allVisible && scan.allFrozen && !vm.IsAllFrozen(status):
		return w.setVisibilityMap(p, pid, txid.InvalidTxID, vm.StatusAllFrozen)
	}
	return nil
}

// setVisibilityMap turns on vm bits of the page. a record is logged only when the bits change
func (w *worker) setVisibilityMap(p page.PagePtr, pid page.PageID, cutoff txid.TxID, flags uint8) error {
	old, err := w.m.bm.SetVMStatus(w.rc.Rel, pid, flags)
	if err != nil {
		return errors.Wrap(err, "bm.SetVMStatus failed")
	}
	if vm.Normalize(old|flags) == old {
		return nil
	}
	return w.logPage(p, wal.VisibleRecord(w.rc.Rel, pid, cutoff, flags))
}

// logPage appends the record and stamps the page with its position
func (w *worker) logPage(p page.PagePtr, rec wal.Record) error {
	ptr, err := w.m.wal.Append(rec)
	if err != nil {
		return errors.Wrap(err, "wal.Append failed")
	}
	page.SetLSN(p, ptr)
	return nil
}
