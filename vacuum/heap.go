package vacuum

import (
	"context"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/storage/buffer"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
	"github.com/HayatoShiba/ppvacuum/storage/vm"
	"github.com/HayatoShiba/ppvacuum/wal"
)

/*
vacuumHeap is the second heap pass: the slots of the tids in the store become unused.
index entries pointing to them have been removed already.
a page whose cleanup lock is not available right away is left as it is:
its dead slots stay and the next vacuum removes them.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L1993
*/
func (w *worker) vacuumHeap(ctx context.Context) error {
	w.m.progress.SetPhase(w.rc.Rel, ProgressVacuumHeap)
	bm := w.m.bm
	tids := w.store.tids
	npages := 0
	for i := 0; i < len(tids); {
		if err := w.rc.delayPoint(ctx); err != nil {
			return err
		}
		pid := tids[i].PageID()
		end := i
		for end < len(tids) && tids[end].PageID() == pid {
			end++
		}

		bufID, err := bm.ReadBuffer(w.rc.Rel, disk.ForkNumberMain, pid)
		if err != nil {
			return errors.Wrap(err, "bm.ReadBuffer failed")
		}
		if !bm.ConditionalLockForCleanup(bufID) {
			bm.ReleaseBuffer(bufID)
			w.rc.verbosef("skipping page %d in heap vacuum: cleanup lock not available", pid)
			i = end
			continue
		}
		err = w.vacuumPage(bufID, pid, tids[i:end])
		freeSpace := page.HeapFreeSpace(bm.GetPage(bufID))
		bm.ReleaseContentLock(bufID, true)
		bm.ReleaseBuffer(bufID)
		if err != nil {
			return err
		}
		if err := w.m.fsm.RecordFreeSpace(w.rc.Rel, pid, freeSpace); err != nil {
			return errors.Wrap(err, "fsm.RecordFreeSpace failed")
		}

		npages++
		w.stats.CleanedPages++
		w.m.progress.AddCounter(w.rc.Rel, CounterHeapBlksVacuumed, 1)
		i = end
	}
	w.rc.verbosef("removed %d row versions in %d pages", len(tids), npages)
	// make the space freed by this cycle visible to inserters while the scan goes on
	if err := w.m.fsm.Vacuum(w.rc.Rel); err != nil {
		return errors.Wrap(err, "fsm.Vacuum failed")
	}
	return nil
}

/*
vacuumPage marks the slots of the tids unused and defragments the page.
all tids must be on the page and the caller holds cleanup lock.
the page often becomes all-visible here, since dead tuples were the reason it was not.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L2090
*/
func (w *worker) vacuumPage(bufID buffer.BufferID, pid page.PageID, tids []tuple.Tid) error {
	bm := w.m.bm
	p := bm.GetPage(bufID)

	unused := make([]page.SlotIndex, 0, len(tids))
	for _, tid := range tids {
		slot, err := page.GetSlot(p, tid.SlotIndex())
		if err != nil {
			return errors.Wrap(err, "page.GetSlot failed")
		}
		page.SetUnused(slot)
		unused = append(unused, tid.SlotIndex())
	}
	if err := page.RepairFragmentation(p); err != nil {
		return errors.Wrap(err, "page.RepairFragmentation failed")
	}
	bm.MarkDirty(bufID)
	if err := w.logPage(p, wal.CleanRecord(w.rc.Rel, pid, w.stats.LatestRemovedXid, nil, nil, unused)); err != nil {
		return err
	}

	allVisible, cutoff, allFrozen, err := w.m.heap.PageIsAllVisible(p, w.rc.OldestXmin)
	if err != nil {
		return errors.Wrap(err, "heap.PageIsAllVisible failed")
	}
	if allVisible {
		page.SetAllVisible(p)
	}
	if !page.IsAllVisible(p) {
		return nil
	}

	status, err := bm.GetVMStatus(w.rc.Rel, pid)
	if err != nil {
		return errors.Wrap(err, "bm.GetVMStatus failed")
	}
	var flags uint8
	if !vm.IsAllVisible(status) {
		flags |= vm.StatusAllVisible
	}
	if allFrozen && !vm.IsAllFrozen(status) {
		flags |= vm.StatusAllFrozen
	}
	if flags == 0 {
		return nil
	}
	return w.setVisibilityMap(p, pid, cutoff, flags)
}
