package vacuum

import (
	"context"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/catalog"
	"github.com/HayatoShiba/ppvacuum/index"
	"github.com/HayatoShiba/ppvacuum/storage/page"
)

// stagedIndexStats is index statistics a parallel worker leaves for the leader to write
type stagedIndexStats struct {
	update bool
	stats  catalog.IndexStats
}

// worker is one heap scanner with its own store and stats.
// a single-process run has one worker without barrier
type worker struct {
	id      int
	m       *Manager
	rc      RunContext
	scanner blockScanner
	store   *DeadTupleStore
	// stores are the stores of all workers, including store
	stores deadTupleStores
	stats  *RelationVacuumStats

	indexes []index.AccessMethod
	// indexStats is shared by workers. an entry is written only by the worker vacuuming the index in that round
	indexStats []*index.BulkDeleteResult
	// staged is nil in single-process run
	staged  []stagedIndexStats
	barrier *Barrier
}

func (w *worker) hasIndexes() bool {
	return len(w.indexes) > 0
}

// forceCheck reports whether the page has to be scanned even when it is skippable
func (w *worker) forceCheck(pid page.PageID) bool {
	return uint32(pid)+1 == w.stats.RelPages && shouldAttemptTruncation(w.rc, w.stats)
}

func (w *worker) scanConfig(nblocks uint32) scanConfig {
	return scanConfig{
		bm:         w.m.bm,
		rc:         w.rc,
		nblocks:    nblocks,
		forceCheck: w.forceCheck,
		stats:      w.stats,
	}
}

/*
scanHeap scans the pages the scanner yields.
before a page which might not fit into the store, the store is emptied by a reclaim cycle.
the remaining dead tuples are reclaimed at the end.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L960
*/
func (w *worker) scanHeap(ctx context.Context) error {
	w.m.progress.SetPhase(w.rc.Rel, ProgressScanHeap)
	for {
		pid, allVisible, ok, err := w.scanner.next(ctx)
		if err != nil {
			return errors.Wrap(err, "scanner.next failed")
		}
		if !ok {
			break
		}
		if err := w.rc.delayPoint(ctx); err != nil {
			return err
		}
		if w.store.nearlyFull() {
			if err := w.reclaim(ctx); err != nil {
				return err
			}
			w.m.progress.SetPhase(w.rc.Rel, ProgressScanHeap)
		}
		if err := w.scanPage(ctx, pid, allVisible); err != nil {
			return errors.Wrapf(err, "scanPage failed on page %d", pid)
		}
		w.m.progress.AddCounter(w.rc.Rel, CounterHeapBlksScanned, 1)
		w.m.progress.SetCounter(w.rc.Rel, CounterNumDeadTuples, int64(w.store.Len()))
	}

	if w.store.Len() > 0 {
		return w.reclaim(ctx)
	}
	return nil
}

/*
reclaim removes the dead tuples in the store from indexes and heap.
in parallel run, workers wait for each other before and after it:
- before: every store is complete, because index vacuum looks up all of them
- after: the last worker arriving empties every store
*/
func (w *worker) reclaim(ctx context.Context) error {
	if w.barrier != nil {
		if err := w.barrier.ArrivePrepared(ctx, w.id); err != nil {
			return errors.Wrap(err, "barrier.ArrivePrepared failed")
		}
	}
	if err := w.vacuumIndexes(ctx); err != nil {
		return err
	}
	if err := w.vacuumHeap(ctx); err != nil {
		return err
	}
	if w.barrier != nil {
		if err := w.barrier.ArriveFinished(ctx, w.id); err != nil {
			return errors.Wrap(err, "barrier.ArriveFinished failed")
		}
		return nil
	}
	w.store.Clear()
	return nil
}
