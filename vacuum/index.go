package vacuum

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/catalog"
	"github.com/HayatoShiba/ppvacuum/index"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
	"github.com/HayatoShiba/ppvacuum/wal"
)

// vacuumsIndex reports whether the worker bulk-deletes the index in this round
func (w *worker) vacuumsIndex(i int) bool {
	if w.barrier == nil {
		return true
	}
	return w.barrier.Owner(i) == w.id
}

// cleansUpIndex reports whether the worker cleans up the index after the scan
func (w *worker) cleansUpIndex(i int) bool {
	if w.barrier == nil {
		return true
	}
	return i%w.barrier.Workers() == w.id
}

/*
vacuumIndexes removes index entries pointing to dead tuples.
the callback looks up the stores of all workers, so each index is scanned once per cycle by one worker.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L2373
*/
func (w *worker) vacuumIndexes(ctx context.Context) error {
	w.m.progress.SetPhase(w.rc.Rel, ProgressVacuumIndexes)

	// standby has to resolve conflicts with the removed xids before index entries disappear
	if w.stats.LatestRemovedXid != txid.InvalidTxID {
		if _, err := w.m.wal.Append(wal.CleanupInfoRecord(w.rc.Rel, w.stats.LatestRemovedXid)); err != nil {
			return errors.Wrap(err, "wal.Append failed")
		}
	}

	for i, idx := range w.indexes {
		if !w.vacuumsIndex(i) {
			continue
		}
		res, err := idx.BulkDelete(ctx, w.stores.contains, w.indexStats[i])
		if err != nil {
			return errors.Wrapf(err, "BulkDelete failed on index %s", idx.Name())
		}
		w.indexStats[i] = res
		if res != nil {
			w.rc.verbosef("scanned index %s to remove %s row versions", idx.Name(), humanize.Comma(int64(res.TuplesRemoved)))
		}
	}
	w.stats.NumIndexScans++
	w.m.progress.SetCounter(w.rc.Rel, CounterIndexVacuumCount, int64(w.stats.NumIndexScans))
	return nil
}

/*
cleanupIndexes lets each index do its post-vacuum work and reports its size.
the size is written to catalog only when the index counted it exactly.
parallel workers stage it and the leader writes it after every worker is done.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L2430
*/
func (w *worker) cleanupIndexes(ctx context.Context, relStats *RelationVacuumStats) error {
	if !w.hasIndexes() {
		return nil
	}
	w.m.progress.SetPhase(w.rc.Rel, ProgressIndexCleanup)
	info := index.VacuumInfo{
		NumHeapTuples:  relStats.NewRelTuples,
		EstimatedCount: relStats.ScannedPages < relStats.RelPages,
	}
	for i, idx := range w.indexes {
		if !w.cleansUpIndex(i) {
			continue
		}
		res, err := idx.Cleanup(ctx, info, w.indexStats[i])
		if err != nil {
			return errors.Wrapf(err, "Cleanup failed on index %s", idx.Name())
		}
		if res == nil {
			continue
		}
		w.indexStats[i] = res
		w.rc.verbosef("index %s now contains %s row versions in %d pages",
			idx.Name(), humanize.Comma(int64(res.NumIndexTuples)), res.NumPages)
		if res.EstimatedCount {
			continue
		}
		st := catalog.IndexStats{RelPages: res.NumPages, RelTuples: res.NumIndexTuples}
		if w.staged != nil {
			w.staged[i] = stagedIndexStats{update: true, stats: st}
			continue
		}
		w.m.catalog.UpdateIndexStats(idx.Name(), st)
	}
	return nil
}
