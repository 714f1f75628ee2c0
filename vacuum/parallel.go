package vacuum

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/HayatoShiba/ppvacuum/index"
)

/*
runParallel scans the heap with rc.Params.Workers workers.
the memory budget is divided among the workers. each worker
- scans pages claimed from the shared cursor, going through reclaim cycles with the others
- becomes Complete when no page is left
- cleans up its indexes after every worker is Complete
the leader writes index statistics staged by the workers after all of them return.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L560-L700
*/
func (m *Manager) runParallel(ctx context.Context, rc RunContext, base RelationVacuumStats, capacity int, indexes []index.AccessMethod) (*RelationVacuumStats, error) {
	n := rc.Params.Workers
	perWorker := max(capacity/n, tuplesPerPage)

	stores := make(deadTupleStores, n)
	for i := range stores {
		s, err := NewDeadTupleStore(perWorker)
		if err != nil {
			return nil, err
		}
		stores[i] = s
	}
	barrier := NewBarrier(n, stores.clear)
	ps := newParallelScan(base.RelPages)
	indexStats := make([]*index.BulkDeleteResult, len(indexes))
	staged := make([]stagedIndexStats, len(indexes))
	workerStats := make([]*RelationVacuumStats, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		st := &RelationVacuumStats{
			RelPages:      base.RelPages,
			OldRelPages:   base.OldRelPages,
			OldLiveTuples: base.OldLiveTuples,
		}
		workerStats[i] = st
		w := &worker{
			id:         i,
			m:          m,
			rc:         rc,
			store:      stores[i],
			stores:     stores,
			stats:      st,
			indexes:    indexes,
			indexStats: indexStats,
			staged:     staged,
			barrier:    barrier,
		}
		w.scanner = newSharedScanner(w.scanConfig(base.RelPages), ps)
		g.Go(func() error {
			return w.runParallelWorker(gctx, base, workerStats)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, st := range staged {
		if st.update {
			m.catalog.UpdateIndexStats(indexes[i].Name(), st.stats)
		}
	}
	return mergeStats(base, workerStats), nil
}

func (w *worker) runParallelWorker(ctx context.Context, base RelationVacuumStats, all []*RelationVacuumStats) error {
	log := w.rc.logger.WithField("worker", w.id)
	w.barrier.Start(w.id)
	if err := w.scanHeap(ctx); err != nil {
		return errors.Wrapf(err, "worker %d failed", w.id)
	}
	w.barrier.Complete(w.id)
	log.Debugf("worker scanned %d pages", w.stats.ScannedPages)

	if !w.hasIndexes() {
		return nil
	}
	if err := w.barrier.AwaitAllComplete(ctx); err != nil {
		return errors.Wrap(err, "barrier.AwaitAllComplete failed")
	}
	// every worker has stopped updating its stats
	merged := mergeStats(base, all)
	return w.cleanupIndexes(ctx, merged)
}
