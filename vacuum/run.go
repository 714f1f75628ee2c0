package vacuum

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/HayatoShiba/ppvacuum/catalog"
	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/index"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/lmgr"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

/*
Vacuum runs lazy vacuum on the relation and its indexes, then updates the statistics in catalog.

ShareUpdateExclusive lock is held during the run: readers and writers keep working,
but another vacuum of the relation waits.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L305
*/
func (m *Manager) Vacuum(ctx context.Context, rel common.Relation, indexes []index.AccessMethod, params Params, h Horizons) (*RelationVacuumStats, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	owner := lmgr.NewOwner()
	if err := m.lm.Lock(ctx, rel, owner, lmgr.ShareUpdateExclusive); err != nil {
		return nil, errors.Wrap(err, "lm.Lock failed")
	}
	defer m.lm.Unlock(rel, owner, lmgr.ShareUpdateExclusive)

	start := time.Now()
	old, _ := m.catalog.RelationStats(rel)
	rc := newRunContext(rel, params, h, old.RelFrozenXid, m.logger)
	rc.verbosef("vacuuming relation %d (aggressive: %t)", rel, rc.Aggressive)

	nblocks, err := m.bm.NPages(rel, disk.ForkNumberMain)
	if err != nil {
		return nil, errors.Wrap(err, "bm.NPages failed")
	}
	base := RelationVacuumStats{
		RelPages:      nblocks,
		OldRelPages:   old.RelPages,
		OldLiveTuples: old.RelTuples,
	}
	capacity := MaxDeadTuples(params.MemoryBudget, len(indexes) > 0, nblocks)
	m.progress.SetCounter(rel, CounterHeapBlksTotal, int64(nblocks))
	m.progress.SetCounter(rel, CounterMaxDeadTuples, int64(capacity))

	var stats *RelationVacuumStats
	if params.Workers > 1 {
		stats, err = m.runParallel(ctx, rc, base, capacity, indexes)
	} else {
		stats, err = m.runSingle(ctx, rc, base, capacity, indexes)
	}
	if err != nil {
		return nil, err
	}

	// decided before truncation changes the number of pages
	scannedAllUnfrozen := stats.scannedAllUnfrozen()
	if shouldAttemptTruncation(rc, stats) {
		if err := m.truncateHeap(ctx, rc, owner, stats); err != nil {
			return nil, errors.Wrap(err, "truncateHeap failed")
		}
	}

	m.progress.SetPhase(rel, ProgressFinalCleanup)
	if err := m.fsm.Vacuum(rel); err != nil {
		return nil, errors.Wrap(err, "fsm.Vacuum failed")
	}
	maxFree, err := m.fsm.MaxFreeSpace(rel)
	if err != nil {
		return nil, errors.Wrap(err, "fsm.MaxFreeSpace failed")
	}
	if err := m.updateRelationStats(rc, stats, old, scannedAllUnfrozen, len(indexes) > 0); err != nil {
		return nil, err
	}
	m.logSummary(rc, stats, maxFree, time.Since(start))
	return stats, nil
}

func (m *Manager) runSingle(ctx context.Context, rc RunContext, base RelationVacuumStats, capacity int, indexes []index.AccessMethod) (*RelationVacuumStats, error) {
	store, err := NewDeadTupleStore(capacity)
	if err != nil {
		return nil, err
	}
	stats := base
	w := &worker{
		m:          m,
		rc:         rc,
		store:      store,
		stores:     deadTupleStores{store},
		stats:      &stats,
		indexes:    indexes,
		indexStats: make([]*index.BulkDeleteResult, len(indexes)),
	}
	w.scanner = newExclusiveScanner(w.scanConfig(base.RelPages))
	if err := w.scanHeap(ctx); err != nil {
		return nil, err
	}
	stats.finishScan()
	if err := w.cleanupIndexes(ctx, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

/*
updateRelationStats writes the result into catalog.
- a run which scanned no page keeps the old page and tuple counts
- relfrozenxid advances to the freeze limit only when every page which may have unfrozen tuples was scanned
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L405-L450
*/
func (m *Manager) updateRelationStats(rc RunContext, stats *RelationVacuumStats, old catalog.RelationStats, scannedAllUnfrozen, hasIndex bool) error {
	relPages := stats.RelPages
	liveTuples := stats.NewLiveTuples
	if stats.ScannedPages == 0 && relPages > 0 {
		relPages = old.RelPages
		liveTuples = old.RelTuples
	}
	allVisible, _, err := m.bm.CountVM(rc.Rel, stats.RelPages)
	if err != nil {
		return errors.Wrap(err, "bm.CountVM failed")
	}
	allVisible = min(allVisible, relPages)

	frozenXid := txid.InvalidTxID
	if scannedAllUnfrozen {
		frozenXid = rc.FreezeLimit
	}
	m.catalog.UpdateRelationStats(rc.Rel, catalog.RelationStats{
		RelPages:      relPages,
		RelTuples:     liveTuples,
		RelAllVisible: allVisible,
		RelFrozenXid:  frozenXid,
		HasIndex:      hasIndex,
	})
	return nil
}

func (m *Manager) logSummary(rc RunContext, stats *RelationVacuumStats, maxFree int, elapsed time.Duration) {
	rc.logger.WithFields(log.Fields{
		"pages_removed":    stats.PagesRemoved,
		"pages_remain":     stats.RelPages,
		"pages_scanned":    stats.ScannedPages,
		"pin_skipped":      stats.PinSkippedPages,
		"frozen_skipped":   stats.FrozenSkippedPages,
		"index_scans":      stats.NumIndexScans,
		"tuples_removed":   stats.TuplesDeleted,
		"tuples_remain":    stats.NewRelTuples,
		"tuples_dead_kept": stats.NewDeadTuples,
		"fsm_max_free":     humanize.IBytes(uint64(maxFree)),
		"elapsed":          elapsed,
	}).Infof("vacuumed relation %d: removed %s row versions, freed %s, %s row versions remain in %s pages",
		rc.Rel,
		humanize.Comma(int64(stats.TuplesDeleted)),
		humanize.IBytes(uint64(stats.PagesRemoved)*page.PageSize),
		humanize.Comma(int64(stats.NewRelTuples)),
		humanize.Comma(int64(stats.RelPages)))
}
