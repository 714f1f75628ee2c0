package vacuum

import (
	"math"

	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// RelationVacuumStats is the result of a run
// each worker updates its own stats, and they are merged when the workers finish
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L117-L148
type RelationVacuumStats struct {
	// RelPages is the number of pages of the relation (after truncation when it happened)
	RelPages uint32
	// OldRelPages and OldLiveTuples are read from catalog before the run
	OldRelPages   uint32
	OldLiveTuples float64

	ScannedPages uint32
	// PinSkippedPages were not cleaned because cleanup lock was not available
	PinSkippedPages uint32
	// FrozenSkippedPages were skipped because they are all-frozen
	FrozenSkippedPages uint32
	EmptyPages         uint32
	// VacuumedPages were cleaned right after they were scanned (relation without indexes)
	VacuumedPages uint32
	// CleanedPages were cleaned in the second heap pass
	CleanedPages uint32

	// ScannedTuples is the number of live and recently dead tuples found
	ScannedTuples float64
	TuplesDeleted float64
	// NewDeadTuples is recently dead tuples which cannot be removed yet
	NewDeadTuples float64
	UnusedTuples  float64
	NewRelTuples  float64
	NewLiveTuples float64

	// NumIndexScans is the number of index vacuum cycles
	NumIndexScans int
	// NonemptyPages is the page id of the last page with tuples plus 1
	NonemptyPages uint32
	PagesRemoved  uint32

	LockWaiterDetected bool
	LatestRemovedXid   txid.TxID
}

// advanceLatestRemovedXid remembers the newest xid removed
func (s *RelationVacuumStats) advanceLatestRemovedXid(xid txid.TxID) {
	if !xid.IsNormal() {
		return
	}
	if s.LatestRemovedXid == txid.InvalidTxID || xid.IsFollows(s.LatestRemovedXid) {
		s.LatestRemovedXid = xid
	}
}

// finishScan computes the estimation after the heap scan
func (s *RelationVacuumStats) finishScan() {
	s.NewRelTuples = estimateRelTuples(s.OldRelPages, s.OldLiveTuples, s.RelPages, s.ScannedPages, s.ScannedTuples)
	s.NewLiveTuples = max(s.NewRelTuples-s.NewDeadTuples, 0)
}

// scannedAllUnfrozen reports whether every page which may have unfrozen tuples was scanned.
// only then relfrozenxid can advance
func (s *RelationVacuumStats) scannedAllUnfrozen() bool {
	return s.ScannedPages+s.FrozenSkippedPages >= s.RelPages
}

/*
estimateRelTuples estimates the number of tuples of the whole relation from the scanned pages.
the density of unscanned pages is assumed to be the one stored in catalog.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/commands/vacuum.c#L1114
*/
func estimateRelTuples(oldRelPages uint32, oldRelTuples float64, totalPages, scannedPages uint32, scannedTuples float64) float64 {
	if scannedPages >= totalPages {
		return scannedTuples
	}
	if scannedPages == 0 {
		return oldRelTuples
	}
	if oldRelPages == 0 {
		return math.Floor(scannedTuples/float64(scannedPages)*float64(totalPages) + 0.5)
	}
	oldDensity := oldRelTuples / float64(oldRelPages)
	unscanned := float64(totalPages) - float64(scannedPages)
	return math.Floor(oldDensity*unscanned + scannedTuples + 0.5)
}

// mergeStats gathers the stats of workers
// counters are summed, the frontier and the index scan count take the max
func mergeStats(base RelationVacuumStats, workers []*RelationVacuumStats) *RelationVacuumStats {
	merged := base
	for _, w := range workers {
		merged.ScannedPages += w.ScannedPages
		merged.PinSkippedPages += w.PinSkippedPages
		merged.FrozenSkippedPages += w.FrozenSkippedPages
		merged.EmptyPages += w.EmptyPages
		merged.VacuumedPages += w.VacuumedPages
		merged.CleanedPages += w.CleanedPages
		merged.ScannedTuples += w.ScannedTuples
		merged.TuplesDeleted += w.TuplesDeleted
		merged.NewDeadTuples += w.NewDeadTuples
		merged.UnusedTuples += w.UnusedTuples
		merged.NumIndexScans = max(merged.NumIndexScans, w.NumIndexScans)
		merged.NonemptyPages = max(merged.NonemptyPages, w.NonemptyPages)
		merged.LockWaiterDetected = merged.LockWaiterDetected || w.LockWaiterDetected
		merged.advanceLatestRemovedXid(w.LatestRemovedXid)
	}
	merged.finishScan()
	return &merged
}
