package vacuum

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// DefaultMemoryBudget is the default bytes for dead tuple ids (maintenance_work_mem in postgres)
const DefaultMemoryBudget = 64 << 20

// Params are the options of one vacuum run
type Params struct {
	// MemoryBudget is the bytes available for dead tuple ids of the whole run
	MemoryBudget int
	// Aggressive makes the run scan every page which is not all-frozen
	Aggressive bool
	// DisablePageSkipping makes the run scan every page regardless of visibility map
	DisablePageSkipping bool
	// Workers is the number of goroutines scanning the heap. 1 means no parallelism
	Workers int
	// Verbose raises per-run messages from debug to info
	Verbose bool
	// Truncate allows truncating empty pages at the end of the relation
	Truncate bool
	// OldSnapshotThresholdEnabled forbids truncation, because old snapshots may read truncated pages
	OldSnapshotThresholdEnabled bool
	// CostDelay is the sleep each time the run has spent CostLimit (see cost.go). 0 disables it
	CostDelay time.Duration
	CostLimit int
}

// DefaultParams returns the parameters used by plain VACUUM
func DefaultParams() Params {
	return Params{
		MemoryBudget: DefaultMemoryBudget,
		Workers:      1,
		Truncate:     true,
		CostLimit:    DefaultCostLimit,
	}
}

func (p Params) validate() error {
	if p.MemoryBudget < 0 {
		return errors.Wrapf(ErrInvalidParams, "memory budget %d", p.MemoryBudget)
	}
	if p.Workers < 1 {
		return errors.Wrapf(ErrInvalidParams, "workers %d", p.Workers)
	}
	if p.CostDelay < 0 {
		return errors.Wrapf(ErrInvalidParams, "cost delay %s", p.CostDelay)
	}
	if p.CostDelay > 0 && p.CostLimit < costPageMiss {
		return errors.Wrapf(ErrInvalidParams, "cost limit %d is below the cost of one page", p.CostLimit)
	}
	return nil
}

/*
Horizons are the transaction id cutoffs computed by the caller.
- OldestXmin: tuples deleted by transactions before it are dead for everyone
- FreezeLimit: xmin older than it is frozen
- FullScanLimit: when relfrozenxid is at or before it, the run becomes aggressive. InvalidTxID disables it
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/commands/vacuum.c#L863
*/
type Horizons struct {
	OldestXmin    txid.TxID
	FreezeLimit   txid.TxID
	FullScanLimit txid.TxID
}

// RunContext is built once per run and copied into every worker
type RunContext struct {
	Rel         common.Relation
	Params      Params
	OldestXmin  txid.TxID
	FreezeLimit txid.TxID
	// Aggressive is true when requested or when relfrozenxid is old enough to risk wraparound
	Aggressive bool

	logger *log.Entry
	// costLimiter is nil unless CostDelay is set
	costLimiter *rate.Limiter
}

func newRunContext(rel common.Relation, params Params, h Horizons, relFrozenXid txid.TxID, logger *log.Entry) RunContext {
	aggressive := params.Aggressive || params.DisablePageSkipping
	if h.FullScanLimit.IsNormal() && relFrozenXid.IsNormal() && relFrozenXid.IsPrecedesOrEquals(h.FullScanLimit) {
		aggressive = true
	}
	return RunContext{
		Rel:         rel,
		Params:      params,
		OldestXmin:  h.OldestXmin,
		FreezeLimit: h.FreezeLimit,
		Aggressive:  aggressive,
		logger:      logger.WithField("rel", rel),
		costLimiter: newCostLimiter(params),
	}
}

// verbosef logs at info level for VERBOSE runs, otherwise at debug
func (rc RunContext) verbosef(format string, args ...interface{}) {
	if rc.Params.Verbose {
		rc.logger.Infof(format, args...)
		return
	}
	rc.logger.Debugf(format, args...)
}
