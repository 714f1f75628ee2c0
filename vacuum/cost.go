package vacuum

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

/*
Cost-based delay throttles a run so that it does not hog the disk.
every page the run visits costs costPageMiss, and the run sleeps once it has spent CostLimit,
long enough that it never spends more than CostLimit per CostDelay.
the budget is shared by the workers of a parallel run.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/commands/vacuum.c#L2057
*/
const (
	// costPageMiss is charged for each page, as if it had been read from disk (vacuum_cost_page_miss)
	costPageMiss = 10
	// DefaultCostLimit is the cost spent between sleeps (vacuum_cost_limit)
	DefaultCostLimit = 200
)

// newCostLimiter returns nil when the delay is disabled.
// the bucket starts full, so a run shorter than CostLimit never sleeps
func newCostLimiter(p Params) *rate.Limiter {
	if p.CostDelay <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(p.CostLimit)/p.CostDelay.Seconds()), p.CostLimit)
}

// delayPoint is called once per page of the heap scan, the heap vacuum, and the truncation scan
func (rc RunContext) delayPoint(ctx context.Context) error {
	if rc.costLimiter == nil {
		return ctx.Err()
	}
	if err := rc.costLimiter.WaitN(ctx, costPageMiss); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.Wrap(err, "costLimiter.WaitN failed")
	}
	return nil
}
