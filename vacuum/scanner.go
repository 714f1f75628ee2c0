/*
Heap scanner decides which pages the heap scan visits.

Pages marked all-visible in visibility map (all-frozen in aggressive run) have nothing to clean and can be skipped.
- exclusive scanner: one goroutine scans the relation in order. skippable pages are skipped only in runs of
  at least skipPagesThreshold pages, because skipping a few pages defeats sequential read-ahead
  and a scanned page may let relfrozenxid advance.
- shared scanner: parallel workers claim pages one by one from a shared cursor and check each page on its own.

in both modes the last page is visited when truncation might happen,
so that AccessExclusive lock is not taken only to find the last page is not empty.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L836-L935
*/
package vacuum

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/storage/buffer"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/vm"
)

// skipPagesThreshold is the minimum length of skippable pages to skip
const skipPagesThreshold = 32

// blockScanner yields the next page to scan.
// allVisible is whether visibility map said the page is all-visible when it was checked
type blockScanner interface {
	next(ctx context.Context) (pid page.PageID, allVisible bool, ok bool, err error)
}

// scanConfig is shared by both scanners
type scanConfig struct {
	bm      *buffer.Manager
	rc      RunContext
	nblocks uint32
	// forceCheck reports whether the page must be scanned anyway
	forceCheck func(pid page.PageID) bool
	stats      *RelationVacuumStats
}

func (sc *scanConfig) vmStatus(pid page.PageID) (uint8, error) {
	status, err := sc.bm.GetVMStatus(sc.rc.Rel, pid)
	if err != nil {
		return 0, errors.Wrap(err, "bm.GetVMStatus failed")
	}
	return status, nil
}

// skippable checks the visibility map bit the run relies on
func (sc *scanConfig) skippable(pid page.PageID) (bool, error) {
	status, err := sc.vmStatus(pid)
	if err != nil {
		return false, err
	}
	if sc.rc.Aggressive {
		return vm.IsAllFrozen(status), nil
	}
	return vm.IsAllVisible(status), nil
}

type exclusiveScanner struct {
	scanConfig
	cur             page.PageID
	nextUnskippable page.PageID
	skipping        bool
	started         bool
}

func newExclusiveScanner(sc scanConfig) *exclusiveScanner {
	return &exclusiveScanner{scanConfig: sc}
}

// advance returns the first page at or after from which cannot be skipped
func (s *exclusiveScanner) advance(ctx context.Context, from page.PageID) (page.PageID, error) {
	if s.rc.Params.DisablePageSkipping {
		return from, nil
	}
	for uint32(from) < s.nblocks {
		if err := ctx.Err(); err != nil {
			return from, err
		}
		ok, err := s.skippable(from)
		if err != nil {
			return from, err
		}
		if !ok {
			break
		}
		from++
	}
	return from, nil
}

func (s *exclusiveScanner) next(ctx context.Context) (page.PageID, bool, bool, error) {
	if !s.started {
		s.started = true
		nu, err := s.advance(ctx, page.FirstPageID)
		if err != nil {
			return page.InvalidPageID, false, false, err
		}
		s.nextUnskippable = nu
		s.skipping = uint32(nu) >= skipPagesThreshold
	}

	for uint32(s.cur) < s.nblocks {
		pid := s.cur
		s.cur++

		if pid == s.nextUnskippable {
			nu, err := s.advance(ctx, pid+1)
			if err != nil {
				return page.InvalidPageID, false, false, err
			}
			s.nextUnskippable = nu
			s.skipping = uint32(nu-pid) > skipPagesThreshold

			// the page is not all-frozen but may be all-visible
			allVisible := false
			if s.rc.Aggressive {
				status, err := s.vmStatus(pid)
				if err != nil {
					return page.InvalidPageID, false, false, err
				}
				allVisible = vm.IsAllVisible(status)
			}
			return pid, allVisible, true, nil
		}

		// the page was skippable when the lookahead checked it
		if s.skipping && !s.forceCheck(pid) {
			frozen := s.rc.Aggressive
			if !frozen {
				status, err := s.vmStatus(pid)
				if err != nil {
					return page.InvalidPageID, false, false, err
				}
				frozen = vm.IsAllFrozen(status)
			}
			if frozen {
				s.stats.FrozenSkippedPages++
			}
			continue
		}
		return pid, true, true, nil
	}
	return page.InvalidPageID, false, false, nil
}

// parallelScan is the cursor shared by parallel workers
type parallelScan struct {
	next    atomic.Uint32
	nblocks uint32
}

func newParallelScan(nblocks uint32) *parallelScan {
	return &parallelScan{nblocks: nblocks}
}

// claim returns the next page nobody has claimed
func (ps *parallelScan) claim() (page.PageID, bool) {
	pid := ps.next.Add(1) - 1
	if pid >= ps.nblocks {
		return page.InvalidPageID, false
	}
	return page.PageID(pid), true
}

type sharedScanner struct {
	scanConfig
	ps *parallelScan
}

func newSharedScanner(sc scanConfig, ps *parallelScan) *sharedScanner {
	return &sharedScanner{scanConfig: sc, ps: ps}
}

func (s *sharedScanner) next(ctx context.Context) (page.PageID, bool, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return page.InvalidPageID, false, false, err
		}
		pid, ok := s.ps.claim()
		if !ok {
			return page.InvalidPageID, false, false, nil
		}
		if s.rc.Params.DisablePageSkipping {
			return pid, false, true, nil
		}
		status, err := s.vmStatus(pid)
		if err != nil {
			return page.InvalidPageID, false, false, err
		}
		skip := vm.IsAllVisible(status)
		if s.rc.Aggressive {
			skip = vm.IsAllFrozen(status)
		}
		if skip && !s.forceCheck(pid) {
			if vm.IsAllFrozen(status) {
				s.stats.FrozenSkippedPages++
			}
			continue
		}
		return pid, vm.IsAllVisible(status), true, nil
	}
}
