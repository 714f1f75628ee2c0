/*
Truncation returns empty pages at the end of the relation to the file system.

It needs AccessExclusive lock, which blocks every reader and writer of the relation,
so vacuum never waits for the lock and never holds it while somebody waits:
- the lock is tried without waiting, retried at fixed intervals, and given up after a timeout
- the backward scan checking the pages are still empty stops when a waiter shows up
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L2530-L2730
*/
package vacuum

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/lmgr"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/wal"
)

const (
	// relTruncateMinimum and relTruncateFraction decide whether truncation is worth trying
	relTruncateMinimum  = 1000
	relTruncateFraction = 16
	// waiterCheckPages is how often (in pages) the backward scan checks lock waiters
	waiterCheckPages = 32
)

// shouldAttemptTruncation checks whether enough pages at the end might be empty
func shouldAttemptTruncation(rc RunContext, stats *RelationVacuumStats) bool {
	if !rc.Params.Truncate || rc.Params.OldSnapshotThresholdEnabled {
		return false
	}
	if stats.RelPages <= stats.NonemptyPages {
		return false
	}
	freeable := stats.RelPages - stats.NonemptyPages
	return freeable >= relTruncateMinimum || freeable >= stats.RelPages/relTruncateFraction
}

// truncateHeap truncates empty pages at the end as long as it can without blocking others
func (m *Manager) truncateHeap(ctx context.Context, rc RunContext, owner lmgr.Owner, stats *RelationVacuumStats) error {
	m.progress.SetPhase(rc.Rel, ProgressTruncate)
	for {
		stats.LockWaiterDetected = false
		runBeforeTruncateLock(m)
		if err := m.lockForTruncate(ctx, rc, owner); err != nil {
			if errors.Is(err, errTruncateLockNotAvailable) {
				stats.LockWaiterDetected = true
				rc.verbosef("stopping truncate due to conflicting lock request")
				return nil
			}
			return err
		}

		newRelPages, err := m.truncateLocked(ctx, rc, stats)
		m.lm.Unlock(rc.Rel, owner, lmgr.AccessExclusive)
		if err != nil {
			return err
		}
		if newRelPages >= stats.RelPages {
			return nil
		}

		rc.verbosef("truncated %d to %d pages", stats.RelPages, newRelPages)
		stats.PagesRemoved += stats.RelPages - newRelPages
		stats.RelPages = newRelPages

		if newRelPages <= stats.NonemptyPages || stats.LockWaiterDetected {
			return nil
		}
	}
}

// lockForTruncate tries AccessExclusive lock until the timeout
func (m *Manager) lockForTruncate(ctx context.Context, rc RunContext, owner lmgr.Owner) error {
	retries := uint64(m.lockTimeout / m.lockWaitInterval)
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(m.lockWaitInterval), retries), ctx)
	return backoff.Retry(func() error {
		if m.lm.ConditionalLock(rc.Rel, owner, lmgr.AccessExclusive) {
			return nil
		}
		return errTruncateLockNotAvailable
	}, b)
}

/*
truncateLocked truncates the relation while AccessExclusive lock is held and returns the new number of pages.
the relation is not truncated when
- it has grown: new pages are assumed not to be empty
- no page at the end turns out to be empty
*/
func (m *Manager) truncateLocked(ctx context.Context, rc RunContext, stats *RelationVacuumStats) (uint32, error) {
	npages, err := m.bm.NPages(rc.Rel, disk.ForkNumberMain)
	if err != nil {
		return 0, errors.Wrap(err, "bm.NPages failed")
	}
	if npages != stats.RelPages {
		rc.verbosef("relation grew from %d to %d pages, abandoning truncate", stats.RelPages, npages)
		return stats.RelPages, nil
	}

	newRelPages, err := m.countNondeletablePages(ctx, rc, stats)
	if err != nil {
		return 0, err
	}
	if newRelPages >= stats.RelPages {
		return stats.RelPages, nil
	}

	if _, err := m.wal.Append(wal.TruncateRecord(rc.Rel, newRelPages)); err != nil {
		return 0, errors.Wrap(err, "wal.Append failed")
	}
	if err := m.fsm.Truncate(rc.Rel, newRelPages); err != nil {
		return 0, errors.Wrap(err, "fsm.Truncate failed")
	}
	if err := m.bm.TruncateVM(rc.Rel, newRelPages); err != nil {
		return 0, errors.Wrap(err, "bm.TruncateVM failed")
	}
	if err := m.bm.TruncateRelation(rc.Rel, disk.ForkNumberMain, newRelPages); err != nil {
		return 0, errors.Wrap(err, "bm.TruncateRelation failed")
	}
	return newRelPages, nil
}

/*
countNondeletablePages scans backward from the end and returns the number of pages which have to remain.
tuples may have been inserted after the heap scan, so every page is checked again.
when somebody waits for the lock, the scan stops and the pages checked so far are truncated.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L2640
*/
func (m *Manager) countNondeletablePages(ctx context.Context, rc RunContext, stats *RelationVacuumStats) (uint32, error) {
	blkno := stats.RelPages
	lastCheck := time.Now()
	for blkno > stats.NonemptyPages {
		if blkno%waiterCheckPages == 0 && time.Since(lastCheck) >= m.lockCheckInterval {
			if m.lm.HasWaiters(rc.Rel, lmgr.AccessExclusive) {
				rc.verbosef("suspending truncate due to conflicting lock request")
				stats.LockWaiterDetected = true
				return blkno, nil
			}
			lastCheck = time.Now()
		}
		if err := rc.delayPoint(ctx); err != nil {
			return 0, err
		}

		blkno--
		hasTuple, err := m.pageHasTuple(rc, page.PageID(blkno))
		if err != nil {
			return 0, err
		}
		if hasTuple {
			return blkno + 1, nil
		}
	}
	return stats.NonemptyPages, nil
}

// pageHasTuple checks whether any slot of the page is used
func (m *Manager) pageHasTuple(rc RunContext, pid page.PageID) (bool, error) {
	bufID, err := m.bm.ReadBuffer(rc.Rel, disk.ForkNumberMain, pid)
	if err != nil {
		return false, errors.Wrap(err, "bm.ReadBuffer failed")
	}
	defer m.bm.ReleaseBuffer(bufID)
	m.bm.AcquireContentLock(bufID, false)
	defer m.bm.ReleaseContentLock(bufID, false)

	p := m.bm.GetPage(bufID)
	if page.IsNew(p) || page.IsEmpty(p) {
		return false, nil
	}
	nidx := page.GetNSlotIndex(p)
	for idx := page.FirstSlotIndex; nidx != page.InvalidSlotIndex && idx <= nidx; idx++ {
		slot, err := page.GetSlot(p, idx)
		if err != nil {
			return false, errors.Wrap(err, "page.GetSlot failed")
		}
		if !page.IsUnused(slot) {
			return true, nil
		}
	}
	return false, nil
}
