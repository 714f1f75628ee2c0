package vacuum

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/vm"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// testingSetVM sets vm status of pages [from, to)
func testingSetVM(t *testing.T, m *Manager, from, to page.PageID, flags uint8) {
	t.Helper()
	for pid := from; pid < to; pid++ {
		_, err := m.bm.SetVMStatus(testRel, pid, flags)
		require.NoError(t, err)
	}
}

type scannedPage struct {
	pid        page.PageID
	allVisible bool
}

func testingDrain(t *testing.T, s blockScanner) []scannedPage {
	t.Helper()
	var pages []scannedPage
	for {
		pid, allVisible, ok, err := s.next(context.Background())
		require.NoError(t, err)
		if !ok {
			return pages
		}
		pages = append(pages, scannedPage{pid: pid, allVisible: allVisible})
	}
}

func pageRange(from, to page.PageID, allVisible bool) []scannedPage {
	var pages []scannedPage
	for pid := from; pid < to; pid++ {
		pages = append(pages, scannedPage{pid: pid, allVisible: allVisible})
	}
	return pages
}

func TestExclusiveScanner(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, m *Manager)
		params     func(p *Params)
		expected   []scannedPage
		frozenSkip uint32
	}{
		{
			name: "all-visible and all-frozen pages are skipped",
			setup: func(t *testing.T, m *Manager) {
				testingSetVM(t, m, 0, 50, vm.StatusAllVisible)
				testingSetVM(t, m, 50, 100, vm.StatusAllVisible|vm.StatusAllFrozen)
			},
			expected:   nil,
			frozenSkip: 50,
		},
		{
			name: "aggressive run scans all-visible pages",
			setup: func(t *testing.T, m *Manager) {
				testingSetVM(t, m, 0, 50, vm.StatusAllVisible)
				testingSetVM(t, m, 50, 100, vm.StatusAllVisible|vm.StatusAllFrozen)
			},
			params:     func(p *Params) { p.Aggressive = true },
			expected:   pageRange(0, 50, true),
			frozenSkip: 50,
		},
		{
			name: "short run of skippable pages is scanned",
			setup: func(t *testing.T, m *Manager) {
				testingSetVM(t, m, 0, 10, vm.StatusAllVisible)
			},
			expected: append(pageRange(0, 10, true), pageRange(10, 100, false)...),
		},
		{
			name: "skippable run in the middle",
			setup: func(t *testing.T, m *Manager) {
				testingSetVM(t, m, 20, 80, vm.StatusAllVisible|vm.StatusAllFrozen)
			},
			expected:   append(pageRange(0, 20, false), pageRange(80, 100, false)...),
			frozenSkip: 60,
		},
		{
			name: "disable page skipping scans everything",
			setup: func(t *testing.T, m *Manager) {
				testingSetVM(t, m, 0, 100, vm.StatusAllVisible|vm.StatusAllFrozen)
			},
			params:   func(p *Params) { p.DisablePageSkipping = true },
			expected: pageRange(0, 100, true),
		},
		{
			name: "last page is checked when truncation is possible",
			setup: func(t *testing.T, m *Manager) {
				testingSetVM(t, m, 0, 100, vm.StatusAllVisible)
			},
			params:   func(p *Params) { p.Truncate = true },
			expected: pageRange(99, 100, true),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, tm, err := TestingNewManager()
			require.NoError(t, err)
			testingFillRelation(t, m, tm, testRel, uniformLayout(100, 1, 0))
			tt.setup(t, m)

			params := DefaultParams()
			params.Truncate = false
			if tt.params != nil {
				tt.params(&params)
			}
			w := testingNewWorker(t, m, testingRunContext(m, params, testingHorizons(tm, false)), nil)

			assert.Equal(t, tt.expected, testingDrain(t, w.scanner))
			assert.Equal(t, tt.frozenSkip, w.stats.FrozenSkippedPages)
		})
	}
}

func TestSharedScanner(t *testing.T) {
	m, tm, err := TestingNewManager()
	require.NoError(t, err)
	testingFillRelation(t, m, tm, testRel, uniformLayout(100, 1, 0))
	testingSetVM(t, m, 0, 50, vm.StatusAllVisible)
	testingSetVM(t, m, 50, 100, vm.StatusAllVisible|vm.StatusAllFrozen)

	t.Run("non-aggressive", func(t *testing.T) {
		params := DefaultParams()
		params.Truncate = false
		w := testingNewWorker(t, m, testingRunContext(m, params, testingHorizons(tm, false)), nil)
		s := newSharedScanner(w.scanConfig(100), newParallelScan(100))
		assert.Empty(t, testingDrain(t, s))
		assert.Equal(t, uint32(50), w.stats.FrozenSkippedPages)
	})
	t.Run("aggressive", func(t *testing.T) {
		params := DefaultParams()
		params.Truncate = false
		params.Aggressive = true
		w := testingNewWorker(t, m, testingRunContext(m, params, testingHorizons(tm, false)), nil)
		s := newSharedScanner(w.scanConfig(100), newParallelScan(100))
		assert.Equal(t, pageRange(0, 50, true), testingDrain(t, s))
		assert.Equal(t, uint32(50), w.stats.FrozenSkippedPages)
	})
	t.Run("workers never claim the same page", func(t *testing.T) {
		ps := newParallelScan(10)
		claimed := make(map[page.PageID]bool)
		for {
			pid, ok := ps.claim()
			if !ok {
				break
			}
			assert.False(t, claimed[pid])
			claimed[pid] = true
		}
		assert.Len(t, claimed, 10)
		_, ok := ps.claim()
		assert.False(t, ok)
	})
}

func TestNewRunContextAggressive(t *testing.T) {
	tests := []struct {
		name         string
		params       Params
		h            Horizons
		relFrozenXid txid.TxID
		expected     bool
	}{
		{
			name:         "plain run",
			params:       DefaultParams(),
			h:            Horizons{OldestXmin: 1000, FreezeLimit: 500, FullScanLimit: 100},
			relFrozenXid: 200,
			expected:     false,
		},
		{
			name:         "relfrozenxid exceeds the full scan limit",
			params:       DefaultParams(),
			h:            Horizons{OldestXmin: 1000, FreezeLimit: 500, FullScanLimit: 100},
			relFrozenXid: 50,
			expected:     true,
		},
		{
			name:         "relfrozenxid at the full scan limit",
			params:       DefaultParams(),
			h:            Horizons{OldestXmin: 1000, FreezeLimit: 500, FullScanLimit: 100},
			relFrozenXid: 100,
			expected:     true,
		},
		{
			name:         "relation never vacuumed",
			params:       DefaultParams(),
			h:            Horizons{OldestXmin: 1000, FreezeLimit: 500, FullScanLimit: 100},
			relFrozenXid: txid.InvalidTxID,
			expected:     false,
		},
		{
			name:         "requested",
			params:       Params{Workers: 1, Aggressive: true},
			h:            Horizons{OldestXmin: 1000},
			relFrozenXid: 200,
			expected:     true,
		},
		{
			name:         "page skipping disabled",
			params:       Params{Workers: 1, DisablePageSkipping: true},
			h:            Horizons{OldestXmin: 1000},
			relFrozenXid: 200,
			expected:     true,
		},
	}
	m, _, err := TestingNewManager()
	require.NoError(t, err)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := newRunContext(common.Relation(1), tt.params, tt.h, tt.relFrozenXid, m.logger)
			assert.Equal(t, tt.expected, rc.Aggressive)
		})
	}
}
