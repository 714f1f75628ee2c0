package vacuum

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/index"
	"github.com/HayatoShiba/ppvacuum/index/btreeidx"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
	"github.com/HayatoShiba/ppvacuum/transaction"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

const testRel = common.Relation(100)

// pageLayout is the number of live and dead tuples written on a page
type pageLayout struct {
	live int
	dead int
}

func uniformLayout(npages, live, dead int) []pageLayout {
	layouts := make([]pageLayout, npages)
	for i := range layouts {
		layouts[i] = pageLayout{live: live, dead: dead}
	}
	return layouts
}

type filledRelation struct {
	live []tuple.Tid
	dead []tuple.Tid
}

// testingFillRelation appends pages to the relation.
// live tuples are inserted by a committed transaction, dead ones are deleted by another committed transaction.
// every tuple gets an entry in each index
func testingFillRelation(t *testing.T, m *Manager, tm *transaction.Manager, rel common.Relation, layouts []pageLayout, indexes ...*btreeidx.Index) filledRelation {
	t.Helper()
	ins := tm.Begin()
	del := tm.Begin()
	require.NoError(t, tm.Commit(ins))
	require.NoError(t, tm.Commit(del))

	var fr filledRelation
	for _, l := range layouts {
		bufID, pid, err := m.bm.ExtendRelation(rel, disk.ForkNumberMain)
		require.NoError(t, err)
		p := m.bm.GetPage(bufID)
		page.InitializePage(p, 0)
		for j := 0; j < l.live+l.dead; j++ {
			tup := tuple.NewTuple(ins.ID(), []byte{byte(j)})
			if j >= l.live {
				tup.SetXmax(del.ID())
			}
			idx, err := page.AddItem(p, page.ItemPtr(tup), page.InvalidSlotIndex)
			require.NoError(t, err)
			tid := tuple.NewTid(pid, idx)
			if j >= l.live {
				fr.dead = append(fr.dead, tid)
			} else {
				fr.live = append(fr.live, tid)
			}
			for _, ix := range indexes {
				ix.Insert([]byte{byte(j)}, tid)
			}
		}
		m.bm.MarkDirty(bufID)
		m.bm.ReleaseBuffer(bufID)
	}
	return fr
}

// testingHorizons returns horizons where every committed transaction is older than OldestXmin
func testingHorizons(tm *transaction.Manager, freeze bool) Horizons {
	h := Horizons{OldestXmin: tm.OldestXmin(), FreezeLimit: txid.FirstTxID}
	if freeze {
		h.FreezeLimit = h.OldestXmin
	}
	return h
}

// testingCountSlots counts normal and dead slots of the page
func testingCountSlots(t *testing.T, m *Manager, rel common.Relation, pid page.PageID) (normal, dead int) {
	t.Helper()
	bufID, err := m.bm.ReadBuffer(rel, disk.ForkNumberMain, pid)
	require.NoError(t, err)
	defer m.bm.ReleaseBuffer(bufID)
	p := m.bm.GetPage(bufID)
	nidx := page.GetNSlotIndex(p)
	for idx := page.FirstSlotIndex; nidx != page.InvalidSlotIndex && idx <= nidx; idx++ {
		slot, err := page.GetSlot(p, idx)
		require.NoError(t, err)
		switch {
		case page.IsNormal(slot):
			normal++
		case page.IsDead(slot):
			dead++
		}
	}
	return normal, dead
}

// testingNewWorker builds a single-process worker scanning the whole relation
func testingNewWorker(t *testing.T, m *Manager, rc RunContext, indexes []index.AccessMethod) *worker {
	t.Helper()
	nblocks, err := m.bm.NPages(rc.Rel, disk.ForkNumberMain)
	require.NoError(t, err)
	store, err := NewDeadTupleStore(MaxDeadTuples(DefaultMemoryBudget, len(indexes) > 0, nblocks))
	require.NoError(t, err)
	w := &worker{
		m:          m,
		rc:         rc,
		store:      store,
		stores:     deadTupleStores{store},
		stats:      &RelationVacuumStats{RelPages: nblocks},
		indexes:    indexes,
		indexStats: make([]*index.BulkDeleteResult, len(indexes)),
	}
	w.scanner = newExclusiveScanner(w.scanConfig(nblocks))
	return w
}

func testingRunContext(m *Manager, params Params, h Horizons) RunContext {
	return newRunContext(testRel, params, h, txid.InvalidTxID, m.logger)
}

// countingIndex counts bulk delete calls
type countingIndex struct {
	*btreeidx.Index
	mu          sync.Mutex
	bulkDeletes int
}

func (c *countingIndex) BulkDelete(ctx context.Context, callback index.DeleteCallback, stats *index.BulkDeleteResult) (*index.BulkDeleteResult, error) {
	c.mu.Lock()
	c.bulkDeletes++
	c.mu.Unlock()
	return c.Index.BulkDelete(ctx, callback, stats)
}

func (c *countingIndex) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bulkDeletes
}
