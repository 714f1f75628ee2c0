/*
Pruning removes dead members of HOT chains within one page.

HOT update chains are never pointed to by indexes except at their root,
so dead heap-only tuples can be removed without touching indexes:
- a dead heap-only member becomes unused
- the root becomes a redirect to the first surviving member, or dead when nothing survives
dead root slots stay, because index entries still point to them. vacuum removes them later with the index entries.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/pruneheap.c#L175
*/
package am

import (
	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// Redirect is a pair of slots: From becomes a redirect to To
type Redirect struct {
	From page.SlotIndex
	To   page.SlotIndex
}

// PruneResult describes what pruning changed on the page
// the slot lists are used for the wal record
type PruneResult struct {
	// NDeleted is the number of tuples removed
	NDeleted int
	// LatestRemovedXid is the newest xmax of removed tuples
	LatestRemovedXid txid.TxID
	Redirected       []Redirect
	NowDead          []page.SlotIndex
	NowUnused        []page.SlotIndex
}

// Changed reports whether pruning modified the page
func (r PruneResult) Changed() bool {
	return len(r.Redirected) > 0 || len(r.NowDead) > 0 || len(r.NowUnused) > 0
}

type pruneState struct {
	p          page.PagePtr
	oldestXmin txid.TxID
	nidx       page.SlotIndex
	marked     map[page.SlotIndex]bool
	result     PruneResult
}

/*
HeapPagePrune prunes every HOT chain on the page and defragments it.
the caller has to hold the cleanup lock on the buffer, and mark it dirty when the result is changed.
*/
func (m *Manager) HeapPagePrune(p page.PagePtr, oldestXmin txid.TxID) (PruneResult, error) {
	nidx := page.GetNSlotIndex(p)
	if nidx == page.InvalidSlotIndex {
		return PruneResult{}, nil
	}
	st := &pruneState{
		p:          p,
		oldestXmin: oldestXmin,
		nidx:       nidx,
		marked:     make(map[page.SlotIndex]bool),
	}
	for idx := page.FirstSlotIndex; idx <= nidx; idx++ {
		if st.marked[idx] {
			continue
		}
		slot, err := page.GetSlot(p, idx)
		if err != nil {
			return PruneResult{}, errors.Wrap(err, "page.GetSlot failed")
		}
		if page.IsUnused(slot) || page.IsDead(slot) {
			continue
		}
		n, err := m.pruneChain(st, idx)
		if err != nil {
			return PruneResult{}, errors.Wrap(err, "pruneChain failed")
		}
		st.result.NDeleted += n
	}

	if !st.result.Changed() {
		return st.result, nil
	}
	if err := ExecutePrune(p, st.result); err != nil {
		return PruneResult{}, err
	}
	return st.result, nil
}

// ExecutePrune applies the slot changes and defragments the page
// this is used by recovery of the wal record as well
func ExecutePrune(p page.PagePtr, r PruneResult) error {
	for _, rd := range r.Redirected {
		slot, err := page.GetSlot(p, rd.From)
		if err != nil {
			return errors.Wrap(err, "page.GetSlot failed")
		}
		page.SetRedirected(slot, rd.To)
	}
	for _, idx := range r.NowDead {
		slot, err := page.GetSlot(p, idx)
		if err != nil {
			return errors.Wrap(err, "page.GetSlot failed")
		}
		page.SetDead(slot)
	}
	for _, idx := range r.NowUnused {
		slot, err := page.GetSlot(p, idx)
		if err != nil {
			return errors.Wrap(err, "page.GetSlot failed")
		}
		page.SetUnused(slot)
	}
	if err := page.RepairFragmentation(p); err != nil {
		return errors.Wrap(err, "page.RepairFragmentation failed")
	}
	return nil
}

// pruneChain prunes the HOT chain starting at root and returns the number of tuples removed
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/pruneheap.c#L476
func (m *Manager) pruneChain(st *pruneState, root page.SlotIndex) (int, error) {
	ndeleted := 0
	rootSlot, err := page.GetSlot(st.p, root)
	if err != nil {
		return 0, errors.Wrap(err, "page.GetSlot failed")
	}
	rootNormal := page.IsNormal(rootSlot)
	if rootNormal {
		item, err := page.GetItem(st.p, root)
		if err != nil {
			return 0, errors.Wrap(err, "page.GetItem failed")
		}
		tup := tuple.TupleByte(item)
		if tup.IsHeapOnly() {
			// heap only tuples are visited from their root.
			// a dead one which nothing follows is left over from an aborted update, and can go
			if m.SatisfiesVacuum(tup, st.oldestXmin) == HeapTupleDead && !tup.IsHotUpdated() {
				st.recordUnused(root)
				st.advanceLatestRemovedXid(tup)
				ndeleted++
			}
			return ndeleted, nil
		}
	}

	var chain []page.SlotIndex
	latestDead := page.InvalidSlotIndex
	priorXmax := txid.InvalidTxID
	idx := root
	for {
		if idx > st.nidx || st.marked[idx] {
			break
		}
		slot, err := page.GetSlot(st.p, idx)
		if err != nil {
			return 0, errors.Wrap(err, "page.GetSlot failed")
		}
		if page.IsUnused(slot) || page.IsDead(slot) {
			break
		}
		if page.IsRedirected(slot) {
			// redirect is valid only at the root
			if len(chain) > 0 {
				break
			}
			chain = append(chain, idx)
			idx = page.GetRedirect(slot)
			continue
		}

		item, err := page.GetItem(st.p, idx)
		if err != nil {
			return 0, errors.Wrap(err, "page.GetItem failed")
		}
		tup := tuple.TupleByte(item)
		if priorXmax != txid.InvalidTxID && tup.Xmin() != priorXmax {
			break
		}
		chain = append(chain, idx)

		recentlyDead := false
		switch m.SatisfiesVacuum(tup, st.oldestXmin) {
		case HeapTupleDead:
			latestDead = idx
			st.advanceLatestRemovedXid(tup)
		case HeapTupleRecentlyDead:
			recentlyDead = true
		}
		// members after a live one have to stay
		if latestDead != idx && !recentlyDead {
			break
		}
		if !tup.IsHotUpdated() {
			break
		}
		idx = tup.Ctid().SlotIndex()
		priorXmax = tup.Xmax()
	}

	if latestDead != page.InvalidSlotIndex {
		// every member up to the latest dead one can be removed
		i := 1
		for ; i < len(chain) && chain[i-1] != latestDead; i++ {
			st.recordUnused(chain[i])
			ndeleted++
		}
		if rootNormal {
			ndeleted++
		}
		if i >= len(chain) {
			st.recordDead(root)
		} else {
			st.recordRedirect(root, chain[i])
		}
	} else if len(chain) < 2 && page.IsRedirected(rootSlot) {
		// the chain which the redirect pointed to has gone
		st.recordDead(root)
	}
	return ndeleted, nil
}

func (st *pruneState) recordUnused(idx page.SlotIndex) {
	st.result.NowUnused = append(st.result.NowUnused, idx)
	st.marked[idx] = true
}

func (st *pruneState) recordDead(idx page.SlotIndex) {
	st.result.NowDead = append(st.result.NowDead, idx)
	st.marked[idx] = true
}

func (st *pruneState) recordRedirect(from, to page.SlotIndex) {
	st.result.Redirected = append(st.result.Redirected, Redirect{From: from, To: to})
	st.marked[from] = true
	st.marked[to] = true
}

func (st *pruneState) advanceLatestRemovedXid(tup tuple.TupleByte) {
	xmax := tup.Xmax()
	if !xmax.IsNormal() || tup.XmaxInvalid() {
		return
	}
	if st.result.LatestRemovedXid == txid.InvalidTxID || xmax.IsFollows(st.result.LatestRemovedXid) {
		st.result.LatestRemovedXid = xmax
	}
}
