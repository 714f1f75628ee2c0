/*
Package btreeidx is an in-memory ordered index of (key, heap tid) entries.
Entries are ordered by key and then by tid, so duplicated keys are allowed.
The number of pages is estimated from the number of entries as if they were stored in fixed size leaf pages.
*/
package btreeidx

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/index"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
)

const (
	degree = 16
	// entriesPerPage is the number of entries which fit in one simulated leaf page
	entriesPerPage = 256
	// ctxCheckInterval is the number of entries visited between cancellation checks
	ctxCheckInterval = 1024
)

type entry struct {
	key []byte
	tid tuple.Tid
}

func lessEntry(a, b entry) bool {
	if c := bytes.Compare(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.tid.Less(b.tid)
}

// Index is btree index
type Index struct {
	name string
	mu   sync.RWMutex
	tree *btree.BTreeG[entry]
}

var _ index.AccessMethod = (*Index)(nil)

// New initializes empty index
func New(name string) *Index {
	return &Index{
		name: name,
		tree: btree.NewG(degree, lessEntry),
	}
}

// Name returns the index name
func (idx *Index) Name() string {
	return idx.name
}

// Insert adds the entry. the key is copied
func (idx *Index) Insert(key []byte, tid tuple.Tid) {
	k := make([]byte, len(key))
	copy(k, key)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree.ReplaceOrInsert(entry{key: k, tid: tid})
}

// Lookup returns tids of the entries with the key in tid order
func (idx *Index) Lookup(key []byte) []tuple.Tid {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var tids []tuple.Tid
	idx.tree.AscendGreaterOrEqual(entry{key: key, tid: tuple.NewTid(0, 0)}, func(e entry) bool {
		if !bytes.Equal(e.key, key) {
			return false
		}
		tids = append(tids, e.tid)
		return true
	})
	return tids
}

// Len returns the number of entries
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Len()
}

func numPages(n int) uint32 {
	// metapage + leaf pages
	return uint32(1 + (n+entriesPerPage-1)/entriesPerPage)
}

/*
BulkDelete scans every entry and removes the ones the callback reports.
dead entries are collected first and deleted after the scan, because the tree must not be modified while it is iterated.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/nbtree/nbtree.c#L868
*/
func (idx *Index) BulkDelete(ctx context.Context, callback index.DeleteCallback, stats *index.BulkDeleteResult) (*index.BulkDeleteResult, error) {
	if stats == nil {
		stats = &index.BulkDeleteResult{}
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var dead []entry
	var err error
	visited := 0
	idx.tree.Ascend(func(e entry) bool {
		visited++
		if visited%ctxCheckInterval == 0 {
			if err = ctx.Err(); err != nil {
				return false
			}
		}
		if callback(e.tid) {
			dead = append(dead, e)
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "bulk delete canceled")
	}
	for _, e := range dead {
		idx.tree.Delete(e)
	}
	stats.TuplesRemoved += float64(len(dead))
	stats.NumIndexTuples = float64(idx.tree.Len())
	stats.NumPages = numPages(idx.tree.Len())
	return stats, nil
}

// Cleanup reports the size of the index. the count is exact
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/nbtree/nbtree.c#L898
func (idx *Index) Cleanup(ctx context.Context, info index.VacuumInfo, stats *index.BulkDeleteResult) (*index.BulkDeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "cleanup canceled")
	}
	if stats == nil {
		stats = &index.BulkDeleteResult{}
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	stats.NumIndexTuples = float64(idx.tree.Len())
	stats.NumPages = numPages(idx.tree.Len())
	stats.EstimatedCount = false
	return stats, nil
}
