/*
Catalog keeps the statistics of relations and indexes which vacuum updates.
ppvacuum does not have system catalogs stored in relations, so they live in memory.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/commands/vacuum.c#L1197
*/
package catalog

import (
	"sync"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// RelationStats is the part of pg_class vacuum updates
type RelationStats struct {
	RelPages      uint32
	RelTuples     float64
	RelAllVisible uint32
	// RelFrozenXid is the oldest xmin which may remain unfrozen in the relation
	RelFrozenXid txid.TxID
	HasIndex     bool
}

// IndexStats is the size of the index after vacuum
type IndexStats struct {
	RelPages  uint32
	RelTuples float64
}

// Catalog is in-memory statistics store
type Catalog struct {
	mu      sync.RWMutex
	rels    map[common.Relation]RelationStats
	indexes map[string]IndexStats
}

// New initializes empty catalog
func New() *Catalog {
	return &Catalog{
		rels:    make(map[common.Relation]RelationStats),
		indexes: make(map[string]IndexStats),
	}
}

// RelationStats returns the statistics of the relation
func (c *Catalog) RelationStats(rel common.Relation) (RelationStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.rels[rel]
	return st, ok
}

/*
UpdateRelationStats overwrites the statistics of the relation.
relfrozenxid only moves forward: an invalid one or an older one than stored is ignored.
*/
func (c *Catalog) UpdateRelationStats(rel common.Relation, st RelationStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.rels[rel]; ok && old.RelFrozenXid != txid.InvalidTxID {
		if st.RelFrozenXid == txid.InvalidTxID || st.RelFrozenXid.IsPrecedes(old.RelFrozenXid) {
			st.RelFrozenXid = old.RelFrozenXid
		}
	}
	c.rels[rel] = st
}

// IndexStats returns the statistics of the index
func (c *Catalog) IndexStats(name string) (IndexStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.indexes[name]
	return st, ok
}

// UpdateIndexStats overwrites the statistics of the index
func (c *Catalog) UpdateIndexStats(name string, st IndexStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes[name] = st
}
