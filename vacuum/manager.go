/*
Lazy vacuum reclaims the space of dead tuples without blocking reads and writes of the relation.

One run is a cycle of
1. heap scan: prune each page, freeze old tuples, update visibility map and collect tids of dead tuples
2. index vacuum: when the dead tuple store is nearly full (or the scan ends), remove index entries of the tids
3. heap vacuum: mark the slots of the tids unused and defragment the pages
then the store is emptied and the scan resumes. finally empty pages at the end of the relation are truncated.

With multiple workers, each worker scans pages claimed from a shared cursor into its own store,
and workers go through index and heap vacuum together, synchronized by Barrier.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L1-L34
*/
package vacuum

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/HayatoShiba/ppvacuum/am"
	"github.com/HayatoShiba/ppvacuum/catalog"
	"github.com/HayatoShiba/ppvacuum/storage/buffer"
	"github.com/HayatoShiba/ppvacuum/storage/fsm"
	"github.com/HayatoShiba/ppvacuum/storage/lmgr"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
	"github.com/HayatoShiba/ppvacuum/wal"
)

// VisibilityOracle classifies tuples for vacuum. it may set hint bits on the tuple
type VisibilityOracle interface {
	SatisfiesVacuum(tup tuple.TupleByte, oldestXmin txid.TxID) am.HTSVResult
}

// truncation lock timings
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/vacuumlazy.c#L86-L95
const (
	// truncateLockCheckInterval is how often the backward scan checks lock waiters
	truncateLockCheckInterval = 20 * time.Millisecond
	// truncateLockWaitInterval is the interval of retrying the lock
	truncateLockWaitInterval = 50 * time.Millisecond
	// truncateLockTimeout is how long to keep retrying the lock
	truncateLockTimeout = 5000 * time.Millisecond
)

// Manager runs vacuum
type Manager struct {
	bm       *buffer.Manager
	fsm      *fsm.Manager
	lm       *lmgr.Manager
	heap     *am.Manager
	wal      *wal.Log
	catalog  *catalog.Catalog
	oracle   VisibilityOracle
	progress Progress
	logger   *log.Entry

	lockCheckInterval time.Duration
	lockWaitInterval  time.Duration
	lockTimeout       time.Duration
}

// NewManager initializes vacuum manager
// heap is used as visibility oracle unless SetOracle is called
func NewManager(bm *buffer.Manager, fsm *fsm.Manager, lm *lmgr.Manager, heap *am.Manager, wl *wal.Log, cat *catalog.Catalog) *Manager {
	return &Manager{
		bm:                bm,
		fsm:               fsm,
		lm:                lm,
		heap:              heap,
		wal:               wl,
		catalog:           cat,
		oracle:            heap,
		progress:          noopProgress{},
		logger:            log.WithField("component", "vacuum"),
		lockCheckInterval: truncateLockCheckInterval,
		lockWaitInterval:  truncateLockWaitInterval,
		lockTimeout:       truncateLockTimeout,
	}
}

// SetOracle replaces the visibility oracle
func (m *Manager) SetOracle(o VisibilityOracle) {
	m.oracle = o
}

// SetProgress sets the progress sink
func (m *Manager) SetProgress(p Progress) {
	m.progress = p
}

// SetLogger sets the logger runs derive theirs from
func (m *Manager) SetLogger(l *log.Entry) {
	m.logger = l
}
