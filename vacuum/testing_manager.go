package vacuum

import (
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/am"
	"github.com/HayatoShiba/ppvacuum/catalog"
	"github.com/HayatoShiba/ppvacuum/storage/buffer"
	"github.com/HayatoShiba/ppvacuum/storage/fsm"
	"github.com/HayatoShiba/ppvacuum/storage/lmgr"
	"github.com/HayatoShiba/ppvacuum/transaction"
	"github.com/HayatoShiba/ppvacuum/wal"
)

// TestingNewManager initializes vacuum manager on in-memory storage
// the transaction manager is returned so that the caller can create tuples in any state
func TestingNewManager() (*Manager, *transaction.Manager, error) {
	bm, err := buffer.TestingNewManager()
	if err != nil {
		return nil, nil, errors.Wrap(err, "buffer.TestingNewManager failed")
	}
	fm := fsm.NewManager(bm)
	tm := transaction.TestingNewManager()
	lm := lmgr.NewManager()
	heap := am.NewManager(bm, fm, tm, lm)
	return NewManager(bm, fm, lm, heap, wal.NewLog(), catalog.New()), tm, nil
}

// beforeTruncateLockHooks holds the functions set by TestingSetBeforeTruncateLock per manager
var beforeTruncateLockHooks sync.Map

// TestingSetBeforeTruncateLock makes f run before each attempt to lock the relation for truncation,
// so that a test can change the relation between the scan and the truncation
func TestingSetBeforeTruncateLock(t testing.TB, m *Manager, f func()) {
	beforeTruncateLockHooks.Store(m, f)
	t.Cleanup(func() {
		beforeTruncateLockHooks.Delete(m)
	})
}

func runBeforeTruncateLock(m *Manager) {
	if f, ok := beforeTruncateLockHooks.Load(m); ok {
		f.(func())()
	}
}
