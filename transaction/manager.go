/*
Postgres adopts MVCC(Multi Version Concurrency Control) for concurrency control.
In postgres, append-only storage approach is adopted to achieve MVCC.
So when the transaction updates the tuple, the new version of tuple is inserted (appended)
and the old version stays until vacuum removes it.

Each tuple has the visibility information:
- xmin: what transaction inserts the tuple (begin time)
- xmax: what transaction updates/deletes the tuple (end time)

Vacuum asks one question of the transaction system: which transactions may still see old versions.
OldestXmin answers it. A version deleted by a committed transaction older than OldestXmin
is invisible to everyone and can be removed.

Transaction manager keeps the set of running transactions (proc array in postgres)
and records the outcome of each transaction in clog.
*/
package transaction

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/transaction/clog"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// Manager is transaction manager
type Manager struct {
	tm *txid.Manager
	cm *clog.Manager

	// ProcArrayLock in postgres
	mu      sync.RWMutex
	running map[txid.TxID]struct{}
}

// NewManager initializes transaction manager
func NewManager(tm *txid.Manager, cm *clog.Manager) *Manager {
	return &Manager{
		tm:      tm,
		cm:      cm,
		running: make(map[txid.TxID]struct{}),
	}
}

// Begin begins transaction
// see https://github.com/postgres/postgres/blob/20432f8731404d2cef2a155144aca5ab3ae98e95/src/backend/access/transam/xact.c#L2925
func (m *Manager) Begin() *Tx {
	txID := m.tm.AllocateNewTxID()
	// register the id as running before other goroutines can read the next id
	m.mu.Lock()
	m.running[txID] = struct{}{}
	m.mu.Unlock()
	m.tm.Unlock()

	return NewTransaction(txID)
}

// Commit commits transaction
func (m *Manager) Commit(tx *Tx) error {
	return m.complete(tx, StateCommitted)
}

// Abort aborts transaction
func (m *Manager) Abort(tx *Tx) error {
	return m.complete(tx, StateAborted)
}

func (m *Manager) complete(tx *Tx, state State) error {
	if tx.State().IsCompleted() {
		return errors.Errorf("transaction %d has already %s", tx.ID(), tx.State())
	}
	// clog is written before the transaction leaves running set,
	// so that nobody sees it neither running nor committed
	if state == StateCommitted {
		m.cm.SetStateCommitted(tx.ID())
	} else {
		m.cm.SetStateAborted(tx.ID())
	}
	m.mu.Lock()
	delete(m.running, tx.ID())
	m.mu.Unlock()

	tx.SetState(state)
	return nil
}

// IsInProgress checks whether the transaction is running
// see https://github.com/postgres/postgres/blob/20432f8731404d2cef2a155144aca5ab3ae98e95/src/backend/storage/ipc/procarray.c#L1375
func (m *Manager) IsInProgress(txID txid.TxID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.running[txID]
	return ok
}

// IsCommitted checks whether the transaction committed
// a transaction which is neither running nor committed is treated as aborted (including crashed one)
func (m *Manager) IsCommitted(txID txid.TxID) bool {
	return m.cm.IsTxCommitted(txID)
}

// OldestXmin returns the oldest transaction id which may still be running
// when nothing is running, it is the id allocated next
// see https://github.com/postgres/postgres/blob/20432f8731404d2cef2a155144aca5ab3ae98e95/src/backend/storage/ipc/procarray.c#L1685
func (m *Manager) OldestXmin() txid.TxID {
	// read next id first: any transaction allocated before it is already in running set
	oldest := m.tm.ReadNextTxID()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for id := range m.running {
		if id.IsPrecedes(oldest) {
			oldest = id
		}
	}
	return oldest
}

// NextTxID returns the transaction id allocated next
func (m *Manager) NextTxID() txid.TxID {
	return m.tm.ReadNextTxID()
}
