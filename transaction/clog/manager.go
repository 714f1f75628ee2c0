/*
Clog manager manages clog, the commit status of every transaction.
The visibility of tuples cannot be determined without clog:
a tuple whose xmin aborted is dead however old it is.

Postgres caches clog pages in a small LRU buffer (slru) in front of pg_xact files.
Vacuum reads clog for every tuple which has no hint bit yet,
so ppvacuum keeps every clog page in memory and writes them out on Flush.

see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/transam/clog.c#L3
*/
package clog

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// Manager is clog manager
type Manager struct {
	// XactSLRULock in postgres
	mu    sync.RWMutex
	pages map[page.PageID]page.PagePtr
	// file where pages are persisted. empty means in-memory only
	path string
}

// NewManager initializes clog manager which lives only in memory
func NewManager() *Manager {
	return &Manager{
		pages: make(map[page.PageID]page.PagePtr),
	}
}

// Open initializes clog manager backed by the file at path, loading it if it exists
func Open(path string) (*Manager, error) {
	pages, err := readFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "readFile failed")
	}
	return &Manager{
		pages: pages,
		path:  path,
	}, nil
}

// Flush writes every clog page out to the file
// see https://github.com/postgres/postgres/blob/5ca3645cb3fb4b8b359ea560f6a1a230ea59c8bc/src/backend/access/transam/slru.c#L1157
func (m *Manager) Flush() error {
	if m.path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := writeFile(m.path, m.pages); err != nil {
		return errors.Wrap(err, "writeFile failed")
	}
	return nil
}

// SetStateCommitted records that the transaction committed
func (m *Manager) SetStateCommitted(txID txid.TxID) {
	m.setState(txID, stateCommitted)
}

// SetStateAborted records that the transaction aborted
func (m *Manager) SetStateAborted(txID txid.TxID) {
	m.setState(txID, stateAborted)
}

// IsTxCommitted checks whether the transaction committed
func (m *Manager) IsTxCommitted(txID txid.TxID) bool {
	return m.getState(txID) == stateCommitted
}

// IsTxAborted checks whether the transaction aborted
func (m *Manager) IsTxAborted(txID txid.TxID) bool {
	return m.getState(txID) == stateAborted
}

// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/transam/clog.c#L570
func (m *Manager) setState(txID txid.TxID, st state) {
	loc := getLocation(txID)
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[loc.pageID]
	if !ok {
		p = page.NewPagePtr()
		m.pages[loc.pageID] = p
	}
	p[loc.byteOffset] = getUpdatedState(p[loc.byteOffset], loc, st)
}

func (m *Manager) getState(txID txid.TxID) state {
	loc := getLocation(txID)
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pages[loc.pageID]
	if !ok {
		return stateInProgress
	}
	return getState(p[loc.byteOffset], loc)
}
