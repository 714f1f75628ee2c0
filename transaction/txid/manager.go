/*
Transaction id manager allocates transaction ids.
Transaction id is kind of timestamp for MVCC, and vacuum compares tuple xmin/xmax with
the oldest xmin horizon handed to it.

Transaction id is defined as unsigned 32 bits and this can overflow.
So the space of transaction id has to be treated as a kind of circle.
When two transaction ids are compared, the overflow has to be considered. see IsFollows() method.
Freezing old tuples is what keeps the circle usable: vacuum replaces xmin of old enough tuples
with the frozen marker so that they never appear to be in the future after wraparound.
see https://github.com/postgres/postgres/blob/97c61f70d1b97bdfd20dcb1f2b1be42862ec88c2/src/backend/access/transam/README#L272-L284
*/
package txid

import (
	"sync"
)

// Manager is transaction id manager
type Manager struct {
	// this is XidGenLock in postgres
	sync.Mutex
	// nextTxID is the transaction id which is allocated next time
	nextTxID TxID
}

// NewManager initializes transaction id manager
func NewManager() *Manager {
	return &Manager{
		nextTxID: FirstTxID,
	}
}

// NewManagerFrom initializes transaction id manager which allocates next from the id passed
func NewManagerFrom(next TxID) *Manager {
	if !next.IsNormal() {
		next = FirstTxID
	}
	return &Manager{nextTxID: next}
}

// AllocateNewTxID allocates next transaction id and advances it
// the caller holds the lock until the id is registered as running so that
// no snapshot/horizon computation can miss it. see Unlock.
// see https://github.com/postgres/postgres/blob/a448e49bcbe40fb72e1ed85af910dd216d45bad8/src/backend/access/transam/varsup.c#L50
func (tm *Manager) AllocateNewTxID() TxID {
	tm.Lock()
	txID := tm.nextTxID
	tm.nextTxID = advanceTxID(tm.nextTxID)
	return txID
}

// ReadNextTxID returns the id which will be allocated next
func (tm *Manager) ReadNextTxID() TxID {
	tm.Lock()
	defer tm.Unlock()
	return tm.nextTxID
}
