package transaction

import (
	"github.com/HayatoShiba/ppvacuum/storage/lmgr"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// Tx is a transaction
type Tx struct {
	id    txid.TxID
	state State
	// owner of the relation locks the transaction takes
	owner lmgr.Owner
}

// NewTransaction initializes transaction
func NewTransaction(id txid.TxID) *Tx {
	return &Tx{
		id:    id,
		state: StateInProgress,
		owner: lmgr.NewOwner(),
	}
}

// ID returns transaction id
func (tx *Tx) ID() txid.TxID {
	return tx.id
}

// LockOwner returns the owner of relation locks taken by the transaction
func (tx *Tx) LockOwner() lmgr.Owner {
	return tx.owner
}

// State returns transaction state
func (tx *Tx) State() State {
	return tx.state
}

// SetState sets transaction state
func (tx *Tx) SetState(state State) {
	tx.state = state
}
