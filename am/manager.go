/*
Access method
Only heap access method is implemented here. Indexes live in the index package.

Every operation takes RowExclusive lock on the relation for its duration,
so that it waits while vacuum holds AccessExclusive lock to truncate the relation.

heap access methods are defined below
https://github.com/postgres/postgres/blob/8e1db29cdbbd218ab6ba53eea56624553c3bef8c/src/backend/access/heap/heapam_handler.c#L2532-L2589
*/
package am

import (
	"context"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/buffer"
	"github.com/HayatoShiba/ppvacuum/storage/fsm"
	"github.com/HayatoShiba/ppvacuum/storage/lmgr"
	"github.com/HayatoShiba/ppvacuum/transaction"
)

var (
	// ErrTupleUpdated is returned when another transaction has updated or deleted the tuple
	ErrTupleUpdated = errors.New("tuple concurrently updated")
	// ErrTupleTooLarge is returned when the tuple does not fit in an empty page
	ErrTupleTooLarge = errors.New("tuple too large")
)

type Manager struct {
	bm  *buffer.Manager
	fsm *fsm.Manager
	tm  *transaction.Manager
	lm  *lmgr.Manager
}

// NewManager initializes access manager
func NewManager(bm *buffer.Manager, fsm *fsm.Manager, tm *transaction.Manager, lm *lmgr.Manager) *Manager {
	return &Manager{
		bm:  bm,
		fsm: fsm,
		tm:  tm,
		lm:  lm,
	}
}

// lockRelation takes RowExclusive lock and returns the function which releases it
func (m *Manager) lockRelation(ctx context.Context, rel common.Relation, tx *transaction.Tx) (func(), error) {
	if err := m.lm.Lock(ctx, rel, tx.LockOwner(), lmgr.RowExclusive); err != nil {
		return nil, errors.Wrap(err, "lm.Lock failed")
	}
	return func() { m.lm.Unlock(rel, tx.LockOwner(), lmgr.RowExclusive) }, nil
}
