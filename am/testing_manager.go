package am

import (
	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/storage/buffer"
	"github.com/HayatoShiba/ppvacuum/storage/fsm"
	"github.com/HayatoShiba/ppvacuum/storage/lmgr"
	"github.com/HayatoShiba/ppvacuum/transaction"
)

// TestingNewManager initializes the access method manager on in-memory storage
func TestingNewManager() (*Manager, error) {
	bm, err := buffer.TestingNewManager()
	if err != nil {
		return nil, errors.Wrap(err, "buffer.TestingNewManager failed")
	}
	return NewManager(bm, fsm.NewManager(bm), transaction.TestingNewManager(), lmgr.NewManager()), nil
}
