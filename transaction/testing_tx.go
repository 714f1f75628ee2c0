package transaction

import (
	"github.com/HayatoShiba/ppvacuum/transaction/clog"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// TestingNewManager initializes transaction manager which lives in memory
func TestingNewManager() *Manager {
	return NewManager(txid.NewManager(), clog.NewManager())
}
