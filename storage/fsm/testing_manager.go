package fsm

import (
	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/storage/buffer"
)

// TestingNewManager initializes the fsm manager over in-memory storage
func TestingNewManager() (*Manager, error) {
	bm, err := buffer.TestingNewManager()
	if err != nil {
		return nil, errors.Wrap(err, "buffer.TestingNewManager failed")
	}
	return NewManager(bm), nil
}
