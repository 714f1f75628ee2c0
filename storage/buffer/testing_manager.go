package buffer

import (
	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/storage/disk"
)

// TestingNewManager initializes the shared buffer manager over in-memory storage
func TestingNewManager() (*Manager, error) {
	return TestingNewManagerWithBufferNum(DefaultBufferNum)
}

// TestingNewManagerWithBufferNum initializes the shared buffer manager with n buffers
// a small pool makes eviction happen in tests
func TestingNewManagerWithBufferNum(n int) (*Manager, error) {
	dm, err := disk.TestingNewBufferManager()
	if err != nil {
		return nil, errors.Wrap(err, "disk.TestingNewBufferManager failed")
	}
	return NewManager(dm, n), nil
}
