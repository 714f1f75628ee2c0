package disk

import "testing"

// TestingNewFileManager initializes disk manager with file storage under t.TempDir()
func TestingNewFileManager(t *testing.T) (*Manager, error) {
	baseDir = t.TempDir()
	return NewManager()
}

// TestingNewBufferManager initializes disk manager with buffer storage instead of file storage.
// This prevents unnecessary disk I/O.
func TestingNewBufferManager() (*Manager, error) {
	return &Manager{forks: newBufferCache()}, nil
}
