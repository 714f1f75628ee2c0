package clog

import (
	"path/filepath"
	"testing"
)

// TestingNewManager initializes clog manager backed by a file under a temporary directory
func TestingNewManager(t *testing.T) (*Manager, error) {
	return Open(filepath.Join(t.TempDir(), "pg_xact", "clog"))
}
