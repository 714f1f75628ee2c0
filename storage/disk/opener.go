package disk

import (
	"os"

	"github.com/pkg/errors"
)

// forkCache opens the storage of each relation fork on first use and keeps it open
// the caller serializes access (disk manager's mutex)
type forkCache struct {
	create func(forkKey) (storage, error)
	st     map[forkKey]storage
}

// newFileCache opens fork files under dir
func newFileCache(dir string) *forkCache {
	return &forkCache{
		create: func(k forkKey) (storage, error) {
			fd, err := os.OpenFile(k.path(dir), os.O_RDWR|os.O_CREATE, 0600)
			if err != nil {
				return nil, errors.Wrap(err, "os.OpenFile failed")
			}
			return fileStorage{fd}, nil
		},
		st: make(map[forkKey]storage),
	}
}

// newBufferCache keeps every fork in memory
func newBufferCache() *forkCache {
	return &forkCache{
		create: func(forkKey) (storage, error) {
			return newBufferStorage(), nil
		},
		st: make(map[forkKey]storage),
	}
}

func (c *forkCache) get(k forkKey) (storage, error) {
	if st, ok := c.st[k]; ok {
		return st, nil
	}
	st, err := c.create(k)
	if err != nil {
		return nil, errors.Wrapf(err, "open rel %d fork %s failed", k.rel, k.fork)
	}
	c.st[k] = st
	return st, nil
}

// closeAll closes every storage opened so far. the first error is returned
func (c *forkCache) closeAll() error {
	var firstErr error
	for k, st := range c.st {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close rel %d fork %s failed", k.rel, k.fork)
		}
		delete(c.st, k)
	}
	return firstErr
}
