/*
Disk manager deals with the relation fork files under base directory.
This manages table files/fsm files/vm files. clog and wal are not managed by this manager.

The implementation of disk manager is based on src/backend/storage/smgr directory in postgres.
See smgr README https://github.com/postgres/postgres/blob/b0a55e43299c4ea2a9a8c757f9c26352407d0ccc/src/backend/storage/smgr/README#L1

Each fork is a sequence of fixed size pages, so
- page id N lives at byte offset N * page.PageSize
- the number of pages is file size / page.PageSize
- truncation to N pages cuts the file at N * page.PageSize

ppvacuum does not support
- database and schema
- the division of files into segments (see https://github.com/postgres/postgres/blob/85d8b30724c0fd117a683cc72706f71b28463a05/src/backend/storage/smgr/md.c#L44-L80)
*/
package disk

import (
	"io"
	"os"
	"sync"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/pkg/errors"
)

// the directory path of database files
// the path of the table file in postgres is base/database oid/table oid
var baseDir = "base/database"

// SetBaseDir changes the directory where relation files are created
func SetBaseDir(dir string) {
	baseDir = dir
}

// Manager manages relation fork files
type Manager struct {
	forks *forkCache
	// mu serializes seek+read/write pairs on the shared storages
	mu sync.Mutex
}

// NewManager initializes disk manager with file storage under base directory
func NewManager() (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, errors.Wrap(err, "os.MkdirAll failed")
	}
	return &Manager{forks: newFileCache(baseDir)}, nil
}

// ReadPage reads the page into p
func (m *Manager) ReadPage(rel common.Relation, forkNum ForkNumber, pageID page.PageID, p page.PagePtr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.forks.get(forkKey{rel, forkNum})
	if err != nil {
		return err
	}
	npages, err := nPages(st)
	if err != nil {
		return errors.Wrap(err, "nPages failed")
	}
	if uint32(pageID) >= npages {
		return errors.Errorf("page %d does not exist: rel %d fork %s has %d pages", pageID, rel, forkNum, npages)
	}
	if _, err := st.Seek(page.CalculateFileOffset(pageID), io.SeekStart); err != nil {
		return errors.Wrap(err, "Seek failed")
	}
	if _, err := io.ReadFull(st, p[:]); err != nil {
		return errors.Wrap(err, "ReadFull failed")
	}
	return nil
}

// WritePage writes p out to the page. if sync is true, the storage is synced
func (m *Manager) WritePage(rel common.Relation, forkNum ForkNumber, pageID page.PageID, p page.PagePtr, sync bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.forks.get(forkKey{rel, forkNum})
	if err != nil {
		return err
	}
	return writePage(st, pageID, p, sync)
}

func writePage(st storage, pageID page.PageID, p page.PagePtr, sync bool) error {
	if _, err := st.Seek(page.CalculateFileOffset(pageID), io.SeekStart); err != nil {
		return errors.Wrap(err, "Seek failed")
	}
	if _, err := st.Write(p[:]); err != nil {
		return errors.Wrap(err, "Write failed")
	}
	if sync {
		if err := st.Sync(); err != nil {
			return errors.Wrap(err, "Sync failed")
		}
	}
	return nil
}

// ExtendPage appends one zero-filled page and returns its page id
// see https://github.com/postgres/postgres/blob/85d8b30724c0fd117a683cc72706f71b28463a05/src/backend/storage/smgr/md.c#L420
func (m *Manager) ExtendPage(rel common.Relation, forkNum ForkNumber) (page.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.forks.get(forkKey{rel, forkNum})
	if err != nil {
		return page.InvalidPageID, err
	}
	npages, err := nPages(st)
	if err != nil {
		return page.InvalidPageID, errors.Wrap(err, "nPages failed")
	}
	pageID := page.PageID(npages)
	if pageID > page.MaxPageID {
		return page.InvalidPageID, errors.Errorf("cannot extend rel %d fork %s beyond %d pages", rel, forkNum, npages)
	}
	if err := writePage(st, pageID, page.NewPagePtr(), false); err != nil {
		return page.InvalidPageID, errors.Wrap(err, "writePage failed")
	}
	return pageID, nil
}

// GetNPages returns the number of pages in the relation fork
func (m *Manager) GetNPages(rel common.Relation, forkNum ForkNumber) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.forks.get(forkKey{rel, forkNum})
	if err != nil {
		return 0, err
	}
	return nPages(st)
}

// Truncate cuts the relation fork down to npages pages
// see https://github.com/postgres/postgres/blob/85d8b30724c0fd117a683cc72706f71b28463a05/src/backend/storage/smgr/md.c#L870
func (m *Manager) Truncate(rel common.Relation, forkNum ForkNumber, npages uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.forks.get(forkKey{rel, forkNum})
	if err != nil {
		return err
	}
	cur, err := nPages(st)
	if err != nil {
		return errors.Wrap(err, "nPages failed")
	}
	if npages > cur {
		return errors.Errorf("cannot truncate rel %d fork %s to %d pages: it has only %d pages", rel, forkNum, npages, cur)
	}
	if err := st.Truncate(page.CalculateFileOffset(page.PageID(npages))); err != nil {
		return errors.Wrap(err, "Truncate failed")
	}
	return nil
}

// Close closes every fork file. the manager must not be used afterwards
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forks.closeAll()
}

// nPages returns the number of whole pages in the storage
func nPages(st storage) (uint32, error) {
	size, err := st.Size()
	if err != nil {
		return 0, errors.Wrap(err, "Size failed")
	}
	return uint32(size / page.PageSize), nil
}
