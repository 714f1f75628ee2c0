package clog

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/storage/page"
)

// readFile loads clog pages from path. a missing file is an empty clog
func readFile(path string) (map[page.PageID]page.PagePtr, error) {
	pages := make(map[page.PageID]page.PagePtr)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pages, nil
		}
		return nil, errors.Wrap(err, "os.ReadFile failed")
	}
	if len(data)%page.PageSize != 0 {
		return nil, errors.Errorf("clog file %s has a partial page: %d bytes", path, len(data))
	}
	for i := 0; i*page.PageSize < len(data); i++ {
		p := page.NewPagePtr()
		copy(p[:], data[i*page.PageSize:(i+1)*page.PageSize])
		pages[page.PageID(i)] = p
	}
	return pages, nil
}

// writeFile writes pages 0..max to path. missing pages are written zero-filled
// see https://github.com/postgres/postgres/blob/5ca3645cb3fb4b8b359ea560f6a1a230ea59c8bc/src/backend/access/transam/slru.c#L757
func writeFile(path string, pages map[page.PageID]page.PagePtr) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrap(err, "os.MkdirAll failed")
	}
	npages := 0
	for pid := range pages {
		if int(pid)+1 > npages {
			npages = int(pid) + 1
		}
	}
	data := make([]byte, npages*page.PageSize)
	for pid, p := range pages {
		copy(data[int(pid)*page.PageSize:], p[:])
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "os.WriteFile failed")
	}
	return nil
}
