package page

import (
	"github.com/pkg/errors"
)

// TestingNewRandomPage returns an initialized page with two items
func TestingNewRandomPage() (PagePtr, error) {
	p := NewPagePtr()
	InitializePage(p, 0)

	for _, item := range [][]byte{{1, 2, 3, 4, 5, 6}, {8, 9}} {
		if _, err := AddItem(p, item, InvalidSlotIndex); err != nil {
			return nil, errors.Wrap(err, "AddItem failed")
		}
	}
	return p, nil
}
