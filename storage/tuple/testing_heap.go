package tuple

import (
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// TestingNewTuple returns tuple with xmin and xmax
func TestingNewTuple(xmin, xmax txid.TxID) TupleByte {
	btup := NewTuple(xmin, []byte{1, 2, 3})
	if xmax != txid.InvalidTxID {
		btup.SetXmax(xmax)
	}
	return btup
}
