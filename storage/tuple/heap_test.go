package tuple

import (
	"testing"

	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
	"github.com/stretchr/testify/assert"
)

func TestNewTuple(t *testing.T) {
	data := []byte{1, 2, 3}
	btup := NewTuple(txid.FirstTxID, data)

	assert.Equal(t, txid.FirstTxID, btup.Xmin())
	assert.Equal(t, txid.InvalidTxID, btup.Xmax())
	assert.True(t, btup.XmaxInvalid())
	assert.Equal(t, InvalidTid, btup.Ctid())
	assert.Equal(t, data, btup.Data())
	assert.Equal(t, tupleHeaderSize+len(data), len(btup))
}

func TestHeaderFields(t *testing.T) {
	btup := NewTuple(txid.FirstTxID, []byte{1, 2, 3})

	btup.SetXmin(100)
	assert.Equal(t, txid.TxID(100), btup.Xmin())

	btup.SetXmax(200)
	assert.Equal(t, txid.TxID(200), btup.Xmax())
	// the xmax hint bits are reset with new xmax
	assert.False(t, btup.XmaxInvalid())

	ctid := NewTid(page.PageID(21), page.SlotIndex(9))
	btup.SetCtid(ctid)
	assert.Equal(t, ctid, btup.Ctid())
	// header updates don't overwrite the data
	assert.Equal(t, []byte{1, 2, 3}, btup.Data())
}

func TestInfomask(t *testing.T) {
	tests := []struct {
		name  string
		set   func(TupleByte)
		check func(TupleByte) bool
	}{
		{name: "xmin committed", set: TupleByte.SetXminCommitted, check: TupleByte.XminCommitted},
		{name: "xmin invalid", set: TupleByte.SetXminInvalid, check: TupleByte.XminInvalid},
		{name: "xmin frozen", set: TupleByte.SetXminFrozen, check: TupleByte.XminFrozen},
		{name: "xmax committed", set: TupleByte.SetXmaxCommitted, check: TupleByte.XmaxCommitted},
		{name: "heap only", set: TupleByte.SetHeapOnly, check: TupleByte.IsHeapOnly},
		{name: "hot updated", set: TupleByte.SetHotUpdated, check: TupleByte.IsHotUpdated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			btup := NewTuple(txid.FirstTxID, nil)
			assert.False(t, tt.check(btup))
			tt.set(btup)
			assert.True(t, tt.check(btup))
		})
	}

	t.Run("frozen implies committed", func(t *testing.T) {
		btup := NewTuple(txid.FirstTxID, nil)
		btup.SetXminFrozen()
		assert.True(t, btup.XminCommitted())
	})
	t.Run("frozen transaction id is frozen", func(t *testing.T) {
		btup := NewTuple(txid.FrozenTxID, nil)
		assert.True(t, btup.XminFrozen())
	})
}

func TestTidOrder(t *testing.T) {
	tests := []struct {
		name     string
		a        Tid
		b        Tid
		expected int
	}{
		{name: "page decides", a: NewTid(1, 100), b: NewTid(2, 0), expected: -1},
		{name: "slot breaks ties", a: NewTid(2, 5), b: NewTid(2, 3), expected: 1},
		{name: "equal", a: NewTid(2, 5), b: NewTid(2, 5), expected: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Compare(tt.b))
			assert.Equal(t, tt.expected < 0, tt.a.Less(tt.b))
		})
	}
	assert.Equal(t, "(3,4)", NewTid(3, 4).String())
}
