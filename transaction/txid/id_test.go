package txid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFollows(t *testing.T) {
	half := TxID(uint32(math.Pow(2, 31)))
	tests := []struct {
		name     string
		txID1    TxID
		txID2    TxID
		expected bool
	}{
		{name: "follows without overflow", txID1: 200, txID2: 199, expected: true},
		{name: "precedes without overflow", txID1: 200, txID2: 201, expected: false},
		{name: "equal", txID1: 200, txID2: 200, expected: false},
		{name: "follows with overflow", txID1: 4, txID2: half + 100, expected: true},
		{name: "precedes with overflow", txID1: half + 100, txID2: 4, expected: false},
		{name: "boundary: exactly half apart", txID1: 100, txID2: half + 100, expected: false},
		{name: "boundary: just under half apart", txID1: 99, txID2: half + 100, expected: true},
		{name: "permanent ids are plain integers", txID1: FrozenTxID, txID2: BootstrapTxID, expected: true},
		{name: "normal follows frozen", txID1: half + 100, txID2: FrozenTxID, expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.txID1.IsFollows(tt.txID2))
		})
	}
}

func TestIsPrecedes(t *testing.T) {
	half := TxID(uint32(math.Pow(2, 31)))
	tests := []struct {
		name     string
		txID1    TxID
		txID2    TxID
		expected bool
	}{
		{name: "precedes without overflow", txID1: 199, txID2: 200, expected: true},
		{name: "equal", txID1: 200, txID2: 200, expected: false},
		{name: "precedes with overflow", txID1: half + 100, txID2: 4, expected: true},
		{name: "frozen precedes everything normal", txID1: FrozenTxID, txID2: FirstTxID, expected: true},
		{name: "invalid precedes frozen", txID1: InvalidTxID, txID2: FrozenTxID, expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.txID1.IsPrecedes(tt.txID2))
		})
	}
	assert.True(t, TxID(10).IsPrecedesOrEquals(10))
}

func TestRetreat(t *testing.T) {
	tests := []struct {
		name     string
		id       TxID
		distance uint32
		expected TxID
	}{
		{name: "plain", id: 1000, distance: 100, expected: 900},
		{name: "skips permanent ids", id: 10, distance: 8, expected: TxID(math.MaxUint32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.id.Retreat(tt.distance))
		})
	}
}

func TestAdvanceTxID(t *testing.T) {
	assert.Equal(t, TxID(11), advanceTxID(10))
	assert.Equal(t, FirstTxID, advanceTxID(TxID(math.MaxUint32)))
}

func TestAllocateNewTxID(t *testing.T) {
	m := NewManager()
	first := m.AllocateNewTxID()
	m.Unlock()
	second := m.AllocateNewTxID()
	m.Unlock()
	assert.Equal(t, FirstTxID, first)
	assert.Equal(t, FirstTxID+1, second)
	assert.Equal(t, FirstTxID+2, m.ReadNextTxID())
}
