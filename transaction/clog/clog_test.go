package clog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

func TestGetLocation(t *testing.T) {
	tests := []struct {
		name     string
		txID     txid.TxID
		expected location
	}{
		{name: "txID is 0", txID: 0, expected: location{pageID: 0, byteOffset: 0, bitOffset: 0}},
		{name: "txID is 3", txID: 3, expected: location{pageID: 0, byteOffset: 0, bitOffset: 6}},
		{name: "txID is 5", txID: 5, expected: location{pageID: 0, byteOffset: 1, bitOffset: 2}},
		{name: "txID is clogNumPerPage-1", txID: clogNumPerPage - 1, expected: location{pageID: 0, byteOffset: page.PageSize - 1, bitOffset: 6}},
		{name: "txID is clogNumPerPage", txID: clogNumPerPage, expected: location{pageID: 1, byteOffset: 0, bitOffset: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, getLocation(tt.txID))
		})
	}
}

func TestGetUpdatedState(t *testing.T) {
	tests := []struct {
		name     string
		data     byte
		txID     txid.TxID
		st       state
		expected byte
	}{
		{name: "first tx committed", data: 0x00, txID: 0, st: stateCommitted, expected: 0b01000000},
		{name: "last tx in byte aborted", data: 0x00, txID: 3, st: stateAborted, expected: 0b00000010},
		{name: "neighbours are kept", data: 0b11111111, txID: 1, st: stateInProgress, expected: 0b11001111},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := getLocation(tt.txID)
			got := getUpdatedState(tt.data, loc, tt.st)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.st, getState(got, loc))
		})
	}
}
