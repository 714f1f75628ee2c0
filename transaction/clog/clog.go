/*
clog bitmap

The state of each transaction is represented with 2 bits in clog.
So the page looks just like the array of 2bits.
The location of the transaction (byte offset within page and bit offset within a byte) can
be calculated from transaction id.
*/
package clog

import (
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// state is the state of each transaction
// this is represented with 2bits
// see https://github.com/postgres/postgres/blob/27b77ecf9f4d5be211900eda54d8155ada50d696/src/include/access/clog.h#L25-L30
type state byte

const (
	// 0 indicates the transaction is in progress. so when initialization of page,
	// all transactions in page is treated as in-progress.
	// a transaction which crashed also stays 0.
	stateInProgress state = 0x00
	stateCommitted  state = 0x01
	stateAborted    state = 0x02
)

const (
	// 2bits per transaction. see state
	clogBits = 2
	// clogNumPerByte is the number of clog per byte
	clogNumPerByte = 8 / clogBits
	// clogNumPerPage is the number of clog per page
	clogNumPerPage = page.PageSize * clogNumPerByte
)

// location of the 2 bits of a transaction
type location struct {
	pageID     page.PageID
	byteOffset int
	// 0, 2, 4 or 6 counted from the highest bit
	bitOffset int
}

func getLocation(txID txid.TxID) location {
	inPage := int(txID % clogNumPerPage)
	return location{
		pageID:     page.PageID(txID / clogNumPerPage),
		byteOffset: inPage / clogNumPerByte,
		bitOffset:  (inPage % clogNumPerByte) * clogBits,
	}
}

// getState gets tx state from the byte which holds it
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/transam/clog.c#L638
func getState(data byte, loc location) state {
	return state((data >> (6 - loc.bitOffset)) & 0x03)
}

// getUpdatedState returns data with the bits of the transaction replaced by st
func getUpdatedState(data byte, loc location, st state) byte {
	mask := byte(0x03 << (6 - loc.bitOffset))
	return (data & ^mask) | (byte(st) << (6 - loc.bitOffset))
}
