/*
Simple implementation of heap tuple.
Postgres has a lot, like null bitmap, various hint bits...
Tuple here has only the header fields MVCC and vacuum need, followed by opaque data.

- xmin: in what transaction the tuple is inserted
- xmax: in what transaction the tuple is updated or deleted
- ctid: the tuple's tid / or the new tuple's tid after the tuple is updated
  - the versions are linked through this field like linked list
- infomask: hint bits (commit status of xmin/xmax, frozen) and HOT chain bits

TupleByte is the on-page representation:
- xmin: 4 byte
- xmax: 4 byte
- ctid: 8 byte
- infomask: 2 byte
- data: variable
*/
package tuple

import (
	"encoding/binary"

	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// TupleByte is on-page byte slice for tuple
type TupleByte []byte

const (
	// tuple header size
	tupleHeaderSize = page.HeapTupleHeaderSize
	// HeaderSize is exported for page capacity calculation
	HeaderSize = tupleHeaderSize
)

const (
	xminOffset     = 0
	xmaxOffset     = 4
	ctidOffset     = 8
	infomaskOffset = 16
	dataOffset     = 18
)

// MaxHeapTuplesPerPage is the upper bound of the number of tuples on a heap page
const MaxHeapTuplesPerPage = page.MaxHeapTuplesPerPage

// NewTuple initializes tuple inserted by the transaction
// xmax is invalid, so the hint bit which indicates it is set as well
func NewTuple(xmin txid.TxID, data []byte) TupleByte {
	b := make([]byte, 0, tupleHeaderSize+len(data))
	b = binary.LittleEndian.AppendUint32(b, uint32(xmin))
	b = binary.LittleEndian.AppendUint32(b, uint32(txid.InvalidTxID))
	b = binary.LittleEndian.AppendUint64(b, marshalTid(InvalidTid))
	b = binary.LittleEndian.AppendUint16(b, xmaxInvalid)
	b = append(b, data...)
	return TupleByte(b)
}

// Data returns the tuple's data
func (t TupleByte) Data() []byte {
	return t[dataOffset:]
}

// Xmin returns xmin
func (t TupleByte) Xmin() txid.TxID {
	return txid.TxID(binary.LittleEndian.Uint32(t[xminOffset : xminOffset+4]))
}

// SetXmin sets xmin
func (t TupleByte) SetXmin(txID txid.TxID) {
	binary.LittleEndian.PutUint32(t[xminOffset:xminOffset+4], uint32(txID))
}

// Xmax returns xmax
func (t TupleByte) Xmax() txid.TxID {
	return txid.TxID(binary.LittleEndian.Uint32(t[xmaxOffset : xmaxOffset+4]))
}

// SetXmax sets xmax. the hint bits about xmax are reset
func (t TupleByte) SetXmax(txID txid.TxID) {
	binary.LittleEndian.PutUint32(t[xmaxOffset:xmaxOffset+4], uint32(txID))
	mask := t.infomask() &^ (xmaxCommitted | xmaxInvalid)
	if txID == txid.InvalidTxID {
		mask |= xmaxInvalid
	}
	t.setInfomask(mask)
}

// Ctid returns ctid
func (t TupleByte) Ctid() Tid {
	return unmarshalTid(t[ctidOffset : ctidOffset+tidSize])
}

// SetCtid sets ctid
func (t TupleByte) SetCtid(ctid Tid) {
	binary.LittleEndian.PutUint64(t[ctidOffset:ctidOffset+tidSize], marshalTid(ctid))
}

// infomask bits
// https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/include/access/htup_details.h#L203-L210
const (
	// xminCommitted indicates xmin has been committed (clog was consulted already)
	xminCommitted uint16 = 0x0100
	// xminInvalid indicates xmin is aborted
	xminInvalid uint16 = 0x0200
	// xminFrozen indicates xmin has been frozen by vacuum and is visible to everyone
	xminFrozen uint16 = 0x0400
	// xmaxCommitted indicates xmax is committed
	xmaxCommitted uint16 = 0x0800
	// xmaxInvalid indicates xmax is invalid/aborted
	xmaxInvalid uint16 = 0x1000
	// heapOnly indicates the tuple is a member of a HOT chain which no index points to
	heapOnly uint16 = 0x2000
	// hotUpdated indicates the tuple has been updated and the new version is on the same page (heap only)
	hotUpdated uint16 = 0x4000
)

func (t TupleByte) infomask() uint16 {
	return binary.LittleEndian.Uint16(t[infomaskOffset : infomaskOffset+2])
}

func (t TupleByte) setInfomask(mask uint16) {
	binary.LittleEndian.PutUint16(t[infomaskOffset:infomaskOffset+2], mask)
}

func (t TupleByte) hasBit(bit uint16) bool {
	return (t.infomask() & bit) != 0
}

func (t TupleByte) setBit(bit uint16) {
	t.setInfomask(t.infomask() | bit)
}

func (t TupleByte) clearBit(bit uint16) {
	t.setInfomask(t.infomask() &^ bit)
}

// XminCommitted returns whether xmin has been committed
func (t TupleByte) XminCommitted() bool { return t.hasBit(xminCommitted) }

// SetXminCommitted sets xmin is committed
func (t TupleByte) SetXminCommitted() { t.setBit(xminCommitted) }

// XminInvalid returns whether xmin is aborted
func (t TupleByte) XminInvalid() bool { return t.hasBit(xminInvalid) }

// SetXminInvalid sets xmin is aborted
func (t TupleByte) SetXminInvalid() { t.setBit(xminInvalid) }

// XminFrozen returns whether xmin is frozen
func (t TupleByte) XminFrozen() bool {
	return t.hasBit(xminFrozen) || t.Xmin() == txid.FrozenTxID
}

// SetXminFrozen sets xmin is frozen
// frozen implies committed
func (t TupleByte) SetXminFrozen() { t.setBit(xminFrozen | xminCommitted) }

// XmaxCommitted returns whether xmax is committed
func (t TupleByte) XmaxCommitted() bool { return t.hasBit(xmaxCommitted) }

// SetXmaxCommitted sets xmax is committed
func (t TupleByte) SetXmaxCommitted() { t.setBit(xmaxCommitted) }

// XmaxInvalid returns whether xmax is invalid
func (t TupleByte) XmaxInvalid() bool { return t.hasBit(xmaxInvalid) }

// SetXmaxInvalid sets xmax is invalid
func (t TupleByte) SetXmaxInvalid() { t.setBit(xmaxInvalid) }

// IsHeapOnly returns whether the tuple is a heap only tuple of a HOT chain
func (t TupleByte) IsHeapOnly() bool { return t.hasBit(heapOnly) }

// SetHeapOnly marks the tuple heap only
func (t TupleByte) SetHeapOnly() { t.setBit(heapOnly) }

// IsHotUpdated returns whether the tuple was updated by a HOT update
func (t TupleByte) IsHotUpdated() bool { return t.hasBit(hotUpdated) }

// SetHotUpdated marks the tuple hot updated
func (t TupleByte) SetHotUpdated() { t.setBit(hotUpdated) }

// ClearHotUpdated clears the hot updated bit. this is used when the update is aborted
func (t TupleByte) ClearHotUpdated() { t.clearBit(hotUpdated) }
