/*
Heap pages use the data layout called `slotted page`.
The slot array grows forward from the header and tuples grow backward from the special space.
`linp` in the figure below is slot, and the space between pd_lower and pd_upper is free space.

  - +----------------+---------------------------------+
  - | PageHeaderData | linp1 linp2 linp3 ...           |
  - +-----------+----+---------------------------------+
  - | ... linpN |                                      |
  - +-----------+--------------------------------------+
  - |           ^ pd_lower                             |
  - |             v pd_upper                           |
  - +-------------+------------------------------------+
  - |             | tupleN ...                         |
  - +-------------+------------------+-----------------+
  - |       ... tuple3 tuple2 tuple1 | "special space" |
  - +--------------------------------+-----------------+

see: https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/include/storage/bufpage.h#L29-L42

Index entries point to slots, not to byte offsets, so vacuum can move tuple storage
around within the page (RepairFragmentation) without touching any index.
*/
package page

import (
	"encoding/binary"

	"github.com/HayatoShiba/ppvacuum/common"
)

// offset is the byte offset within the page
type offset uint16

/*
byte offset of page header fields
- lsn (8 byte): position of the last wal record which modified the page
- flags (2 byte): page level hints such as all-visible
- lower (2 byte): end of slot array
- upper (2 byte): start of tuple storage
- special (2 byte): start of special space
see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/include/storage/bufpage.h#L109-L155
*/
const (
	lsnOffset                offset = 0
	flagsOffset              offset = lsnOffset + 8
	lowerOffsetOffset        offset = flagsOffset + 2
	upperOffsetOffset        offset = lowerOffsetOffset + 2
	specialSpaceOffsetOffset offset = upperOffsetOffset + 2
	slotsOffset              offset = specialSpaceOffsetOffset + 2
)

// HeaderSize is the byte size of page header
const HeaderSize = int(slotsOffset)

// GetLSN returns lsn
func GetLSN(p PagePtr) common.WALRecordPtr {
	return common.WALRecordPtr(binary.LittleEndian.Uint64(p[lsnOffset:flagsOffset]))
}

// SetLSN sets lsn
// the caller has to hold exclusive content lock and must have appended the wal record
func SetLSN(p PagePtr, lsn common.WALRecordPtr) {
	binary.LittleEndian.PutUint64(p[lsnOffset:flagsOffset], uint64(lsn))
}

// GetFlags returns flags
func GetFlags(p PagePtr) uint16 {
	return binary.LittleEndian.Uint16(p[flagsOffset:lowerOffsetOffset])
}

// SetFlags sets flags
func SetFlags(p PagePtr, flags uint16) {
	binary.LittleEndian.PutUint16(p[flagsOffset:lowerOffsetOffset], flags)
}

// GetLowerOffset returns lower offset
func GetLowerOffset(p PagePtr) offset {
	return offset(binary.LittleEndian.Uint16(p[lowerOffsetOffset:upperOffsetOffset]))
}

// SetLowerOffset sets lower offset
func SetLowerOffset(p PagePtr, o offset) {
	binary.LittleEndian.PutUint16(p[lowerOffsetOffset:upperOffsetOffset], uint16(o))
}

// GetUpperOffset returns upper offset
func GetUpperOffset(p PagePtr) offset {
	return offset(binary.LittleEndian.Uint16(p[upperOffsetOffset:specialSpaceOffsetOffset]))
}

// SetUpperOffset sets upper offset
func SetUpperOffset(p PagePtr, o offset) {
	binary.LittleEndian.PutUint16(p[upperOffsetOffset:specialSpaceOffsetOffset], uint16(o))
}

// GetSpecialSpaceOffset returns special space offset
func GetSpecialSpaceOffset(p PagePtr) offset {
	return offset(binary.LittleEndian.Uint16(p[specialSpaceOffsetOffset:slotsOffset]))
}

// SetSpecialSpaceOffset sets special space offset
func SetSpecialSpaceOffset(p PagePtr, o offset) {
	binary.LittleEndian.PutUint16(p[specialSpaceOffsetOffset:slotsOffset], uint16(o))
}

// page flags
// see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/include/storage/bufpage.h#L172-L186
const (
	// every tuple on the page is visible to all transactions.
	// this is a copy of the visibility map bit kept on the page so that writers can check it cheaply
	allVisible uint16 = 0x01
)

// IsAllVisible is whether the flags allVisible is set
func IsAllVisible(p PagePtr) bool {
	return (GetFlags(p) & allVisible) != 0
}

// SetAllVisible sets allVisible bit
func SetAllVisible(p PagePtr) {
	SetFlags(p, GetFlags(p)|allVisible)
}

// ClearAllVisible clears allVisible bit
func ClearAllVisible(p PagePtr) {
	SetFlags(p, GetFlags(p)&^allVisible)
}
