package wal

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

// Kind is the kind of wal record
type Kind uint8

// record kinds written by vacuum
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/include/access/heapam_xlog.h#L52-L60
const (
	// KindClean records slots changed by pruning or by removing dead slots
	KindClean Kind = iota + 1
	// KindFreeze records the freeze plans of a page
	KindFreeze
	// KindVisible records that the page has been marked all-visible in visibility map
	KindVisible
	// KindNewPage records the full image of a newly initialized page
	KindNewPage
	// KindCleanupInfo records the removed xid horizon before indexes are vacuumed
	KindCleanupInfo
	// KindTruncate records the relation has been truncated
	KindTruncate
)

func (k Kind) String() string {
	switch k {
	case KindClean:
		return "clean"
	case KindFreeze:
		return "freeze"
	case KindVisible:
		return "visible"
	case KindNewPage:
		return "new page"
	case KindCleanupInfo:
		return "cleanup info"
	case KindTruncate:
		return "truncate"
	}
	return "unknown"
}

/*
Record is a wal record. the header fields are common to every kind and the payload depends on the kind.

on-disk layout (little endian):
- total length: 4 byte (header + payload)
- kind: 1 byte
- relation: 4 byte
- page id: 4 byte
- xid: 4 byte (latest removed xid, freeze cutoff or visibility cutoff)
- payload: variable
*/
type Record struct {
	Kind    Kind
	Rel     common.Relation
	PageID  page.PageID
	Xid     txid.TxID
	Payload []byte
}

const recordHeaderSize = 17

// ErrShortRecord is returned when the byte slice ends in the middle of record
var ErrShortRecord = errors.New("short wal record")

// encode appends the record to b
func (r Record) encode(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(recordHeaderSize+len(r.Payload)))
	b = append(b, byte(r.Kind))
	b = binary.LittleEndian.AppendUint32(b, uint32(r.Rel))
	b = binary.LittleEndian.AppendUint32(b, uint32(r.PageID))
	b = binary.LittleEndian.AppendUint32(b, uint32(r.Xid))
	return append(b, r.Payload...)
}

// size returns the encoded size
func (r Record) size() int {
	return recordHeaderSize + len(r.Payload)
}

// Decode decodes one record from b and returns it with the number of bytes consumed
func Decode(b []byte) (Record, int, error) {
	if len(b) < recordHeaderSize {
		return Record{}, 0, ErrShortRecord
	}
	total := int(binary.LittleEndian.Uint32(b[0:4]))
	if total < recordHeaderSize {
		return Record{}, 0, errors.Errorf("invalid wal record length %d", total)
	}
	if len(b) < total {
		return Record{}, 0, ErrShortRecord
	}
	r := Record{
		Kind:   Kind(b[4]),
		Rel:    common.Relation(binary.LittleEndian.Uint32(b[5:9])),
		PageID: page.PageID(binary.LittleEndian.Uint32(b[9:13])),
		Xid:    txid.TxID(binary.LittleEndian.Uint32(b[13:17])),
	}
	if total > recordHeaderSize {
		r.Payload = make([]byte, total-recordHeaderSize)
		copy(r.Payload, b[recordHeaderSize:total])
	}
	return r, total, nil
}

// CleanRecord is written when slots of the page are redirected, set dead or set unused
// redirected holds pairs of (from, to)
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/heap/heapam.c#L7152
func CleanRecord(rel common.Relation, pageID page.PageID, latestRemovedXid txid.TxID, redirected [][2]page.SlotIndex, nowDead, nowUnused []page.SlotIndex) Record {
	payload := make([]byte, 0, 6+4*len(redirected)+2*(len(nowDead)+len(nowUnused)))
	payload = binary.LittleEndian.AppendUint16(payload, uint16(len(redirected)))
	payload = binary.LittleEndian.AppendUint16(payload, uint16(len(nowDead)))
	payload = binary.LittleEndian.AppendUint16(payload, uint16(len(nowUnused)))
	for _, rd := range redirected {
		payload = binary.LittleEndian.AppendUint16(payload, uint16(rd[0]))
		payload = binary.LittleEndian.AppendUint16(payload, uint16(rd[1]))
	}
	for _, idx := range nowDead {
		payload = binary.LittleEndian.AppendUint16(payload, uint16(idx))
	}
	for _, idx := range nowUnused {
		payload = binary.LittleEndian.AppendUint16(payload, uint16(idx))
	}
	return Record{Kind: KindClean, Rel: rel, PageID: pageID, Xid: latestRemovedXid, Payload: payload}
}

// DecodeClean decodes the payload of clean record
func DecodeClean(r Record) (redirected [][2]page.SlotIndex, nowDead, nowUnused []page.SlotIndex, err error) {
	if r.Kind != KindClean {
		return nil, nil, nil, errors.Errorf("record kind is %s, not clean", r.Kind)
	}
	b := r.Payload
	if len(b) < 6 {
		return nil, nil, nil, ErrShortRecord
	}
	nred := int(binary.LittleEndian.Uint16(b[0:2]))
	ndead := int(binary.LittleEndian.Uint16(b[2:4]))
	nunused := int(binary.LittleEndian.Uint16(b[4:6]))
	if len(b) != 6+4*nred+2*(ndead+nunused) {
		return nil, nil, nil, ErrShortRecord
	}
	off := 6
	next := func() page.SlotIndex {
		v := page.SlotIndex(binary.LittleEndian.Uint16(b[off : off+2]))
		off += 2
		return v
	}
	for i := 0; i < nred; i++ {
		from := next()
		redirected = append(redirected, [2]page.SlotIndex{from, next()})
	}
	for i := 0; i < ndead; i++ {
		nowDead = append(nowDead, next())
	}
	for i := 0; i < nunused; i++ {
		nowUnused = append(nowUnused, next())
	}
	return redirected, nowDead, nowUnused, nil
}

// FreezeRecord is written when tuples of the page are frozen
func FreezeRecord(rel common.Relation, pageID page.PageID, cutoff txid.TxID, plans []tuple.FreezePlan) Record {
	payload := make([]byte, 0, 3*len(plans))
	for _, plan := range plans {
		payload = binary.LittleEndian.AppendUint16(payload, uint16(plan.Slot))
		var flags byte
		if plan.FreezeXmin {
			flags |= 0x01
		}
		if plan.ClearXmax {
			flags |= 0x02
		}
		payload = append(payload, flags)
	}
	return Record{Kind: KindFreeze, Rel: rel, PageID: pageID, Xid: cutoff, Payload: payload}
}

// DecodeFreeze decodes the payload of freeze record
func DecodeFreeze(r Record) ([]tuple.FreezePlan, error) {
	if r.Kind != KindFreeze {
		return nil, errors.Errorf("record kind is %s, not freeze", r.Kind)
	}
	if len(r.Payload)%3 != 0 {
		return nil, ErrShortRecord
	}
	plans := make([]tuple.FreezePlan, 0, len(r.Payload)/3)
	for off := 0; off < len(r.Payload); off += 3 {
		flags := r.Payload[off+2]
		plans = append(plans, tuple.FreezePlan{
			Slot:       page.SlotIndex(binary.LittleEndian.Uint16(r.Payload[off : off+2])),
			FreezeXmin: flags&0x01 != 0,
			ClearXmax:  flags&0x02 != 0,
		})
	}
	return plans, nil
}

// VisibleRecord is written when the visibility map bits of the page are set
func VisibleRecord(rel common.Relation, pageID page.PageID, cutoff txid.TxID, flags uint8) Record {
	return Record{Kind: KindVisible, Rel: rel, PageID: pageID, Xid: cutoff, Payload: []byte{flags}}
}

// NewPageRecord is written with the full image of the page
func NewPageRecord(rel common.Relation, pageID page.PageID, p page.PagePtr) Record {
	img := make([]byte, page.PageSize)
	copy(img, p[:])
	return Record{Kind: KindNewPage, Rel: rel, PageID: pageID, Payload: img}
}

// CleanupInfoRecord is written before index entries are removed,
// so that standby can resolve conflicts with queries before the index vacuum is replayed
func CleanupInfoRecord(rel common.Relation, latestRemovedXid txid.TxID) Record {
	return Record{Kind: KindCleanupInfo, Rel: rel, PageID: page.InvalidPageID, Xid: latestRemovedXid}
}

// TruncateRecord is written when the relation is truncated to npages
func TruncateRecord(rel common.Relation, npages uint32) Record {
	return Record{Kind: KindTruncate, Rel: rel, PageID: page.PageID(npages)}
}
