package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

func TestAppendInMemory(t *testing.T) {
	l := NewLog()
	assert.Equal(t, common.InvalidWALRecordPtr, l.InsertPtr())

	ptr1, err := l.Append(CleanupInfoRecord(common.Relation(1), txid.TxID(10)))
	require.NoError(t, err)
	ptr2, err := l.Append(TruncateRecord(common.Relation(1), 5))
	require.NoError(t, err)
	assert.NotEqual(t, common.InvalidWALRecordPtr, ptr1)
	assert.Greater(t, ptr2, ptr1)
	assert.Equal(t, ptr2, l.InsertPtr())

	records, err := l.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, KindCleanupInfo, records[0].Kind)
	assert.Equal(t, txid.TxID(10), records[0].Xid)
	assert.Equal(t, KindTruncate, records[1].Kind)
	assert.Equal(t, page.PageID(5), records[1].PageID)
}

func TestAppendFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	l, err := Open(path)
	require.NoError(t, err)

	p := page.NewPagePtr()
	page.InitializePage(p, 0)
	_, err = l.Append(NewPageRecord(common.Relation(1), page.PageID(3), p))
	require.NoError(t, err)
	last, err := l.Append(VisibleRecord(common.Relation(1), page.PageID(3), txid.TxID(7), 0x03))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// reopen continues after the end
	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, last, l.InsertPtr())
	next, err := l.Append(CleanupInfoRecord(common.Relation(1), txid.TxID(8)))
	require.NoError(t, err)
	assert.Greater(t, next, last)

	records, err := l.Records()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, KindNewPage, records[0].Kind)
	assert.Equal(t, p[:], records[0].Payload)
	assert.Equal(t, KindVisible, records[1].Kind)
	assert.Equal(t, []byte{0x03}, records[1].Payload)
	assert.Equal(t, KindCleanupInfo, records[2].Kind)
}

func TestDecode(t *testing.T) {
	t.Run("clean record", func(t *testing.T) {
		redirected := [][2]page.SlotIndex{{1, 4}}
		r := CleanRecord(common.Relation(1), page.PageID(2), txid.TxID(9), redirected, []page.SlotIndex{2}, []page.SlotIndex{3, 5})
		decoded, n, err := Decode(r.encode(nil))
		require.NoError(t, err)
		assert.Equal(t, r.size(), n)
		assert.Equal(t, r, decoded)

		gotRedirected, dead, unused, err := DecodeClean(decoded)
		require.NoError(t, err)
		assert.Equal(t, redirected, gotRedirected)
		assert.Equal(t, []page.SlotIndex{2}, dead)
		assert.Equal(t, []page.SlotIndex{3, 5}, unused)
	})
	t.Run("freeze record", func(t *testing.T) {
		plans := []tuple.FreezePlan{{Slot: 0, FreezeXmin: true}, {Slot: 3, ClearXmax: true}}
		r := FreezeRecord(common.Relation(1), page.PageID(2), txid.TxID(9), plans)
		got, err := DecodeFreeze(r)
		require.NoError(t, err)
		assert.Equal(t, plans, got)

		_, _, _, err = DecodeClean(r)
		assert.Error(t, err)
	})
	t.Run("short record", func(t *testing.T) {
		b := CleanupInfoRecord(common.Relation(1), txid.TxID(1)).encode(nil)
		_, _, err := Decode(b[:10])
		assert.ErrorIs(t, err, ErrShortRecord)
		b = TruncateRecord(common.Relation(1), 1).encode(nil)
		b = append(b[:0:0], b...)
		b[0] = 3
		_, _, err = Decode(b)
		assert.Error(t, err)
	})
}
