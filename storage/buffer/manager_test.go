package buffer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
)

func TestReadBuffer(t *testing.T) {
	rel := common.Relation(1)
	forkNum := disk.ForkNumberMain

	t.Run("page which does not exist", func(t *testing.T) {
		m, err := TestingNewManager()
		require.NoError(t, err)
		_, err = m.ReadBuffer(rel, forkNum, page.PageID(0))
		assert.Error(t, err)
	})
	t.Run("the page id is already stored in buffer table", func(t *testing.T) {
		m, err := TestingNewManager()
		require.NoError(t, err)

		pid, err := m.dm.ExtendPage(rel, forkNum)
		require.NoError(t, err)
		p, err := page.TestingNewRandomPage()
		require.NoError(t, err)
		require.NoError(t, m.dm.WritePage(rel, forkNum, pid, p, false))

		bufID1, err := m.ReadBuffer(rel, forkNum, pid)
		require.NoError(t, err)
		bufID2, err := m.ReadBuffer(rel, forkNum, pid)
		require.NoError(t, err)

		assert.Equal(t, bufID1, bufID2)
		assert.True(t, bytes.Equal(p[:], m.GetPage(bufID1)[:]))
		assert.Equal(t, int32(2), m.descriptors[bufID1].referenceCount())
		assert.Equal(t, pid, m.GetPageID(bufID1))
		m.ReleaseBuffer(bufID1)
		m.ReleaseBuffer(bufID2)
		assert.Equal(t, int32(0), m.descriptors[bufID1].referenceCount())
	})
	t.Run("dirty victim is written out before eviction", func(t *testing.T) {
		m, err := TestingNewManagerWithBufferNum(2)
		require.NoError(t, err)

		bufID, pid, err := m.ExtendRelation(rel, forkNum)
		require.NoError(t, err)
		p := m.GetPage(bufID)
		m.AcquireContentLock(bufID, true)
		page.InitializePage(p, 0)
		m.MarkDirty(bufID)
		m.ReleaseContentLock(bufID, true)
		m.ReleaseBuffer(bufID)

		// two more pages push the first one out of the pool
		for i := 0; i < 2; i++ {
			b, _, err := m.ExtendRelation(rel, forkNum)
			require.NoError(t, err)
			m.ReleaseBuffer(b)
		}

		onDisk := page.NewPagePtr()
		require.NoError(t, m.dm.ReadPage(rel, forkNum, pid, onDisk))
		assert.True(t, page.IsInitialized(onDisk))
	})
	t.Run("every buffer is pinned", func(t *testing.T) {
		m, err := TestingNewManagerWithBufferNum(1)
		require.NoError(t, err)

		_, _, err = m.ExtendRelation(rel, forkNum)
		require.NoError(t, err)
		_, _, err = m.ExtendRelation(rel, forkNum)
		assert.ErrorIs(t, err, ErrNoUnpinnedBuffers)
	})
}

func TestCleanupLock(t *testing.T) {
	rel := common.Relation(1)
	m, err := TestingNewManager()
	require.NoError(t, err)
	bufID, _, err := m.ExtendRelation(rel, disk.ForkNumberMain)
	require.NoError(t, err)

	t.Run("sole pinner", func(t *testing.T) {
		assert.True(t, m.ConditionalLockForCleanup(bufID))
		m.ReleaseContentLock(bufID, true)
	})
	t.Run("content lock held by other", func(t *testing.T) {
		m.AcquireContentLock(bufID, false)
		assert.False(t, m.ConditionalLockForCleanup(bufID))
		m.ReleaseContentLock(bufID, false)
	})
	t.Run("pinned by other", func(t *testing.T) {
		pid := m.GetPageID(bufID)
		other, err := m.ReadBuffer(rel, disk.ForkNumberMain, pid)
		require.NoError(t, err)
		assert.False(t, m.ConditionalLockForCleanup(bufID))

		// LockForCleanup waits until the other pin is released
		go func() {
			time.Sleep(10 * time.Millisecond)
			m.ReleaseBuffer(other)
		}()
		assert.NoError(t, m.LockForCleanup(context.Background(), bufID))
		m.ReleaseContentLock(bufID, true)
	})
	t.Run("cancelled while waiting", func(t *testing.T) {
		pid := m.GetPageID(bufID)
		other, err := m.ReadBuffer(rel, disk.ForkNumberMain, pid)
		require.NoError(t, err)
		defer m.ReleaseBuffer(other)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, m.LockForCleanup(ctx, bufID), context.DeadlineExceeded)
	})
}

func TestTruncateRelation(t *testing.T) {
	rel := common.Relation(1)
	m, err := TestingNewManager()
	require.NoError(t, err)

	var pinned BufferID
	for i := 0; i < 4; i++ {
		bufID, _, err := m.ExtendRelation(rel, disk.ForkNumberMain)
		require.NoError(t, err)
		if i == 3 {
			pinned = bufID
			continue
		}
		m.ReleaseBuffer(bufID)
	}

	// a pinned page cannot be dropped
	assert.Error(t, m.TruncateRelation(rel, disk.ForkNumberMain, 2))
	m.ReleaseBuffer(pinned)

	require.NoError(t, m.TruncateRelation(rel, disk.ForkNumberMain, 2))
	n, err := m.NPages(rel, disk.ForkNumberMain)
	assert.NoError(t, err)
	assert.Equal(t, uint32(2), n)
	_, err = m.ReadBuffer(rel, disk.ForkNumberMain, page.PageID(3))
	assert.Error(t, err)

	// the dropped buffers are reusable
	bufID, pid, err := m.ExtendRelation(rel, disk.ForkNumberMain)
	assert.NoError(t, err)
	assert.Equal(t, page.PageID(2), pid)
	m.ReleaseBuffer(bufID)
}

func TestFlushAll(t *testing.T) {
	rel := common.Relation(1)
	m, err := TestingNewManager()
	require.NoError(t, err)

	bufID, pid, err := m.ExtendRelation(rel, disk.ForkNumberMain)
	require.NoError(t, err)
	m.AcquireContentLock(bufID, true)
	page.InitializePage(m.GetPage(bufID), 0)
	m.MarkDirty(bufID)
	m.ReleaseContentLock(bufID, true)
	m.ReleaseBuffer(bufID)

	written, err := m.FlushAll()
	assert.NoError(t, err)
	assert.Equal(t, 1, written)

	onDisk := page.NewPagePtr()
	require.NoError(t, m.dm.ReadPage(rel, disk.ForkNumberMain, pid, onDisk))
	assert.True(t, page.IsInitialized(onDisk))

	// nothing is dirty anymore
	written, err = m.FlushAll()
	assert.NoError(t, err)
	assert.Equal(t, 0, written)
}
