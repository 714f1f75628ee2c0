package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/buffer"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
)

func testingExtendHeap(t *testing.T, m *Manager, rel common.Relation, n int) {
	for i := 0; i < n; i++ {
		bufID, _, err := m.bm.ExtendRelation(rel, disk.ForkNumberMain)
		require.NoError(t, err)
		m.bm.ReleaseBuffer(bufID)
	}
}

func TestRecordFreeSpace(t *testing.T) {
	m, err := TestingNewManager()
	require.NoError(t, err)
	rel := common.Relation(1)

	// recording zero on a page not covered by fsm does not extend the fork
	err = m.RecordFreeSpace(rel, page.PageID(10), 0)
	assert.NoError(t, err)
	n, err := m.bm.NPages(rel, disk.ForkNumberFSM)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0), n)

	err = m.RecordFreeSpace(rel, page.PageID(10), 100)
	assert.NoError(t, err)
	size, err := m.GetFreeSpace(rel, page.PageID(10))
	assert.NoError(t, err)
	// rounded down to the category
	assert.Equal(t, 96, size)

	// the page covered by the second fsm page
	far := page.PageID(leafNodeNum + 3)
	err = m.RecordFreeSpace(rel, far, 8000)
	assert.NoError(t, err)
	size, err = m.GetFreeSpace(rel, far)
	assert.NoError(t, err)
	assert.Equal(t, 8000/fsmCatStep*fsmCatStep, size)

	err = m.RecordFreeSpace(rel, far, -1)
	assert.Error(t, err)
}

func TestSearchPageIDWithFreeSpaceSize(t *testing.T) {
	m, err := TestingNewManager()
	require.NoError(t, err)
	rel := common.Relation(1)
	testingExtendHeap(t, m, rel, 5)

	pid, err := m.SearchPageIDWithFreeSpaceSize(rel, 100)
	assert.NoError(t, err)
	assert.Equal(t, page.InvalidPageID, pid)

	require.NoError(t, m.RecordFreeSpace(rel, page.PageID(1), 64))
	require.NoError(t, m.RecordFreeSpace(rel, page.PageID(3), 4000))

	pid, err = m.SearchPageIDWithFreeSpaceSize(rel, 64)
	assert.NoError(t, err)
	assert.Equal(t, page.PageID(1), pid)

	pid, err = m.SearchPageIDWithFreeSpaceSize(rel, 65)
	assert.NoError(t, err)
	assert.Equal(t, page.PageID(3), pid)

	// pages beyond the end of heap are never returned
	require.NoError(t, m.RecordFreeSpace(rel, page.PageID(7), 8000))
	pid, err = m.SearchPageIDWithFreeSpaceSize(rel, 5000)
	assert.NoError(t, err)
	assert.Equal(t, page.InvalidPageID, pid)
}

func TestTruncate(t *testing.T) {
	m, err := TestingNewManager()
	require.NoError(t, err)
	rel := common.Relation(1)
	testingExtendHeap(t, m, rel, 6)
	for i := 0; i < 6; i++ {
		require.NoError(t, m.RecordFreeSpace(rel, page.PageID(i), 1000))
	}

	require.NoError(t, m.Truncate(rel, 3))
	for i := 0; i < 6; i++ {
		size, err := m.GetFreeSpace(rel, page.PageID(i))
		assert.NoError(t, err)
		if i < 3 {
			assert.Equal(t, 992, size)
		} else {
			assert.Equal(t, 0, size)
		}
	}

	pid, err := m.SearchPageIDWithFreeSpaceSize(rel, 500)
	assert.NoError(t, err)
	assert.Equal(t, page.PageID(0), pid)

	// truncating to zero removes the bottom level, and the upper levels show no free space
	require.NoError(t, m.Truncate(rel, 0))
	n, err := m.bm.NPages(rel, disk.ForkNumberFSM)
	assert.NoError(t, err)
	assert.Equal(t, uint32(getFSMPageIDFromAddress(address{treeLevel: treeLevelBottom})), n)
	size, err := m.GetFreeSpace(rel, page.PageID(0))
	assert.NoError(t, err)
	assert.Equal(t, 0, size)
	assert.Equal(t, freeSpaceSize(0), testingRootAvail(t, m, rel))
}

// testingRootAvail returns the root node of the root page
func testingRootAvail(t *testing.T, m *Manager, rel common.Relation) freeSpaceSize {
	t.Helper()
	bufID, err := m.bm.ReadBufferFSM(rel, page.PageID(getFSMPageIDFromAddress(rootAddress)), false, false)
	require.NoError(t, err)
	if bufID == buffer.InvalidBufferID {
		return 0
	}
	defer m.bm.ReleaseBufferFSM(bufID, false)
	return getMaxAvail(m.bm.GetPage(bufID))
}

// testingSetLeaf records the free space on the bottom level alone, leaving the upper levels as they are
func testingSetLeaf(t *testing.T, m *Manager, rel common.Relation, pageID page.PageID, size int) {
	t.Helper()
	fss, ok := convertToFreeSpaceSize(size)
	require.True(t, ok)
	addr, slot := getAddressFromRelationPageID(pageID)
	_, err := m.setSlot(rel, addr, slot, fss, true)
	require.NoError(t, err)
}

func TestVacuum(t *testing.T) {
	t.Run("finds the page recorded on a leaf through the root after vacuum", func(t *testing.T) {
		m, err := TestingNewManager()
		require.NoError(t, err)
		rel := common.Relation(1)
		// the page lives under the second bottom page
		far := page.PageID(leafNodeNum + 5)
		testingExtendHeap(t, m, rel, int(far)+1)

		testingSetLeaf(t, m, rel, far, 4000)
		pid, err := m.SearchPageIDWithFreeSpaceSize(rel, 3000)
		assert.NoError(t, err)
		assert.Equal(t, page.InvalidPageID, pid)
		assert.Equal(t, freeSpaceSize(0), testingRootAvail(t, m, rel))

		require.NoError(t, m.Vacuum(rel))
		fss, _ := convertToFreeSpaceSize(4000)
		assert.Equal(t, fss, testingRootAvail(t, m, rel))
		pid, err = m.SearchPageIDWithFreeSpaceSize(rel, 3000)
		assert.NoError(t, err)
		assert.Equal(t, far, pid)
	})

	t.Run("lowers the upper levels after a decrease", func(t *testing.T) {
		m, err := TestingNewManager()
		require.NoError(t, err)
		rel := common.Relation(1)
		testingExtendHeap(t, m, rel, 4)

		require.NoError(t, m.RecordFreeSpace(rel, page.PageID(2), 8000))
		require.NoError(t, m.RecordFreeSpace(rel, page.PageID(3), 1000))
		require.NoError(t, m.RecordFreeSpace(rel, page.PageID(2), 0))
		// the decrease stays within the bottom page
		high, _ := convertToFreeSpaceSize(8000)
		assert.Equal(t, high, testingRootAvail(t, m, rel))

		require.NoError(t, m.Vacuum(rel))
		low, _ := convertToFreeSpaceSize(1000)
		assert.Equal(t, low, testingRootAvail(t, m, rel))
	})

	t.Run("empty fork", func(t *testing.T) {
		m, err := TestingNewManager()
		require.NoError(t, err)
		assert.NoError(t, m.Vacuum(common.Relation(1)))
	})
}

func TestSearchFixesStaleUpperLevels(t *testing.T) {
	m, err := TestingNewManager()
	require.NoError(t, err)
	rel := common.Relation(1)
	testingExtendHeap(t, m, rel, 4)

	require.NoError(t, m.RecordFreeSpace(rel, page.PageID(1), 8000))
	require.NoError(t, m.RecordFreeSpace(rel, page.PageID(1), 100))

	// the root promises 8000 bytes, the search finds none and corrects the root on its way
	pid, err := m.SearchPageIDWithFreeSpaceSize(rel, 5000)
	assert.NoError(t, err)
	assert.Equal(t, page.InvalidPageID, pid)
	fss, _ := convertToFreeSpaceSize(100)
	assert.Equal(t, fss, testingRootAvail(t, m, rel))

	pid, err = m.SearchPageIDWithFreeSpaceSize(rel, 90)
	assert.NoError(t, err)
	assert.Equal(t, page.PageID(1), pid)
}
