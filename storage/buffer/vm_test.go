package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/vm"
)

func TestVMStatus(t *testing.T) {
	rel := common.Relation(1)
	m, err := TestingNewManager()
	require.NoError(t, err)

	// no vm fork yet
	status, err := m.GetVMStatus(rel, page.PageID(5))
	assert.NoError(t, err)
	assert.Equal(t, vm.StatusInitialized, status)
	assert.NoError(t, m.ClearVMStatus(rel, page.PageID(5), vm.StatusAllVisible))

	old, err := m.SetVMStatus(rel, page.PageID(5), vm.StatusAllVisible)
	assert.NoError(t, err)
	assert.Equal(t, vm.StatusInitialized, old)
	old, err = m.SetVMStatus(rel, page.PageID(5), vm.StatusAllFrozen)
	assert.NoError(t, err)
	assert.Equal(t, vm.StatusAllVisible, old)
	status, err = m.GetVMStatus(rel, page.PageID(5))
	assert.NoError(t, err)
	assert.Equal(t, vm.StatusValidBits, status)

	// clearing all-visible clears all-frozen too
	require.NoError(t, m.ClearVMStatus(rel, page.PageID(5), vm.StatusAllVisible))
	status, err = m.GetVMStatus(rel, page.PageID(5))
	assert.NoError(t, err)
	assert.Equal(t, vm.StatusInitialized, status)

	// setting all-frozen alone sets all-visible too
	_, err = m.SetVMStatus(rel, page.PageID(6), vm.StatusAllFrozen)
	assert.NoError(t, err)
	status, err = m.GetVMStatus(rel, page.PageID(6))
	assert.NoError(t, err)
	assert.Equal(t, vm.StatusValidBits, status)
}

func TestCountVMAndTruncateVM(t *testing.T) {
	rel := common.Relation(1)
	m, err := TestingNewManager()
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		flags := vm.StatusAllVisible
		if i%2 == 0 {
			flags = vm.StatusAllFrozen
		}
		_, err := m.SetVMStatus(rel, page.PageID(i), flags)
		require.NoError(t, err)
	}
	allVisible, allFrozen, err := m.CountVM(rel, 8)
	assert.NoError(t, err)
	assert.Equal(t, uint32(8), allVisible)
	assert.Equal(t, uint32(4), allFrozen)

	require.NoError(t, m.TruncateVM(rel, 5))
	allVisible, allFrozen, err = m.CountVM(rel, 8)
	assert.NoError(t, err)
	assert.Equal(t, uint32(5), allVisible)
	assert.Equal(t, uint32(3), allFrozen)
	n, err := m.NPages(rel, disk.ForkNumberVM)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	require.NoError(t, m.TruncateVM(rel, 0))
	n, err = m.NPages(rel, disk.ForkNumberVM)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0), n)
}
