package disk

import (
	"testing"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	baseDir = t.TempDir()
	_, err := NewManager()
	assert.Nil(t, err)
}

func TestManagerPages(t *testing.T) {
	tests := []struct {
		name string
		new  func(t *testing.T) (*Manager, error)
	}{
		{name: "buffer storage", new: func(t *testing.T) (*Manager, error) { return TestingNewBufferManager() }},
		{name: "file storage", new: TestingNewFileManager},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.new(t)
			require.Nil(t, err)
			rel := common.Relation(1)

			n, err := m.GetNPages(rel, ForkNumberMain)
			require.Nil(t, err)
			assert.Equal(t, uint32(0), n)

			for i := 0; i < 3; i++ {
				pageID, err := m.ExtendPage(rel, ForkNumberMain)
				require.Nil(t, err)
				assert.Equal(t, page.PageID(i), pageID)
			}
			n, err = m.GetNPages(rel, ForkNumberMain)
			require.Nil(t, err)
			assert.Equal(t, uint32(3), n)

			// write and read back
			p := page.NewPagePtr()
			page.InitializePage(p, 0)
			p[100] = 42
			require.Nil(t, m.WritePage(rel, ForkNumberMain, 1, p, true))
			got := page.NewPagePtr()
			require.Nil(t, m.ReadPage(rel, ForkNumberMain, 1, got))
			assert.Equal(t, byte(42), got[100])

			// other forks are separate
			n, err = m.GetNPages(rel, ForkNumberVM)
			require.Nil(t, err)
			assert.Equal(t, uint32(0), n)

			// truncate
			require.Nil(t, m.Truncate(rel, ForkNumberMain, 1))
			n, err = m.GetNPages(rel, ForkNumberMain)
			require.Nil(t, err)
			assert.Equal(t, uint32(1), n)
			assert.NotNil(t, m.ReadPage(rel, ForkNumberMain, 1, got))
			assert.NotNil(t, m.Truncate(rel, ForkNumberMain, 5))
		})
	}
}
