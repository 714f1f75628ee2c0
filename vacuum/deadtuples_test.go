package vacuum

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
)

func TestMaxDeadTuples(t *testing.T) {
	tests := []struct {
		name       string
		budget     int
		hasIndexes bool
		relPages   uint32
		expected   int
	}{
		{
			name:       "without indexes one page is enough",
			budget:     DefaultMemoryBudget,
			hasIndexes: false,
			relPages:   10000,
			expected:   tuplesPerPage,
		},
		{
			name:       "budget divided by tid size",
			budget:     1000 * tidSize,
			hasIndexes: true,
			relPages:   100,
			expected:   1000,
		},
		{
			name:       "bounded by the relation size",
			budget:     DefaultMemoryBudget,
			hasIndexes: true,
			relPages:   2,
			expected:   2 * tuplesPerPage,
		},
		{
			name:       "at least one page",
			budget:     10 * tidSize,
			hasIndexes: true,
			relPages:   100,
			expected:   tuplesPerPage,
		},
		{
			name:       "empty relation",
			budget:     DefaultMemoryBudget,
			hasIndexes: true,
			relPages:   0,
			expected:   tuplesPerPage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaxDeadTuples(tt.budget, tt.hasIndexes, tt.relPages))
		})
	}

	t.Run("monotonic in budget", func(t *testing.T) {
		prev := 0
		for budget := 0; budget <= 64*1024; budget += 512 {
			n := MaxDeadTuples(budget, true, 1000)
			assert.GreaterOrEqual(t, n, prev)
			assert.GreaterOrEqual(t, n, tuplesPerPage)
			prev = n
		}
	})
	t.Run("bounded by allocation limit", func(t *testing.T) {
		n := maxDeadTuples(1<<40, tidSize, true, 1<<31)
		assert.Equal(t, maxAllocSize/tidSize, n)
	})
}

func TestDeadTupleStore(t *testing.T) {
	t.Run("record and contains", func(t *testing.T) {
		s, err := NewDeadTupleStore(10)
		require.NoError(t, err)
		assert.Equal(t, 10, s.Cap())

		recorded := []tuple.Tid{
			tuple.NewTid(page.PageID(0), 1),
			tuple.NewTid(page.PageID(0), 3),
			tuple.NewTid(page.PageID(2), 0),
		}
		for _, tid := range recorded {
			assert.True(t, s.Record(tid))
		}
		assert.Equal(t, 3, s.Len())
		for _, tid := range recorded {
			assert.True(t, s.Contains(tid))
		}
		assert.False(t, s.Contains(tuple.NewTid(page.PageID(0), 2)))
		assert.False(t, s.Contains(tuple.NewTid(page.PageID(1), 1)))

		s.Clear()
		assert.Equal(t, 0, s.Len())
		assert.False(t, s.Contains(recorded[0]))
		assert.Equal(t, 10, s.Cap())
	})

	t.Run("full store drops tids", func(t *testing.T) {
		s, err := NewDeadTupleStore(2)
		require.NoError(t, err)
		assert.True(t, s.Record(tuple.NewTid(page.PageID(0), 0)))
		assert.True(t, s.Record(tuple.NewTid(page.PageID(0), 1)))
		assert.False(t, s.Record(tuple.NewTid(page.PageID(0), 2)))
		assert.Equal(t, 2, s.Len())
		assert.False(t, s.Contains(tuple.NewTid(page.PageID(0), 2)))
	})

	t.Run("out of order tids stay sorted", func(t *testing.T) {
		s, err := NewDeadTupleStore(10)
		require.NoError(t, err)
		s.Record(tuple.NewTid(page.PageID(3), 0))
		s.Record(tuple.NewTid(page.PageID(1), 5))
		s.Record(tuple.NewTid(page.PageID(2), 1))
		s.Record(tuple.NewTid(page.PageID(1), 5))

		assert.Equal(t, 3, s.Len())
		for i := 1; i < s.Len(); i++ {
			assert.True(t, s.tids[i-1].Less(s.tids[i]))
		}
		assert.True(t, s.Contains(tuple.NewTid(page.PageID(2), 1)))
	})

	t.Run("nearly full", func(t *testing.T) {
		s, err := NewDeadTupleStore(tuplesPerPage + 1)
		require.NoError(t, err)
		// an empty store is never reclaimed
		assert.False(t, s.nearlyFull())
		s.Record(tuple.NewTid(page.PageID(0), 0))
		assert.False(t, s.nearlyFull())
		s.Record(tuple.NewTid(page.PageID(0), 1))
		assert.True(t, s.nearlyFull())
	})

	t.Run("invalid capacity", func(t *testing.T) {
		_, err := NewDeadTupleStore(0)
		assert.True(t, errors.Is(err, ErrStoreAllocation))
		_, err = NewDeadTupleStore(maxAllocSize)
		assert.True(t, errors.Is(err, ErrStoreAllocation))
	})
}

func TestDeadTupleStores(t *testing.T) {
	a, err := NewDeadTupleStore(4)
	require.NoError(t, err)
	b, err := NewDeadTupleStore(4)
	require.NoError(t, err)
	a.Record(tuple.NewTid(page.PageID(0), 1))
	b.Record(tuple.NewTid(page.PageID(5), 2))

	ss := deadTupleStores{a, b}
	assert.True(t, ss.contains(tuple.NewTid(page.PageID(0), 1)))
	assert.True(t, ss.contains(tuple.NewTid(page.PageID(5), 2)))
	assert.False(t, ss.contains(tuple.NewTid(page.PageID(5), 1)))

	ss.clear()
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, 0, b.Len())
}
