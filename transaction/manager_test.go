package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HayatoShiba/ppvacuum/transaction/txid"
)

func TestBeginCommitAbort(t *testing.T) {
	m := TestingNewManager()

	tx1 := m.Begin()
	tx2 := m.Begin()
	assert.Equal(t, txid.FirstTxID, tx1.ID())
	assert.Equal(t, txid.FirstTxID+1, tx2.ID())
	assert.True(t, m.IsInProgress(tx1.ID()))
	assert.Equal(t, tx1.ID(), m.OldestXmin())

	require.NoError(t, m.Commit(tx1))
	assert.False(t, m.IsInProgress(tx1.ID()))
	assert.True(t, m.IsCommitted(tx1.ID()))
	assert.Equal(t, StateCommitted, tx1.State())
	assert.Equal(t, tx2.ID(), m.OldestXmin())

	require.NoError(t, m.Abort(tx2))
	assert.False(t, m.IsCommitted(tx2.ID()))
	assert.Equal(t, StateAborted, tx2.State())
	// nothing is running
	assert.Equal(t, m.NextTxID(), m.OldestXmin())

	assert.Error(t, m.Commit(tx1))
}
