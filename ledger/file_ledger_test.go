package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votemesh/models"
)

func TestFileLedgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	l, err := NewFileLedger(dir)
	require.NoError(t, err)

	require.NoError(t, l.WriteState([]byte("state-1"), []byte("sig-1")))
	txID, err := l.AppendSubmission("vote", "key", "capsule")
	require.NoError(t, err)
	require.NotEmpty(t, txID)
	require.NoError(t, l.WritePayouts([]models.PayoutEntry{{Wallet: "0xabc", Payout: 42}}))

	reopened, err := NewFileLedger(dir)
	require.NoError(t, err)

	state, sig, err := reopened.CurrentState()
	require.NoError(t, err)
	assert.Equal(t, []byte("state-1"), state)
	assert.Equal(t, []byte("sig-1"), sig)

	subs, err := reopened.Submissions()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, txID, subs[0].TxID)
	assert.Equal(t, "capsule", subs[0].Capsule)

	payouts, err := reopened.Payouts()
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, uint64(42), payouts[0].Payout)
}

func TestFileLedgerEmptyState(t *testing.T) {
	l, err := NewFileLedger(t.TempDir())
	require.NoError(t, err)

	state, sig, err := l.CurrentState()
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Nil(t, sig)
}

func TestFileLedgerAssignsUniqueTxIDs(t *testing.T) {
	l, err := NewFileLedger(t.TempDir())
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		txID, err := l.AppendSubmission("v", "k", "c")
		require.NoError(t, err)
		require.False(t, seen[txID])
		seen[txID] = true
	}
}

func TestFileLedgerRejectsOversizedPayoutBatch(t *testing.T) {
	l, err := NewFileLedger(t.TempDir())
	require.NoError(t, err)

	batch := make([]models.PayoutEntry, MaxPayoutBatch+1)
	err = l.WritePayouts(batch)
	require.Error(t, err)

	payouts, err := l.Payouts()
	require.NoError(t, err)
	assert.Empty(t, payouts)
}
