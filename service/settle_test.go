package service

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votemesh/models"
)

func (c *cluster) processAndPublish(t *testing.T, wallet string, amount uint64, side models.Side) {
	t.Helper()
	resp, err := c.nodes[0].ProcessVote(context.Background(), c.voteRequest(t, wallet, amount, side))
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)

	state, err := base64.StdEncoding.DecodeString(resp.NewEncryptedState)
	require.NoError(t, err)
	sig, err := base64.StdEncoding.DecodeString(resp.Signature)
	require.NoError(t, err)
	require.NoError(t, c.ledger.WriteState(state, sig))
}

func TestSettleWritesPayouts(t *testing.T) {
	c := newCluster(t, clusterOpts{seed: 30})

	c.processAndPublish(t, "0xwinner", 100, models.SideA)
	c.processAndPublish(t, "0xloser", 150, models.SideB)

	fin, err := c.nodes[0].Settle(context.Background(), models.SideA)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), fin.TotalPool)
	assert.Equal(t, 1, fin.TotalWinners)
	assert.Equal(t, 1, fin.TotalLosers)

	payouts, err := c.ledger.Payouts()
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	byWallet := make(map[string]uint64)
	for _, p := range payouts {
		byWallet[p.Wallet] = p.Payout
	}
	assert.Equal(t, uint64(250), byWallet["0xwinner"])
	assert.Equal(t, uint64(0), byWallet["0xloser"])
}

func TestSettleRejectsUnknownSide(t *testing.T) {
	c := newCluster(t, clusterOpts{seed: 31})

	_, err := c.nodes[0].Settle(context.Background(), models.Side("C"))
	require.Error(t, err)

	payouts, err := c.ledger.Payouts()
	require.NoError(t, err)
	assert.Empty(t, payouts)
}
