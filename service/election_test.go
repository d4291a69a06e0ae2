package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votemesh/models"
)

func TestElectionConverges(t *testing.T) {
	c := newCluster(t, clusterOpts{seed: 42})

	c.nodes[0].InitiateElection()

	// Every node must settle on the same leader; a tie is re-run by
	// the coordinator until a unique winner emerges.
	require.Eventually(t, func() bool {
		leader := c.nodes[0].Leader()
		if leader == noLeader {
			return false
		}
		for _, n := range c.nodes {
			if n.Leader() != leader {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTallyPluralityWinner(t *testing.T) {
	c := newCluster(t, clusterOpts{seed: 1, isolated: true})
	n := c.nodes[3]

	// Six fabricated peers all back candidate 5; whatever node 3
	// proposes for itself cannot outweigh them.
	round := uint64(10)
	for _, voter := range []int{0, 1, 2, 4, 5} {
		resp := n.HandleCastVote(models.CastVoteRequest{VoterID: voter, Candidate: 5, ElectionRound: round})
		require.Contains(t, []models.VoteStatus{models.VoteStatusVoting, models.VoteStatusVoteRecorded}, resp.Status)
	}
	resp := n.HandleCastVote(models.CastVoteRequest{VoterID: 6, Candidate: 5, ElectionRound: round})

	require.Equal(t, models.VoteStatusComplete, resp.Status)
	require.NotNil(t, resp.Leader)
	assert.Equal(t, 5, *resp.Leader)
	assert.Equal(t, 5, n.Leader())
}

func TestTallyTieYieldsNoWinner(t *testing.T) {
	// A corrupted node always proposes itself, which pins its own
	// vote and makes the tie deterministic: 3 for 1, 3 for 2, 1 for 3.
	c := newCluster(t, clusterOpts{seed: 1, corrupted: map[int]bool{3: true}, isolated: true})
	n := c.nodes[3]

	round := uint64(10)
	votes := []struct{ voter, candidate int }{
		{0, 1}, {1, 1}, {2, 1}, {4, 2}, {5, 2},
	}
	for _, v := range votes {
		n.HandleCastVote(models.CastVoteRequest{VoterID: v.voter, Candidate: v.candidate, ElectionRound: round})
	}
	resp := n.HandleCastVote(models.CastVoteRequest{VoterID: 6, Candidate: 2, ElectionRound: round})

	require.Equal(t, models.VoteStatusTie, resp.Status)
	assert.Equal(t, noLeader, n.Leader())
}

func TestOldRoundVoteRejected(t *testing.T) {
	c := newCluster(t, clusterOpts{seed: 3, isolated: true})
	n := c.nodes[1]

	n.HandleCastVote(models.CastVoteRequest{VoterID: 0, Candidate: 2, ElectionRound: 5})
	resp := n.HandleCastVote(models.CastVoteRequest{VoterID: 2, Candidate: 2, ElectionRound: 4})
	assert.Equal(t, models.VoteStatusOldRound, resp.Status)
}

func TestLateVoteAdoptsNewerRound(t *testing.T) {
	c := newCluster(t, clusterOpts{seed: 4, isolated: true})
	n := c.nodes[2]

	resp := n.HandleCastVote(models.CastVoteRequest{VoterID: 0, Candidate: 1, ElectionRound: 7})
	assert.Equal(t, models.VoteStatusVoting, resp.Status)

	st := n.State()
	assert.Equal(t, uint64(7), st.ElectionRound)
}

func TestLeaderTimeoutPenalizesAndReelects(t *testing.T) {
	c := newCluster(t, clusterOpts{seed: 5})
	coordinator := c.nodes[0]

	// Install a stalled leader with pending work on the coordinator.
	coordinator.mu.Lock()
	coordinator.leader = 2
	coordinator.leaderSince = time.Now().Add(-time.Hour)
	coordinator.pending = append(coordinator.pending, models.PendingEvent{TxID: "tx-stalled"})
	coordinator.cfg.LeaderTimeout = time.Millisecond
	coordinator.mu.Unlock()

	coordinator.checkLeaderProgress()

	// Every node independently penalized the stalled leader: one
	// failure moves the weight from 1.0 to 0.7.
	for i, n := range c.nodes {
		rep := n.State().Reputation[2]
		assert.Equal(t, 1, rep.Failures, "node %d", i)
		assert.InDelta(t, 0.7, rep.Weight, 1e-9, "node %d", i)
	}
	// The forced re-election advanced the round.
	assert.GreaterOrEqual(t, coordinator.State().ElectionRound, uint64(1))
}
