package service

import (
	"context"
	"time"

	"votemesh/models"
)

// tallyOutcome is the result of counting a full round of votes.
type tallyOutcome struct {
	tie    bool
	leader int
}

// InitiateElection opens a new round: bump the round number, propose a
// candidate, record our own vote and push everything to the peers.
// Only the coordinator node calls this spontaneously; everyone else
// joins rounds they hear about.
func (n *NodeService) InitiateElection() {
	n.mu.Lock()
	if n.electionInProgress || n.leader != noLeader {
		n.mu.Unlock()
		return
	}
	n.round++
	round := n.round
	n.electionInProgress = true
	n.votes = make(map[int]int)
	candidate := n.proposeCandidateLocked()
	n.votes[n.cfg.NodeIndex] = candidate
	outcome := n.resolveTallyLocked()
	n.mu.Unlock()

	n.log.Info().Uint64("round", round).Int("candidate", candidate).Msg("starting election")
	n.broadcast("start_election", func(ctx context.Context, p Peer) error {
		return p.StartElection(ctx, models.StartElectionRequest{ElectionRound: round, InitiatorID: n.cfg.NodeIndex})
	})
	n.broadcastVote(round, candidate)
	n.reactToOutcome(outcome)
}

// HandleStartElection joins an election round announced by a peer.
func (n *NodeService) HandleStartElection(req models.StartElectionRequest) {
	n.mu.Lock()
	if req.ElectionRound <= n.round {
		n.mu.Unlock()
		return
	}
	candidate := n.adoptRoundLocked(req.ElectionRound)
	n.mu.Unlock()

	n.broadcastVote(req.ElectionRound, candidate)
}

// adoptRoundLocked moves this node onto a newer round and casts its
// own vote. Returns the candidate for rebroadcast by the caller.
func (n *NodeService) adoptRoundLocked(round uint64) int {
	n.round = round
	n.electionInProgress = true
	n.leader = noLeader
	n.votes = make(map[int]int)
	candidate := n.proposeCandidateLocked()
	n.votes[n.cfg.NodeIndex] = candidate
	return candidate
}

// proposeCandidateLocked draws a candidate by reputation-weighted
// random selection. A corrupted node always proposes itself.
func (n *NodeService) proposeCandidateLocked() int {
	if n.cfg.Corrupted {
		return n.cfg.NodeIndex
	}
	return n.reputation.PickWeighted(n.rng, n.nodeCount())
}

// HandleCastVote records a peer's vote. Votes for older rounds are
// rejected, votes for newer rounds pull this node into the new round,
// and the last vote of a full round triggers the tally.
func (n *NodeService) HandleCastVote(req models.CastVoteRequest) models.CastVoteResponse {
	n.mu.Lock()

	var status models.VoteStatus
	rebroadcast := false
	var ownCandidate int

	switch {
	case req.ElectionRound < n.round:
		n.mu.Unlock()
		return models.CastVoteResponse{Status: models.VoteStatusOldRound}
	case req.ElectionRound > n.round:
		ownCandidate = n.adoptRoundLocked(req.ElectionRound)
		rebroadcast = true
		status = models.VoteStatusVoting
	default:
		if !n.electionInProgress {
			if n.leader != noLeader {
				leader := n.leader
				n.mu.Unlock()
				return models.CastVoteResponse{Status: models.VoteStatusComplete, Leader: &leader}
			}
			n.mu.Unlock()
			return models.CastVoteResponse{Status: models.VoteStatusOldRound}
		}
		status = models.VoteStatusVoteRecorded
	}

	if _, voted := n.votes[req.VoterID]; !voted {
		n.votes[req.VoterID] = req.Candidate
	}
	outcome := n.resolveTallyLocked()
	round := n.round
	n.mu.Unlock()

	if rebroadcast {
		n.broadcastVote(round, ownCandidate)
	}
	n.reactToOutcome(outcome)

	if outcome != nil {
		if outcome.tie {
			return models.CastVoteResponse{Status: models.VoteStatusTie}
		}
		leader := outcome.leader
		return models.CastVoteResponse{Status: models.VoteStatusComplete, Leader: &leader}
	}
	return models.CastVoteResponse{Status: status}
}

// resolveTallyLocked counts a complete vote set. Plurality wins; any
// shared maximum is a tie and yields no leader.
func (n *NodeService) resolveTallyLocked() *tallyOutcome {
	if !n.electionInProgress || len(n.votes) != n.nodeCount() {
		return nil
	}

	counts := make(map[int]int)
	for _, candidate := range n.votes {
		counts[candidate]++
	}
	best, bestCount, tie := noLeader, 0, false
	for candidate, count := range counts {
		switch {
		case count > bestCount:
			best, bestCount, tie = candidate, count, false
		case count == bestCount:
			tie = true
		}
	}

	n.votes = make(map[int]int)
	n.electionInProgress = false
	if tie {
		return &tallyOutcome{tie: true}
	}
	n.leader = best
	n.leaderSince = time.Now()
	return &tallyOutcome{leader: best}
}

// reactToOutcome runs the post-tally side effects outside the lock.
func (n *NodeService) reactToOutcome(outcome *tallyOutcome) {
	if outcome == nil {
		return
	}
	if outcome.tie {
		n.log.Info().Msg("election tie, no winner")
		if n.isCoordinatorNode() {
			time.AfterFunc(n.cfg.ReelectionDelay, n.InitiateElection)
		}
		return
	}
	n.log.Info().Int("leader", outcome.leader).Msg("leader elected")
	if outcome.leader == n.cfg.NodeIndex {
		go func() {
			if err := n.ProcessAsLeader(context.Background()); err != nil {
				n.log.Error().Err(err).Msg("leader processing failed")
			}
		}()
	}
}

// HandleLeaderFailed applies the timeout penalty every node levies
// independently when a leader stalls.
func (n *NodeService) HandleLeaderFailed(req models.LeaderFailedRequest) {
	n.mu.Lock()
	n.reputation.Record(req.FailedLeader, false)
	if n.leader == req.FailedLeader {
		n.leader = noLeader
	}
	n.mu.Unlock()
	n.log.Warn().Int("leader", req.FailedLeader).Msg("leader reported failed")
}

// runElectionMonitor is the coordinator node's background check: kick
// off elections when work is waiting without a leader, and force a
// re-election when a leader blows its deadline.
func (n *NodeService) runElectionMonitor(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.checkLeaderProgress()
		}
	}
}

func (n *NodeService) checkLeaderProgress() {
	n.mu.Lock()
	switch {
	case len(n.pending) == 0:
		n.mu.Unlock()
	case n.leader == noLeader && !n.electionInProgress:
		n.mu.Unlock()
		n.InitiateElection()
	case n.leader != noLeader && time.Since(n.leaderSince) > n.cfg.LeaderTimeout:
		failed := n.leader
		n.reputation.Record(failed, false)
		n.leader = noLeader
		n.mu.Unlock()

		n.log.Warn().Int("leader", failed).Msg("leader timed out")
		n.broadcast("leader_failed", func(ctx context.Context, p Peer) error {
			return p.LeaderFailed(ctx, models.LeaderFailedRequest{FailedLeader: failed})
		})
		n.InitiateElection()
	default:
		n.mu.Unlock()
	}
}

// broadcastVote sends our vote for the round to every peer. Peers that
// cannot be reached simply contribute nothing.
func (n *NodeService) broadcastVote(round uint64, candidate int) {
	n.broadcast("cast_vote", func(ctx context.Context, p Peer) error {
		_, err := p.CastVote(ctx, models.CastVoteRequest{
			VoterID:       n.cfg.NodeIndex,
			Candidate:     candidate,
			ElectionRound: round,
		})
		return err
	})
}

// broadcast calls every peer but ourselves, sequentially, each with
// its own deadline. Network failures are logged and swallowed; they
// never propagate to the caller.
func (n *NodeService) broadcast(name string, call func(context.Context, Peer) error) {
	for i, p := range n.peers {
		if i == n.cfg.NodeIndex || p == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), electionCallTimeout)
		if err := call(ctx, p); err != nil {
			n.log.Debug().Err(err).Int("peer", i).Str("call", name).Msg("peer call failed")
		}
		cancel()
	}
}
