package models

import "time"

// PendingEvent is a vote submission awaiting processing, deduplicated
// by transaction id and timestamped when first observed.
type PendingEvent struct {
	TxID            string    `json:"tx_id"`
	EncryptedVote   string    `json:"encrypted_vote"`
	EncryptedSymKey string    `json:"encrypted_sym_key"`
	Capsule         string    `json:"capsule"`
	DetectedAt      time.Time `json:"detected_at"`
}

// VoteStatus is the outcome a node reports for an incoming election vote.
type VoteStatus string

const (
	VoteStatusVoting       VoteStatus = "voting"
	VoteStatusOldRound     VoteStatus = "old_round"
	VoteStatusComplete     VoteStatus = "election_complete"
	VoteStatusTie          VoteStatus = "tie_reelection_needed"
	VoteStatusVoteRecorded VoteStatus = "vote_recorded"
)

type StartElectionRequest struct {
	ElectionRound uint64 `json:"election_round"`
	InitiatorID   int    `json:"initiator_id"`
}

type CastVoteRequest struct {
	VoterID       int    `json:"voter_id"`
	Candidate     int    `json:"candidate"`
	ElectionRound uint64 `json:"election_round"`
}

type CastVoteResponse struct {
	Status VoteStatus `json:"status"`
	Leader *int       `json:"leader,omitempty"`
}

type LeaderFailedRequest struct {
	FailedLeader int `json:"failed_leader"`
}

type MarkProcessedRequest struct {
	TxHash      string `json:"tx_hash"`
	ProcessedBy int    `json:"processed_by"`
	Success     bool   `json:"success"`
}

// ReputationEntry is the externally visible view of one node's score.
type ReputationEntry struct {
	Successes int     `json:"successes"`
	Failures  int     `json:"failures"`
	Weight    float64 `json:"weight"`
}

// NodeStateResponse is the answer to GET /get_state.
type NodeStateResponse struct {
	NodeID        int                     `json:"node_id"`
	ElectionRound uint64                  `json:"election_round"`
	Leader        *int                    `json:"leader,omitempty"`
	PendingEvents int                     `json:"pending_events"`
	Reputation    map[int]ReputationEntry `json:"reputation"`
}

// SyncStateRequest lets a node that rejoined catch up on processed
// transactions and reputation observed by a peer.
type SyncStateRequest struct {
	ProcessedTxs []string                `json:"processed_txs"`
	Reputation   map[int]ReputationEntry `json:"reputation"`
}
