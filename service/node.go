package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/kyber/v3"

	"votemesh/encryption"
	"votemesh/ledger"
	"votemesh/models"
)

// noLeader marks the leaderless state.
const noLeader = -1

// Config carries everything a node needs at construction. Topology is
// configuration, never a constant: Peers is the full index-aligned
// address list, including this node's own entry.
type Config struct {
	NodeIndex int
	Peers     []string
	Threshold int
	Corrupted bool

	// LeaderTimeout is how long the coordinator node waits for an
	// elected leader to finish the head event before forcing a
	// re-election.
	LeaderTimeout time.Duration

	// ReelectionDelay spaces out the re-run after a tie so vote
	// broadcasts do not flood in a tight loop.
	ReelectionDelay time.Duration

	// PollInterval drives the background ledger watcher.
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.LeaderTimeout == 0 {
		c.LeaderTimeout = 15 * time.Second
	}
	if c.ReelectionDelay == 0 {
		c.ReelectionDelay = 500 * time.Millisecond
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
}

// NodeService is the single owned state object of one node: election
// bookkeeping, reputation, and the pending-event queue. Every mutation
// goes through its mutex; peer I/O happens outside the lock.
type NodeService struct {
	cfg Config

	mu                 sync.Mutex
	round              uint64
	votes              map[int]int
	leader             int
	leaderSince        time.Time
	electionInProgress bool
	reputation         *ReputationTable
	pending            []models.PendingEvent
	processed          map[string]bool
	processing         bool

	holder    *FragmentHolder
	peers     []Peer
	ledger    ledger.Ledger
	authority AuthorityClient
	rng       *rand.Rand

	authorityPK  kyber.Point
	delegatingPK kyber.Point
	receivingPK  kyber.Point

	log zerolog.Logger
}

// NewNodeService wires one node from its key material, peer registry,
// ledger handle and authority client. The random source is injected so
// tests can force specific candidates.
func NewNodeService(cfg Config, keys *encryption.KeyFile, peers []Peer, led ledger.Ledger, auth AuthorityClient, rng *rand.Rand, log zerolog.Logger) (*NodeService, error) {
	cfg.applyDefaults()
	if cfg.NodeIndex < 0 || cfg.NodeIndex >= len(cfg.Peers) {
		return nil, fmt.Errorf("node index %d outside peer list of %d", cfg.NodeIndex, len(cfg.Peers))
	}
	if len(peers) != len(cfg.Peers) {
		return nil, fmt.Errorf("peer client count %d does not match registry size %d", len(peers), len(cfg.Peers))
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = keys.Threshold
	}

	fragment, err := keys.Fragment(cfg.NodeIndex)
	if err != nil {
		return nil, err
	}
	authorityPK, err := keys.AuthorityPublic()
	if err != nil {
		return nil, err
	}
	delegatingPK, err := keys.MasterPublic()
	if err != nil {
		return nil, err
	}
	receivingPK, err := keys.ReceivingPublic()
	if err != nil {
		return nil, err
	}

	return &NodeService{
		cfg:          cfg,
		votes:        make(map[int]int),
		leader:       noLeader,
		reputation:   NewReputationTable(len(cfg.Peers)),
		processed:    make(map[string]bool),
		holder:       NewFragmentHolder(fragment, cfg.Corrupted),
		peers:        peers,
		ledger:       led,
		authority:    auth,
		rng:          rng,
		authorityPK:  authorityPK,
		delegatingPK: delegatingPK,
		receivingPK:  receivingPK,
		log:          log.With().Int("node", cfg.NodeIndex).Logger(),
	}, nil
}

// Holder exposes the fragment-holder capability for the HTTP layer.
func (n *NodeService) Holder() *FragmentHolder {
	return n.holder
}

func (n *NodeService) nodeCount() int {
	return len(n.cfg.Peers)
}

// isCoordinatorNode reports whether this node is the designated
// election initiator (node 0 by convention). If that node is down, no
// re-election fires; a known single point of coordination.
func (n *NodeService) isCoordinatorNode() bool {
	return n.cfg.NodeIndex == 0
}

// Leader returns the current leader id, or -1 when no term is active.
func (n *NodeService) Leader() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leader
}

// State answers GET /get_state.
func (n *NodeService) State() models.NodeStateResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	resp := models.NodeStateResponse{
		NodeID:        n.cfg.NodeIndex,
		ElectionRound: n.round,
		PendingEvents: len(n.pending),
		Reputation:    n.reputation.Snapshot(),
	}
	if n.leader != noLeader {
		leader := n.leader
		resp.Leader = &leader
	}
	return resp
}

// SyncState lets a rejoining peer push its processed-transaction set
// and reputation observations; both merges are idempotent.
func (n *NodeService) SyncState(req models.SyncStateRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, tx := range req.ProcessedTxs {
		if !n.processed[tx] {
			n.processed[tx] = true
			n.removePendingLocked(tx)
		}
	}
	n.reputation.Merge(req.Reputation)
}

// Run starts the node's background tasks: the ledger watcher on every
// node, plus the election monitor on the coordinator node. Both stop
// when ctx is cancelled.
func (n *NodeService) Run(ctx context.Context) {
	go n.runWatcher(ctx)
	if n.isCoordinatorNode() {
		go n.runElectionMonitor(ctx)
	}
}
