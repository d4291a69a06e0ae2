package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"votemesh/authority"
	"votemesh/encryption"
	"votemesh/ledger"
	"votemesh/models"
)

// cluster wires nodeCount NodeServices together in memory: peers call
// each other directly, the ledger is shared, and the authority runs
// in-process.
type cluster struct {
	nodes  []*NodeService
	auth   *authority.Authority
	deleg  *encryption.Delegation
	ledger *ledger.FileLedger
}

// localPeer routes peer calls straight into another node's handlers.
type localPeer struct {
	c   *cluster
	idx int
}

func (p *localPeer) StartElection(_ context.Context, req models.StartElectionRequest) error {
	p.c.nodes[p.idx].HandleStartElection(req)
	return nil
}

func (p *localPeer) CastVote(_ context.Context, req models.CastVoteRequest) (*models.CastVoteResponse, error) {
	resp := p.c.nodes[p.idx].HandleCastVote(req)
	return &resp, nil
}

func (p *localPeer) LeaderFailed(_ context.Context, req models.LeaderFailedRequest) error {
	p.c.nodes[p.idx].HandleLeaderFailed(req)
	return nil
}

func (p *localPeer) MarkProcessed(_ context.Context, req models.MarkProcessedRequest) error {
	p.c.nodes[p.idx].MarkProcessed(req.TxHash, req.ProcessedBy, req.Success)
	return nil
}

func (p *localPeer) NotifyEvent(_ context.Context, ev models.PendingEvent) error {
	p.c.nodes[p.idx].NotifyEvent(ev)
	return nil
}

func (p *localPeer) Reencrypt(_ context.Context, req models.ReencryptRequest) (*models.ReencryptResponse, error) {
	frag, err := p.c.nodes[p.idx].Holder().Reencrypt(req.Capsule, req.CipherText)
	if err != nil {
		return nil, err
	}
	return &models.ReencryptResponse{CFrag: frag}, nil
}

// directAuthority exposes the in-process authority through the client
// interface.
type directAuthority struct {
	a *authority.Authority
}

func (d *directAuthority) InitializeState(context.Context) (*models.InitializeStateResponse, error) {
	return d.a.InitializeState()
}

func (d *directAuthority) Submit(_ context.Context, req *models.SubmitRequest) (*models.SubmitVoteResponse, error) {
	return d.a.Submit(req)
}

func (d *directAuthority) Finish(_ context.Context, req *models.FinishRequest) (*models.FinishResponse, error) {
	return d.a.Finish(req)
}

// failingAuthority always refuses, to exercise the failure path.
type failingAuthority struct{}

func (failingAuthority) InitializeState(context.Context) (*models.InitializeStateResponse, error) {
	return nil, fmt.Errorf("authority unavailable")
}

func (failingAuthority) Submit(context.Context, *models.SubmitRequest) (*models.SubmitVoteResponse, error) {
	return nil, fmt.Errorf("authority unavailable")
}

func (failingAuthority) Finish(context.Context, *models.FinishRequest) (*models.FinishResponse, error) {
	return nil, fmt.Errorf("authority unavailable")
}

type clusterOpts struct {
	nodeCount int
	threshold int
	corrupted map[int]bool
	seed      int64
	authority AuthorityClient

	// isolated leaves every peer slot nil so handler-level tests can
	// inject votes without triggering real rebroadcast cascades.
	isolated bool
}

func newCluster(t *testing.T, opts clusterOpts) *cluster {
	t.Helper()
	if opts.nodeCount == 0 {
		opts.nodeCount = 7
	}
	if opts.threshold == 0 {
		opts.threshold = 4
	}

	stateSecret, statePublic := encryption.GenerateKeyPair()
	signingKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	deleg, err := encryption.GenerateDelegation(statePublic, opts.threshold, opts.nodeCount)
	require.NoError(t, err)
	keys, err := deleg.KeyFile()
	require.NoError(t, err)

	auth := authority.New(stateSecret, signingKey, opts.threshold, opts.nodeCount, zerolog.Nop())
	led, err := ledger.NewFileLedger(t.TempDir())
	require.NoError(t, err)

	init, err := auth.InitializeState()
	require.NoError(t, err)
	state, err := base64.StdEncoding.DecodeString(init.EncryptedState)
	require.NoError(t, err)
	sig, err := base64.StdEncoding.DecodeString(init.Signature)
	require.NoError(t, err)
	require.NoError(t, led.WriteState(state, sig))

	c := &cluster{auth: auth, deleg: deleg, ledger: led}

	addrs := make([]string, opts.nodeCount)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("http://127.0.0.1:%d", 5000+i)
	}

	authClient := opts.authority
	if authClient == nil {
		authClient = &directAuthority{a: auth}
	}

	for i := 0; i < opts.nodeCount; i++ {
		peers := make([]Peer, opts.nodeCount)
		if !opts.isolated {
			for j := 0; j < opts.nodeCount; j++ {
				if j != i {
					peers[j] = &localPeer{c: c, idx: j}
				}
			}
		}
		node, err := NewNodeService(Config{
			NodeIndex:       i,
			Peers:           addrs,
			Threshold:       opts.threshold,
			Corrupted:       opts.corrupted[i],
			ReelectionDelay: 5 * time.Millisecond,
		}, keys, peers, led, authClient, rand.New(rand.NewSource(opts.seed+int64(i)*7919)), zerolog.Nop())
		require.NoError(t, err)
		c.nodes = append(c.nodes, node)
	}
	return c
}

// submitVote encrypts a vote like a client and records it on the
// shared ledger, returning the assigned transaction id.
func (c *cluster) submitVote(t *testing.T, wallet string, amount uint64, side models.Side) string {
	t.Helper()
	plaintext, err := json.Marshal(models.VotePayload{wallet: {Amount: amount, Side: side}})
	require.NoError(t, err)
	capsule, wrapped, ciphertext, err := encryption.Encrypt(c.deleg.MasterPublic, c.deleg.Receiving, plaintext)
	require.NoError(t, err)

	txID, err := c.ledger.AppendSubmission(
		base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(wrapped),
		base64.StdEncoding.EncodeToString(capsule),
	)
	require.NoError(t, err)
	return txID
}
