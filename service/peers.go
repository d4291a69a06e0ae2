package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"votemesh/models"
)

// Per-call deadlines: election traffic is chatty and short, fragment
// collection does real crypto on the far side.
const (
	electionCallTimeout = 3 * time.Second
	fragmentCallTimeout = 15 * time.Second
)

// Peer is one remote node as seen from here. Implementations must
// treat every error as "this peer contributed nothing".
type Peer interface {
	StartElection(ctx context.Context, req models.StartElectionRequest) error
	CastVote(ctx context.Context, req models.CastVoteRequest) (*models.CastVoteResponse, error)
	LeaderFailed(ctx context.Context, req models.LeaderFailedRequest) error
	MarkProcessed(ctx context.Context, req models.MarkProcessedRequest) error
	NotifyEvent(ctx context.Context, ev models.PendingEvent) error
	Reencrypt(ctx context.Context, req models.ReencryptRequest) (*models.ReencryptResponse, error)
}

// HTTPPeer talks to a peer node over its HTTP API.
type HTTPPeer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPeer(baseURL string) *HTTPPeer {
	return &HTTPPeer{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// NewPeerClients builds the index-aligned peer list for one node; the
// node's own slot is nil.
func NewPeerClients(addrs []string, selfIndex int) []Peer {
	peers := make([]Peer, len(addrs))
	for i, addr := range addrs {
		if i == selfIndex {
			continue
		}
		peers[i] = NewHTTPPeer(addr)
	}
	return peers
}

func (p *HTTPPeer) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("peer returned %d: %s", resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *HTTPPeer) StartElection(ctx context.Context, req models.StartElectionRequest) error {
	return p.post(ctx, "/start_election", req, nil)
}

func (p *HTTPPeer) CastVote(ctx context.Context, req models.CastVoteRequest) (*models.CastVoteResponse, error) {
	var resp models.CastVoteResponse
	if err := p.post(ctx, "/cast_vote", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *HTTPPeer) LeaderFailed(ctx context.Context, req models.LeaderFailedRequest) error {
	return p.post(ctx, "/leader_failed", req, nil)
}

func (p *HTTPPeer) MarkProcessed(ctx context.Context, req models.MarkProcessedRequest) error {
	return p.post(ctx, "/mark_processed", req, nil)
}

func (p *HTTPPeer) NotifyEvent(ctx context.Context, ev models.PendingEvent) error {
	return p.post(ctx, "/notify_event", ev, nil)
}

func (p *HTTPPeer) Reencrypt(ctx context.Context, req models.ReencryptRequest) (*models.ReencryptResponse, error) {
	var resp models.ReencryptResponse
	if err := p.post(ctx, "/reencrypt", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
