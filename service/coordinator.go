package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"votemesh/encryption"
	"votemesh/models"
)

// ProcessAsLeader runs one leader term: take the head of the queue,
// push it through the fragment/authority pipeline, publish the result,
// and retire the term whatever happened. A node that is not the
// current leader, or has nothing queued, does nothing.
func (n *NodeService) ProcessAsLeader(ctx context.Context) error {
	n.mu.Lock()
	if n.leader != n.cfg.NodeIndex || n.processing || len(n.pending) == 0 {
		n.mu.Unlock()
		return nil
	}
	n.processing = true
	ev := n.pending[0]
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.processing = false
		n.mu.Unlock()
	}()

	n.log.Info().Str("tx", ev.TxID).Msg("processing event as leader")

	var resp *models.SubmitVoteResponse
	state, _, err := n.ledger.CurrentState()
	if err != nil {
		err = fmt.Errorf("failed to read ledger state: %w", err)
	} else {
		resp, err = n.ProcessVote(ctx, models.SubmitVoteRequest{
			EncryptedVote:   ev.EncryptedVote,
			EncryptedSymKey: ev.EncryptedSymKey,
			Capsule:         ev.Capsule,
			CurrentState:    base64.StdEncoding.EncodeToString(state),
		})
	}

	success := err == nil && resp != nil && resp.Success
	if success {
		if perr := n.publishState(resp); perr != nil {
			n.log.Error().Err(perr).Msg("failed to publish new state")
			success = false
			err = perr
		}
	}

	// The term ends after exactly one attempt, success or not.
	n.broadcast("mark_processed", func(ctx context.Context, p Peer) error {
		return p.MarkProcessed(ctx, models.MarkProcessedRequest{
			TxHash:      ev.TxID,
			ProcessedBy: n.cfg.NodeIndex,
			Success:     success,
		})
	})
	n.MarkProcessed(ev.TxID, n.cfg.NodeIndex, success)
	return err
}

func (n *NodeService) publishState(resp *models.SubmitVoteResponse) error {
	newState, err := base64.StdEncoding.DecodeString(resp.NewEncryptedState)
	if err != nil {
		return fmt.Errorf("invalid base64 state from authority: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(resp.Signature)
	if err != nil {
		return fmt.Errorf("invalid base64 signature from authority: %w", err)
	}
	return n.ledger.WriteState(newState, sig)
}

// ProcessVote runs the aggregation pipeline for one encrypted vote:
// collect a fragment from every holder, verify each one, and forward
// the verified set with the vote to the decrypting authority. Individual
// fragment failures are dropped; only missing the threshold is fatal.
func (n *NodeService) ProcessVote(ctx context.Context, req models.SubmitVoteRequest) (*models.SubmitVoteResponse, error) {
	cb, err := base64.StdEncoding.DecodeString(req.Capsule)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 capsule: %w", err)
	}
	capsule, err := encryption.DecodeCapsule(cb)
	if err != nil {
		return nil, err
	}

	raw := n.collectFragments(ctx, req.Capsule, req.EncryptedSymKey)

	verified := make([]string, 0, len(raw))
	for idx, fragB64 := range raw {
		fb, err := base64.StdEncoding.DecodeString(fragB64)
		if err != nil {
			n.log.Warn().Int("holder", idx).Err(err).Msg("dropping undecodable fragment")
			continue
		}
		cf, err := encryption.CiphertextFragmentFromBytes(fb)
		if err != nil {
			n.log.Warn().Int("holder", idx).Err(err).Msg("dropping malformed fragment")
			continue
		}
		vf, err := cf.Verify(capsule, n.authorityPK, n.delegatingPK, n.receivingPK)
		if err != nil {
			n.log.Warn().Int("holder", idx).Err(err).Msg("dropping unverifiable fragment")
			continue
		}
		vb, err := vf.Bytes()
		if err != nil {
			continue
		}
		verified = append(verified, base64.StdEncoding.EncodeToString(vb))
	}

	if len(verified) < n.cfg.Threshold {
		return nil, fmt.Errorf("%w: need %d, verified %d of %d holders",
			encryption.ErrInsufficientFragments, n.cfg.Threshold, len(verified), n.nodeCount())
	}

	n.log.Info().Int("verified", len(verified)).Msg("forwarding fragments to authority")
	return n.authority.Submit(ctx, &models.SubmitRequest{
		EncryptedVote:   req.EncryptedVote,
		EncryptedSymKey: req.EncryptedSymKey,
		Capsule:         req.Capsule,
		CFrags:          verified,
		CurrentState:    req.CurrentState,
	})
}

// collectFragments fans out to every fragment holder concurrently and
// fans the answers back in. A holder that errors or times out simply
// contributes nothing.
func (n *NodeService) collectFragments(ctx context.Context, capsuleB64, cipherB64 string) map[int]string {
	type result struct {
		idx  int
		frag string
		err  error
	}
	ch := make(chan result, len(n.peers))

	var wg sync.WaitGroup
	for i := range n.peers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == n.cfg.NodeIndex {
				frag, err := n.holder.Reencrypt(capsuleB64, cipherB64)
				ch <- result{i, frag, err}
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, fragmentCallTimeout)
			defer cancel()
			resp, err := n.peers[i].Reencrypt(callCtx, models.ReencryptRequest{
				CipherText: cipherB64,
				Capsule:    capsuleB64,
			})
			if err != nil {
				ch <- result{i, "", err}
				return
			}
			ch <- result{i, resp.CFrag, nil}
		}(i)
	}
	wg.Wait()
	close(ch)

	out := make(map[int]string, len(n.peers))
	for r := range ch {
		if r.err != nil {
			n.log.Warn().Int("holder", r.idx).Err(r.err).Msg("fragment holder unreachable")
			continue
		}
		out[r.idx] = r.frag
	}
	return out
}
