package service

import (
	"context"

	"votemesh/models"
)

// NotifyEvent records a newly observed vote submission. Inserts are
// idempotent: transactions already processed or already pending are
// ignored. When work is waiting and nobody leads, the coordinator node
// opens an election.
func (n *NodeService) NotifyEvent(ev models.PendingEvent) {
	n.mu.Lock()
	if n.processed[ev.TxID] {
		n.mu.Unlock()
		return
	}
	for _, p := range n.pending {
		if p.TxID == ev.TxID {
			n.mu.Unlock()
			return
		}
	}
	n.pending = append(n.pending, ev)
	leader := n.leader
	needElection := leader == noLeader && !n.electionInProgress && n.isCoordinatorNode()
	n.mu.Unlock()

	n.log.Info().Str("tx", ev.TxID).Msg("queued vote event")
	if needElection {
		n.InitiateElection()
		return
	}
	if leader == n.cfg.NodeIndex {
		go func() {
			if err := n.ProcessAsLeader(context.Background()); err != nil {
				n.log.Error().Err(err).Msg("leader processing failed")
			}
		}()
	}
}

// MarkProcessed ends a leader term: update the processing node's
// reputation, drop the event from the queue and clear the leader.
// Duplicate notifications for the same transaction are ignored, as are
// late completions for events no longer pending; only a success
// permanently retires the transaction id, so a failed event reappears
// on the next watcher pass and gets a fresh term.
func (n *NodeService) MarkProcessed(txID string, by int, success bool) {
	n.mu.Lock()
	if n.processed[txID] || !n.pendingLocked(txID) {
		n.mu.Unlock()
		return
	}
	n.reputation.Record(by, success)
	n.removePendingLocked(txID)
	n.leader = noLeader
	if success {
		n.processed[txID] = true
	}
	n.mu.Unlock()

	n.log.Info().Str("tx", txID).Int("by", by).Bool("success", success).Msg("event processed")
}

func (n *NodeService) pendingLocked(txID string) bool {
	for _, p := range n.pending {
		if p.TxID == txID {
			return true
		}
	}
	return false
}

func (n *NodeService) removePendingLocked(txID string) {
	for i, p := range n.pending {
		if p.TxID == txID {
			n.pending = append(n.pending[:i], n.pending[i+1:]...)
			return
		}
	}
}
