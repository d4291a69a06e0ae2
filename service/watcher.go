package service

import (
	"context"
	"time"

	"votemesh/models"
)

// runWatcher polls the ledger for vote submissions and feeds them into
// the event queue. NotifyEvent deduplicates, so re-seeing old
// submissions is harmless, and a submission whose processing attempt
// failed reappears here for another term.
func (n *NodeService) runWatcher(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.pollLedger()
		}
	}
}

func (n *NodeService) pollLedger() {
	subs, err := n.ledger.Submissions()
	if err != nil {
		n.log.Warn().Err(err).Msg("failed to poll ledger")
		return
	}
	for _, s := range subs {
		n.NotifyEvent(models.PendingEvent{
			TxID:            s.TxID,
			EncryptedVote:   s.EncryptedVote,
			EncryptedSymKey: s.EncryptedSymKey,
			Capsule:         s.Capsule,
			DetectedAt:      time.Now().UTC(),
		})
	}
}
