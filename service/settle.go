package service

import (
	"context"
	"encoding/base64"
	"fmt"

	"votemesh/ledger"
	"votemesh/models"
)

// Settle closes the market: the authority decrypts the final tally for
// the winning side and the resulting payout table is written to the
// ledger in contract-sized batches.
func (n *NodeService) Settle(ctx context.Context, winning models.Side) (*models.FinishResponse, error) {
	state, _, err := n.ledger.CurrentState()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger state: %w", err)
	}
	resp, err := n.authority.Finish(ctx, &models.FinishRequest{
		CurrentState:  base64.StdEncoding.EncodeToString(state),
		WinningOption: winning,
	})
	if err != nil {
		return nil, err
	}

	for start := 0; start < len(resp.Payouts); start += ledger.MaxPayoutBatch {
		end := start + ledger.MaxPayoutBatch
		if end > len(resp.Payouts) {
			end = len(resp.Payouts)
		}
		if err := n.ledger.WritePayouts(resp.Payouts[start:end]); err != nil {
			return nil, fmt.Errorf("failed to write payout batch: %w", err)
		}
	}

	n.log.Info().
		Uint64("total_pool", resp.TotalPool).
		Int("payouts", len(resp.Payouts)).
		Str("winning", string(winning)).
		Msg("market settled")
	return resp, nil
}
