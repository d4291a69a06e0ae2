// Package ledger is the settlement surface the nodes and the authority
// consume: current encrypted state plus signature, the feed of vote
// submissions, and the payout table. The contract itself is external;
// FileLedger is a file-backed stand-in with the same surface.
package ledger

import (
	"time"

	"votemesh/models"
)

// Submission is one vote transaction observed on the ledger.
type Submission struct {
	TxID            string    `json:"tx_id"`
	EncryptedVote   string    `json:"encrypted_vote"`
	EncryptedSymKey string    `json:"encrypted_sym_key"`
	Capsule         string    `json:"capsule"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// MaxPayoutBatch bounds how many payout rows one write may carry,
// mirroring the contract's per-transaction size limit.
const MaxPayoutBatch = 50

// Ledger is the read/write surface of the settlement layer.
type Ledger interface {
	// CurrentState returns the latest encrypted state and the
	// authority signature that accompanied it.
	CurrentState() (state, signature []byte, err error)

	// WriteState replaces the encrypted state wholesale.
	WriteState(state, signature []byte) error

	// AppendSubmission records a new vote submission and assigns it a
	// transaction id.
	AppendSubmission(encryptedVote, encryptedSymKey, capsule string) (string, error)

	// Submissions returns every submission recorded so far, oldest
	// first.
	Submissions() ([]Submission, error)

	// WritePayouts appends a batch of payout rows. Batches larger
	// than MaxPayoutBatch are rejected.
	WritePayouts(batch []models.PayoutEntry) error

	// Payouts returns the accumulated payout table.
	Payouts() ([]models.PayoutEntry, error)
}
