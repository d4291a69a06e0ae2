// Package authority implements the decrypting authority: the only
// party able to open the encrypted tally. It recovers each vote from
// threshold re-encryption fragments, folds it into the tally, seals
// the new state under a fresh key and signs the transition.
package authority

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"go.dedis.ch/kyber/v3"

	"votemesh/encryption"
	"votemesh/models"
)

// RevealInterval is the cadence at which aggregate ratios are included
// in submit responses: only when the vote count is an exact multiple.
const RevealInterval = 5

var (
	// ErrDoubleVote rejects a wallet that already has a record in the
	// tally. A business-rule failure, not a crypto one.
	ErrDoubleVote = errors.New("wallet has already voted")

	// ErrBadVote covers a vote payload that decrypted fine but does
	// not describe a single valid bet.
	ErrBadVote = errors.New("invalid vote payload")
)

// Authority holds the threshold-decryption keypair and the separate
// transition-signing key.
type Authority struct {
	stateSecret kyber.Scalar
	statePublic kyber.Point
	signingKey  *ecdsa.PrivateKey
	threshold   int
	shares      int
	log         zerolog.Logger
}

func New(stateSecret kyber.Scalar, signingKey *ecdsa.PrivateKey, threshold, shares int, log zerolog.Logger) *Authority {
	return &Authority{
		stateSecret: stateSecret,
		statePublic: encryption.Suite.Point().Mul(stateSecret, nil),
		signingKey:  signingKey,
		threshold:   threshold,
		shares:      shares,
		log:         log,
	}
}

// StatePublic returns the public half of the state keypair; key
// generation uses it as the receiving key of the delegation.
func (a *Authority) StatePublic() kyber.Point {
	return a.statePublic
}

// SigningAddress returns the address peers use to verify transition
// signatures.
func (a *Authority) SigningAddress() string {
	return ethcrypto.PubkeyToAddress(a.signingKey.PublicKey).Hex()
}

// signTransition commits to the exact byte-level (previous, new) state
// pair so the ledger can verify the transition without re-running any
// decryption.
func (a *Authority) signTransition(prev, next []byte) ([]byte, error) {
	digest := ethcrypto.Keccak256(prev, next)
	return ethcrypto.Sign(digest, a.signingKey)
}

// InitializeState seals an empty tally and signs it as the first
// transition (from nothing).
func (a *Authority) InitializeState() (*models.InitializeStateResponse, error) {
	plaintext, err := json.Marshal(models.NewTally())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal empty tally: %w", err)
	}
	state, err := encryption.Seal(a.statePublic, plaintext)
	if err != nil {
		return nil, err
	}
	sig, err := a.signTransition(nil, state)
	if err != nil {
		return nil, fmt.Errorf("failed to sign initial state: %w", err)
	}
	a.log.Info().Int("state_bytes", len(state)).Msg("initialized encrypted state")
	return &models.InitializeStateResponse{
		EncryptedState: base64.StdEncoding.EncodeToString(state),
		Signature:      base64.StdEncoding.EncodeToString(sig),
	}, nil
}

func (a *Authority) openTally(state []byte) (*models.Tally, error) {
	plaintext, err := encryption.Open(a.stateSecret, state)
	if err != nil {
		return nil, err
	}
	var tally models.Tally
	if err := json.Unmarshal(plaintext, &tally); err != nil {
		return nil, fmt.Errorf("%w: tally is not valid JSON: %v", encryption.ErrMalformedCiphertext, err)
	}
	if tally.Votes == nil {
		tally.Votes = make(map[string]models.VoteRecord)
	}
	return &tally, nil
}

// Submit applies one encrypted vote to the current encrypted state and
// returns the signed successor state. Ratios are included only at the
// reveal cadence.
func (a *Authority) Submit(req *models.SubmitRequest) (*models.SubmitVoteResponse, error) {
	capsule, err := base64.StdEncoding.DecodeString(req.Capsule)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 capsule: %w", err)
	}
	wrapped, err := base64.StdEncoding.DecodeString(req.EncryptedSymKey)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 wrapped key: %w", err)
	}
	voteCiphertext, err := base64.StdEncoding.DecodeString(req.EncryptedVote)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 vote ciphertext: %w", err)
	}
	currentState, err := base64.StdEncoding.DecodeString(req.CurrentState)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 state: %w", err)
	}
	// The capsule is already folded into every fragment; decode it only
	// to reject malformed input early.
	if _, err := encryption.DecodeCapsule(capsule); err != nil {
		return nil, err
	}

	frags := make([]*encryption.VerifiedFragment, 0, len(req.CFrags))
	for i, s := range req.CFrags {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 cfrag %d: %w", i, err)
		}
		vf, err := encryption.VerifiedFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("invalid cfrag %d: %w", i, err)
		}
		frags = append(frags, vf)
	}

	// 1. Threshold-decrypt the wrapped symmetric key.
	key, nonce, err := encryption.Combine(frags, wrapped, a.threshold, a.shares, a.statePublic)
	if err != nil {
		return nil, err
	}

	// 2. Open the vote payload.
	votePlain, err := encryption.DecryptPayload(key, nonce, voteCiphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt vote: %w", err)
	}
	var payload models.VotePayload
	if err := json.Unmarshal(votePlain, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadVote, err)
	}
	if len(payload) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one wallet, got %d", ErrBadVote, len(payload))
	}
	var wallet string
	var record models.VoteRecord
	for w, r := range payload {
		wallet, record = w, r
	}
	if !record.Side.Valid() {
		return nil, fmt.Errorf("%w: unknown side %q", ErrBadVote, record.Side)
	}

	// 3. Open the current tally with the long-term key.
	tally, err := a.openTally(currentState)
	if err != nil {
		return nil, err
	}

	// 4. One vote per wallet per tally.
	if _, exists := tally.Votes[wallet]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDoubleVote, wallet)
	}

	// 5. Fold the vote in and refresh the ratios.
	tally.Votes[wallet] = record
	tally.Recompute()

	// 6. Re-seal under a fresh transition key.
	newPlain, err := json.Marshal(tally)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tally: %w", err)
	}
	newState, err := encryption.Seal(a.statePublic, newPlain)
	if err != nil {
		return nil, err
	}

	// 7. Sign the byte-level transition pair.
	sig, err := a.signTransition(currentState, newState)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transition: %w", err)
	}

	resp := &models.SubmitVoteResponse{
		Success:           true,
		NewEncryptedState: base64.StdEncoding.EncodeToString(newState),
		Signature:         base64.StdEncoding.EncodeToString(sig),
		TotalVotes:        len(tally.Votes),
	}

	// 8. Aggregate ratios leak only at the fixed cadence.
	if len(tally.Votes)%RevealInterval == 0 {
		ratioA, ratioFundsA := tally.RatioA, tally.RatioFundsA
		resp.ARatio = &ratioA
		resp.AFundsRatio = &ratioFundsA
	}

	a.log.Info().
		Int("total_votes", resp.TotalVotes).
		Bool("revealed", resp.ARatio != nil).
		Msg("applied vote to tally")
	return resp, nil
}

// Finish decrypts the final tally and computes the payout table for
// the winning side. With no winners every wallet is refunded its
// stake; otherwise winners split the whole pool proportionally with
// integer floor, and the rounding remainder stays in the pool.
func (a *Authority) Finish(req *models.FinishRequest) (*models.FinishResponse, error) {
	if !req.WinningOption.Valid() {
		return nil, fmt.Errorf("%w: unknown side %q", ErrBadVote, req.WinningOption)
	}
	currentState, err := base64.StdEncoding.DecodeString(req.CurrentState)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 state: %w", err)
	}
	tally, err := a.openTally(currentState)
	if err != nil {
		return nil, err
	}

	var totalPool, winnersPool uint64
	var winners, losers int
	for _, v := range tally.Votes {
		totalPool += v.Amount
		if v.Side == req.WinningOption {
			winners++
			winnersPool += v.Amount
		} else {
			losers++
		}
	}

	payouts := make([]models.PayoutEntry, 0, len(tally.Votes))
	for wallet, v := range tally.Votes {
		var payout uint64
		switch {
		case winners == 0:
			payout = v.Amount
		case v.Side == req.WinningOption:
			// amount * totalPool may exceed 64 bits.
			p := new(big.Int).Mul(new(big.Int).SetUint64(v.Amount), new(big.Int).SetUint64(totalPool))
			payout = p.Div(p, new(big.Int).SetUint64(winnersPool)).Uint64()
		}
		payouts = append(payouts, models.PayoutEntry{Wallet: wallet, Payout: payout})
	}
	sort.Slice(payouts, func(i, j int) bool { return payouts[i].Wallet < payouts[j].Wallet })

	a.log.Info().
		Uint64("total_pool", totalPool).
		Int("winners", winners).
		Int("losers", losers).
		Msg("finished tally")
	return &models.FinishResponse{
		TotalPool:    totalPool,
		TotalWinners: winners,
		TotalLosers:  losers,
		Payouts:      payouts,
	}, nil
}
