package models

// Side is one of the two outcomes a wallet can back.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Valid reports whether the side is one of the two known outcomes.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// VoteRecord is one wallet's committed bet inside the decrypted tally.
// A wallet appears at most once per tally and the record is immutable
// after insertion.
type VoteRecord struct {
	Amount uint64 `json:"amount"`
	Side   Side   `json:"side"`
}

// VotePayload is the plaintext a client encrypts before submission: a
// single-entry map from wallet address to its bet.
type VotePayload map[string]VoteRecord

// Tally is the plaintext running state. It only ever exists in memory
// inside the decrypting authority; everyone else sees the sealed blob.
type Tally struct {
	RatioA      float64               `json:"ratio_a"`
	RatioFundsA float64               `json:"ratio_funds_a"`
	Votes       map[string]VoteRecord `json:"votes"`
}

func NewTally() *Tally {
	return &Tally{Votes: make(map[string]VoteRecord)}
}

// Recompute refreshes the derived ratios from the current vote set.
func (t *Tally) Recompute() {
	if len(t.Votes) == 0 {
		t.RatioA = 0
		t.RatioFundsA = 0
		return
	}
	var countA int
	var fundsA, fundsTotal uint64
	for _, v := range t.Votes {
		fundsTotal += v.Amount
		if v.Side == SideA {
			countA++
			fundsA += v.Amount
		}
	}
	t.RatioA = float64(countA) / float64(len(t.Votes))
	if fundsTotal > 0 {
		t.RatioFundsA = float64(fundsA) / float64(fundsTotal)
	} else {
		t.RatioFundsA = 0
	}
}
