package models

// Fragment service wire types. Field names follow the re-encryption
// node protocol: all binary values are base64 at the HTTP boundary.
type ReencryptRequest struct {
	CipherText string `json:"cipherText"`
	Capsule    string `json:"capsule"`
}

type ReencryptResponse struct {
	CFrag string `json:"cFrag"`
}

// SubmitVoteRequest is what the ledger watcher (or any external caller)
// posts to a node to have one encrypted vote folded into the tally.
type SubmitVoteRequest struct {
	EncryptedVote   string `json:"encrypted_vote"`
	EncryptedSymKey string `json:"encrypted_sym_key"`
	Capsule         string `json:"capsule"`
	CurrentState    string `json:"current_state"`
}

// SubmitVoteResponse relays the authority's verdict. ARatio and
// AFundsRatio are present only when the reveal cadence allows it.
type SubmitVoteResponse struct {
	Success           bool     `json:"success"`
	Error             string   `json:"error,omitempty"`
	NewEncryptedState string   `json:"new_encrypted_state,omitempty"`
	Signature         string   `json:"signature,omitempty"`
	TotalVotes        int      `json:"total_votes,omitempty"`
	ARatio            *float64 `json:"a_ratio,omitempty"`
	AFundsRatio       *float64 `json:"a_funds_ratio,omitempty"`
}

// SubmitRequest is the coordinator-to-authority call: the original
// encrypted vote plus the set of fragments that passed verification.
type SubmitRequest struct {
	EncryptedVote   string   `json:"encrypted_vote"`
	EncryptedSymKey string   `json:"encrypted_sym_key"`
	Capsule         string   `json:"capsule"`
	CFrags          []string `json:"cfrags"`
	CurrentState    string   `json:"current_state"`
}

type InitializeStateResponse struct {
	EncryptedState string `json:"encrypted_state"`
	Signature      string `json:"signature"`
}

// SettleRequest asks a node to close the market for a winning side.
type SettleRequest struct {
	WinningOption Side `json:"winning_option"`
}

type FinishRequest struct {
	CurrentState  string `json:"current_state"`
	WinningOption Side   `json:"winning_option"`
}

type PayoutEntry struct {
	Wallet string `json:"wallet"`
	Payout uint64 `json:"payout"`
}

type FinishResponse struct {
	TotalPool    uint64        `json:"total_pool"`
	TotalWinners int           `json:"total_winners"`
	TotalLosers  int           `json:"total_losers"`
	Payouts      []PayoutEntry `json:"payouts"`
}
