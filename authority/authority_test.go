package authority

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votemesh/encryption"
	"votemesh/models"
)

type testAuthority struct {
	auth  *Authority
	deleg *encryption.Delegation
}

func newTestAuthority(t *testing.T) *testAuthority {
	t.Helper()
	stateSecret, statePublic := encryption.GenerateKeyPair()
	signingKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	deleg, err := encryption.GenerateDelegation(statePublic, 4, 7)
	require.NoError(t, err)

	return &testAuthority{
		auth:  New(stateSecret, signingKey, 4, 7, zerolog.Nop()),
		deleg: deleg,
	}
}

// encryptVote builds the submission pieces exactly like a client.
func (ta *testAuthority) encryptVote(t *testing.T, wallet string, amount uint64, side models.Side) (string, string, string) {
	t.Helper()
	plaintext, err := json.Marshal(models.VotePayload{wallet: {Amount: amount, Side: side}})
	require.NoError(t, err)

	capsule, wrapped, ciphertext, err := encryption.Encrypt(ta.deleg.MasterPublic, ta.deleg.Receiving, plaintext)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(wrapped),
		base64.StdEncoding.EncodeToString(capsule)
}

// collectCFrags plays the coordinator: re-encrypt with every fragment
// holder and verify each result.
func (ta *testAuthority) collectCFrags(t *testing.T, capsuleB64 string, count int) []string {
	t.Helper()
	cb, err := base64.StdEncoding.DecodeString(capsuleB64)
	require.NoError(t, err)
	capsule, err := encryption.DecodeCapsule(cb)
	require.NoError(t, err)

	out := make([]string, 0, count)
	for _, kf := range ta.deleg.Fragments[:count] {
		cf, err := kf.Reencrypt(capsule)
		require.NoError(t, err)
		vf, err := cf.Verify(capsule, ta.deleg.SigningPublic, ta.deleg.MasterPublic, ta.deleg.Receiving)
		require.NoError(t, err)
		b, err := vf.Bytes()
		require.NoError(t, err)
		out = append(out, base64.StdEncoding.EncodeToString(b))
	}
	return out
}

func (ta *testAuthority) submit(t *testing.T, state, wallet string, amount uint64, side models.Side) (*models.SubmitVoteResponse, error) {
	t.Helper()
	vote, wrapped, capsule := ta.encryptVote(t, wallet, amount, side)
	return ta.auth.Submit(&models.SubmitRequest{
		EncryptedVote:   vote,
		EncryptedSymKey: wrapped,
		Capsule:         capsule,
		CFrags:          ta.collectCFrags(t, capsule, 7),
		CurrentState:    state,
	})
}

func (ta *testAuthority) mustSubmit(t *testing.T, state, wallet string, amount uint64, side models.Side) *models.SubmitVoteResponse {
	t.Helper()
	resp, err := ta.submit(t, state, wallet, amount, side)
	require.NoError(t, err)
	require.True(t, resp.Success)
	return resp
}

func TestInitializeStateIsVerifiable(t *testing.T) {
	ta := newTestAuthority(t)
	init, err := ta.auth.InitializeState()
	require.NoError(t, err)

	state, err := base64.StdEncoding.DecodeString(init.EncryptedState)
	require.NoError(t, err)
	sig, err := base64.StdEncoding.DecodeString(init.Signature)
	require.NoError(t, err)

	digest := ethcrypto.Keccak256(nil, state)
	pub, err := ethcrypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, ta.auth.SigningAddress(), ethcrypto.PubkeyToAddress(*pub).Hex())
}

func TestSubmitSimpleVoteScenario(t *testing.T) {
	ta := newTestAuthority(t)
	init, err := ta.auth.InitializeState()
	require.NoError(t, err)

	// Tally {A: [100], B: [150, 50]}.
	state := init.EncryptedState
	state = ta.mustSubmit(t, state, "0xa1", 100, models.SideA).NewEncryptedState
	state = ta.mustSubmit(t, state, "0xb1", 150, models.SideB).NewEncryptedState
	resp := ta.mustSubmit(t, state, "0xb2", 50, models.SideB)

	require.Equal(t, 3, resp.TotalVotes)

	// Ratios are hidden at 3 votes; open the state directly to check.
	assert.Nil(t, resp.ARatio)
	blob, err := base64.StdEncoding.DecodeString(resp.NewEncryptedState)
	require.NoError(t, err)
	plain, err := encryption.Open(ta.auth.stateSecret, blob)
	require.NoError(t, err)
	var tally models.Tally
	require.NoError(t, json.Unmarshal(plain, &tally))
	assert.InDelta(t, 1.0/3.0, tally.RatioA, 1e-9)
	assert.InDelta(t, 100.0/300.0, tally.RatioFundsA, 1e-9)
}

func TestSubmitRejectsDoubleVote(t *testing.T) {
	ta := newTestAuthority(t)
	init, err := ta.auth.InitializeState()
	require.NoError(t, err)

	resp := ta.mustSubmit(t, init.EncryptedState, "0xdup", 100, models.SideA)

	_, err = ta.submit(t, resp.NewEncryptedState, "0xdup", 25, models.SideB)
	require.ErrorIs(t, err, ErrDoubleVote)
}

func TestSubmitRefusesBelowThreshold(t *testing.T) {
	ta := newTestAuthority(t)
	init, err := ta.auth.InitializeState()
	require.NoError(t, err)

	vote, wrapped, capsule := ta.encryptVote(t, "0xfew", 10, models.SideA)
	_, err = ta.auth.Submit(&models.SubmitRequest{
		EncryptedVote:   vote,
		EncryptedSymKey: wrapped,
		Capsule:         capsule,
		CFrags:          ta.collectCFrags(t, capsule, 3),
		CurrentState:    init.EncryptedState,
	})
	require.ErrorIs(t, err, encryption.ErrInsufficientFragments)
}

func TestRevealCadence(t *testing.T) {
	ta := newTestAuthority(t)
	init, err := ta.auth.InitializeState()
	require.NoError(t, err)

	state := init.EncryptedState
	for i := 1; i <= 10; i++ {
		resp := ta.mustSubmit(t, state, fmt.Sprintf("0x%02d", i), 100, models.SideA)
		require.Equal(t, i, resp.TotalVotes)
		if i%RevealInterval == 0 {
			require.NotNil(t, resp.ARatio, "vote %d", i)
			require.NotNil(t, resp.AFundsRatio, "vote %d", i)
			assert.InDelta(t, 1.0, *resp.ARatio, 1e-9)
		} else {
			assert.Nil(t, resp.ARatio, "vote %d", i)
			assert.Nil(t, resp.AFundsRatio, "vote %d", i)
		}
		state = resp.NewEncryptedState
	}
}

func TestFinishPayoutSplit(t *testing.T) {
	ta := newTestAuthority(t)
	init, err := ta.auth.InitializeState()
	require.NoError(t, err)

	// Winners on A bet 100 and 300; one loser on B bet 150.
	state := init.EncryptedState
	state = ta.mustSubmit(t, state, "0xw1", 100, models.SideA).NewEncryptedState
	state = ta.mustSubmit(t, state, "0xw2", 300, models.SideA).NewEncryptedState
	state = ta.mustSubmit(t, state, "0xl1", 150, models.SideB).NewEncryptedState

	resp, err := ta.auth.Finish(&models.FinishRequest{CurrentState: state, WinningOption: models.SideA})
	require.NoError(t, err)

	assert.Equal(t, uint64(550), resp.TotalPool)
	assert.Equal(t, 2, resp.TotalWinners)
	assert.Equal(t, 1, resp.TotalLosers)

	byWallet := make(map[string]uint64)
	for _, p := range resp.Payouts {
		byWallet[p.Wallet] = p.Payout
	}
	assert.Equal(t, uint64(137), byWallet["0xw1"]) // floor(100/400*550)
	assert.Equal(t, uint64(412), byWallet["0xw2"]) // floor(300/400*550)
	assert.Equal(t, uint64(0), byWallet["0xl1"])
}

func TestFinishNoWinnersRefundsAll(t *testing.T) {
	ta := newTestAuthority(t)
	init, err := ta.auth.InitializeState()
	require.NoError(t, err)

	state := init.EncryptedState
	state = ta.mustSubmit(t, state, "0xb1", 150, models.SideB).NewEncryptedState
	state = ta.mustSubmit(t, state, "0xb2", 50, models.SideB).NewEncryptedState

	resp, err := ta.auth.Finish(&models.FinishRequest{CurrentState: state, WinningOption: models.SideA})
	require.NoError(t, err)

	assert.Equal(t, 0, resp.TotalWinners)
	byWallet := make(map[string]uint64)
	for _, p := range resp.Payouts {
		byWallet[p.Wallet] = p.Payout
	}
	assert.Equal(t, uint64(150), byWallet["0xb1"])
	assert.Equal(t, uint64(50), byWallet["0xb2"])
}

func TestSubmitDistinguishesStateErrors(t *testing.T) {
	ta := newTestAuthority(t)

	vote, wrapped, capsule := ta.encryptVote(t, "0xerr", 10, models.SideA)
	req := &models.SubmitRequest{
		EncryptedVote:   vote,
		EncryptedSymKey: wrapped,
		Capsule:         capsule,
		CFrags:          ta.collectCFrags(t, capsule, 7),
	}

	req.CurrentState = base64.StdEncoding.EncodeToString([]byte("short"))
	_, err := ta.auth.Submit(req)
	require.ErrorIs(t, err, encryption.ErrMalformedCiphertext)

	// A state sealed for a different authority parses but cannot be
	// opened with our key.
	_, otherPublic := encryption.GenerateKeyPair()
	foreign, err := encryption.Seal(otherPublic, []byte(`{"votes":{}}`))
	require.NoError(t, err)
	req.CurrentState = base64.StdEncoding.EncodeToString(foreign)
	_, err = ta.auth.Submit(req)
	require.ErrorIs(t, err, encryption.ErrDecryptionFailed)
}

func TestLoadOrGenerateKeysRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secret1, signing1, err := LoadOrGenerateKeys(dir)
	require.NoError(t, err)
	secret2, signing2, err := LoadOrGenerateKeys(dir)
	require.NoError(t, err)

	assert.True(t, secret1.Equal(secret2))
	assert.Equal(t, ethcrypto.FromECDSA(signing1), ethcrypto.FromECDSA(signing2))
}
