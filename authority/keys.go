package authority

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/kyber/v3"

	"votemesh/encryption"
)

// Credentials is the on-disk form of the authority's two keys.
type Credentials struct {
	StateSecretKey string `json:"state_secret_key"`
	StatePublicKey string `json:"state_public_key"`
	SigningKey     string `json:"signing_key"`
	SigningAddress string `json:"signing_address"`
}

// LoadOrGenerateKeys restores the authority keys from storagePath or
// generates and persists fresh ones.
func LoadOrGenerateKeys(storagePath string) (kyber.Scalar, *ecdsa.PrivateKey, error) {
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create directory: %w", err)
	}
	credsPath := filepath.Join(storagePath, "authority_credentials.json")

	if data, err := os.ReadFile(credsPath); err == nil {
		var creds Credentials
		if err := json.Unmarshal(data, &creds); err != nil {
			return nil, nil, fmt.Errorf("failed to parse authority credentials: %w", err)
		}

		sb, err := base64.StdEncoding.DecodeString(creds.StateSecretKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode state secret: %w", err)
		}
		stateSecret := encryption.Suite.Scalar()
		if err := stateSecret.UnmarshalBinary(sb); err != nil {
			return nil, nil, fmt.Errorf("failed to restore state secret: %w", err)
		}

		signingKey, err := ethcrypto.HexToECDSA(strings.TrimPrefix(creds.SigningKey, "0x"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to restore signing key: %w", err)
		}
		return stateSecret, signingKey, nil
	}

	stateSecret, statePublic := encryption.GenerateKeyPair()
	signingKey, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	sb, err := stateSecret.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	pb, err := statePublic.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	creds := Credentials{
		StateSecretKey: base64.StdEncoding.EncodeToString(sb),
		StatePublicKey: base64.StdEncoding.EncodeToString(pb),
		SigningKey:     hexutil.Encode(ethcrypto.FromECDSA(signingKey)),
		SigningAddress: ethcrypto.PubkeyToAddress(signingKey.PublicKey).Hex(),
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal authority credentials: %w", err)
	}
	if err := os.WriteFile(credsPath, data, 0600); err != nil {
		return nil, nil, fmt.Errorf("failed to save authority credentials: %w", err)
	}
	return stateSecret, signingKey, nil
}
