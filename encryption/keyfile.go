package encryption

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"go.dedis.ch/kyber/v3"
)

// KeyFile is the public key material distributed to every node after
// key generation: the three anchor keys plus each node's attested key
// fragment, all base64.
type KeyFile struct {
	MasterPublicKey    string   `json:"master_public_key"`
	AuthorityPublicKey string   `json:"authority_public_key"`
	ReceivingPublicKey string   `json:"receiving_public_key"`
	KFrags             []string `json:"kfrags"`
	Threshold          int      `json:"threshold"`
	Shares             int      `json:"shares"`
}

func b64e(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func b64d(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func pointToB64(p kyber.Point) (string, error) {
	b, err := p.MarshalBinary()
	if err != nil {
		return "", err
	}
	return b64e(b), nil
}

func pointFromB64(s string) (kyber.Point, error) {
	b, err := b64d(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 point: %w", err)
	}
	p := Suite.Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("invalid point: %w", err)
	}
	return p, nil
}

// KeyFile exports the distributable material of a delegation.
func (d *Delegation) KeyFile() (*KeyFile, error) {
	master, err := pointToB64(d.MasterPublic)
	if err != nil {
		return nil, err
	}
	authority, err := pointToB64(d.SigningPublic)
	if err != nil {
		return nil, err
	}
	receiving, err := pointToB64(d.Receiving)
	if err != nil {
		return nil, err
	}
	kfrags := make([]string, 0, len(d.Fragments))
	for _, kf := range d.Fragments {
		b, err := kf.MarshalBinary()
		if err != nil {
			return nil, err
		}
		kfrags = append(kfrags, b64e(b))
	}
	return &KeyFile{
		MasterPublicKey:    master,
		AuthorityPublicKey: authority,
		ReceivingPublicKey: receiving,
		KFrags:             kfrags,
		Threshold:          d.Threshold,
		Shares:             d.Shares,
	}, nil
}

// Save writes the key file as indented JSON.
func (f *KeyFile) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// LoadKeyFile reads key material written by keygen.
func LoadKeyFile(path string) (*KeyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	var f KeyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}
	return &f, nil
}

// MasterPublic decodes the delegating public key.
func (f *KeyFile) MasterPublic() (kyber.Point, error) {
	return pointFromB64(f.MasterPublicKey)
}

// AuthorityPublic decodes the attestation public key.
func (f *KeyFile) AuthorityPublic() (kyber.Point, error) {
	return pointFromB64(f.AuthorityPublicKey)
}

// ReceivingPublic decodes the decrypting authority's public key.
func (f *KeyFile) ReceivingPublic() (kyber.Point, error) {
	return pointFromB64(f.ReceivingPublicKey)
}

// Fragment decodes the key fragment for one node index.
func (f *KeyFile) Fragment(index int) (*KeyFragment, error) {
	if index < 0 || index >= len(f.KFrags) {
		return nil, fmt.Errorf("no key fragment for node %d", index)
	}
	b, err := b64d(f.KFrags[index])
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key fragment: %w", err)
	}
	return KeyFragmentFromBytes(b)
}
