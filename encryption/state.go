package encryption

import (
	"fmt"

	"go.dedis.ch/kyber/v3"
)

// The encrypted-state envelope is a single blob:
// capsule(32) ‖ wrapped key+nonce(44) ‖ AEAD ciphertext. The same
// hybrid construction as the vote path, but keyed directly by the
// authority's long-term keypair instead of the threshold delegation.

// StateOverhead is the fixed prefix before the variable ciphertext.
const StateOverhead = CapsuleSize + WrappedKeySize

// Seal encrypts plaintext under a freshly generated symmetric key
// wrapped for the given public key. Every call draws a new key, so a
// compromised transition key exposes exactly one state.
func Seal(receiving kyber.Point, plaintext []byte) ([]byte, error) {
	capsule, wrapped, ciphertext, err := Encrypt(receiving, receiving, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to seal state: %w", err)
	}
	blob := make([]byte, 0, StateOverhead+len(ciphertext))
	blob = append(blob, capsule...)
	blob = append(blob, wrapped...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

// Open decrypts a sealed blob with the long-term secret. A blob that
// does not parse reports ErrMalformedCiphertext; a blob that parses
// but fails authenticated decryption reports ErrDecryptionFailed, so
// callers can tell a wrong key from garbage input.
func Open(secret kyber.Scalar, blob []byte) ([]byte, error) {
	if len(blob) < StateOverhead {
		return nil, fmt.Errorf("%w: state blob too short (%d bytes)", ErrMalformedCiphertext, len(blob))
	}
	capsule, err := DecodeCapsule(blob[:CapsuleSize])
	if err != nil {
		return nil, err
	}
	wrapped := blob[CapsuleSize:StateOverhead]
	ciphertext := blob[StateOverhead:]

	shared := Suite.Point().Mul(secret, capsule)
	receiving := Suite.Point().Mul(secret, nil)
	mask, err := deriveMask(shared, receiving)
	if err != nil {
		return nil, err
	}
	out := make([]byte, WrappedKeySize)
	xorBytes(out, wrapped, mask)

	plaintext, err := DecryptPayload(out[:KeySize], out[KeySize:], ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}
	return plaintext, nil
}
