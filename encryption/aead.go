package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const (
	// KeySize and NonceSize fix the symmetric layer: AES-256-GCM with
	// a 12-byte nonce. Key and nonce travel together inside the
	// wrapped-key region of the envelope.
	KeySize   = 32
	NonceSize = 12

	// WrappedKeySize is the size of the masked key ‖ nonce region.
	WrappedKeySize = KeySize + NonceSize
)

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptPayload seals plaintext under key/nonce with AES-GCM.
func EncryptPayload(key, nonce, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

// DecryptPayload opens an AES-GCM ciphertext. Any tampering with the
// ciphertext or a wrong key fails closed.
func DecryptPayload(key, nonce, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
