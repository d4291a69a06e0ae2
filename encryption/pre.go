package encryption

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInsufficientFragments is returned when fewer than threshold
	// verified fragments are available. Retrying is a coordination
	// concern, not a crypto one.
	ErrInsufficientFragments = errors.New("insufficient verified fragments")

	// ErrFragmentVerification covers a fragment whose attestation or
	// consistency proof does not check out.
	ErrFragmentVerification = errors.New("fragment verification failed")

	// ErrDecryptionFailed marks an authenticated-decryption failure:
	// wrong key or tampered ciphertext.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrMalformedCiphertext marks input that cannot even be parsed
	// into the capsule ‖ wrapped-key ‖ ciphertext layout.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

// CapsuleSize is the marshalled size of the per-ciphertext header.
const CapsuleSize = pointSize

// CiphertextFragmentSize is the marshalled size of one re-encryption
// fragment: index ‖ W ‖ V ‖ e ‖ f ‖ attestation.
const CiphertextFragmentSize = 2 + 2*pointSize + 2*scalarSize + sigSize

const maskInfo = "votemesh/capsule/v1"

// deriveMask stretches the shared DH point into the keystream that
// masks key ‖ nonce, bound to the receiving public key.
func deriveMask(shared, receiving kyber.Point) ([]byte, error) {
	secret, err := shared.MarshalBinary()
	if err != nil {
		return nil, err
	}
	rb, err := receiving.MarshalBinary()
	if err != nil {
		return nil, err
	}
	info := append([]byte(maskInfo), rb...)
	mask := make([]byte, WrappedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), mask); err != nil {
		return nil, err
	}
	return mask, nil
}

func xorBytes(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

// Encrypt produces the three pieces a vote submission carries: the
// capsule (ephemeral point), the wrapped symmetric key ‖ nonce, and
// the AEAD ciphertext of the plaintext.
func Encrypt(delegating, receiving kyber.Point, plaintext []byte) (capsule, wrappedKey, ciphertext []byte, err error) {
	key, err := randomBytes(KeySize)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce, err := randomBytes(NonceSize)
	if err != nil {
		return nil, nil, nil, err
	}

	r := Suite.Scalar().Pick(Suite.RandomStream())
	u := Suite.Point().Mul(r, nil)
	shared := Suite.Point().Mul(r, delegating)

	mask, err := deriveMask(shared, receiving)
	if err != nil {
		return nil, nil, nil, err
	}
	wrappedKey = make([]byte, WrappedKeySize)
	xorBytes(wrappedKey, append(append([]byte(nil), key...), nonce...), mask)

	capsule, err = u.MarshalBinary()
	if err != nil {
		return nil, nil, nil, err
	}
	ciphertext, err = EncryptPayload(key, nonce, plaintext)
	if err != nil {
		return nil, nil, nil, err
	}
	return capsule, wrappedKey, ciphertext, nil
}

// DecodeCapsule parses the fixed-size capsule header.
func DecodeCapsule(data []byte) (kyber.Point, error) {
	if len(data) != CapsuleSize {
		return nil, fmt.Errorf("%w: capsule must be %d bytes, got %d", ErrMalformedCiphertext, CapsuleSize, len(data))
	}
	p := Suite.Point()
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: invalid capsule point: %v", ErrMalformedCiphertext, err)
	}
	return p, nil
}

// CiphertextFragment is one node's re-encryption output for a capsule:
// the share applied to the capsule point plus a Chaum-Pedersen proof
// that the same share underlies the attested commitment.
type CiphertextFragment struct {
	Index       int
	W           kyber.Point
	Commitment  kyber.Point
	ProofE      kyber.Scalar
	ProofF      kyber.Scalar
	Attestation []byte
}

func proofChallenge(w, uHat, hHat kyber.Point) kyber.Scalar {
	h := sha256.New()
	w.MarshalTo(h)
	uHat.MarshalTo(h)
	hHat.MarshalTo(h)
	return Suite.Scalar().SetBytes(h.Sum(nil))
}

// Reencrypt applies the node's share to a capsule. Pure function of
// the fragment and the capsule; no state.
func (kf *KeyFragment) Reencrypt(capsule kyber.Point) (*CiphertextFragment, error) {
	w := Suite.Point().Mul(kf.Share, capsule)

	t := Suite.Scalar().Pick(Suite.RandomStream())
	uHat := Suite.Point().Mul(t, capsule)
	hHat := Suite.Point().Mul(t, nil)
	e := proofChallenge(w, uHat, hHat)
	f := Suite.Scalar().Add(t, Suite.Scalar().Mul(e, kf.Share))

	return &CiphertextFragment{
		Index:       kf.Index,
		W:           w,
		Commitment:  kf.Commitment,
		ProofE:      e,
		ProofF:      f,
		Attestation: append([]byte(nil), kf.Attestation...),
	}, nil
}

// Verify checks the fragment against the capsule it claims to
// re-encrypt and the three public keys that anchor the delegation. On
// success the fragment is promoted to a VerifiedFragment.
func (cf *CiphertextFragment) Verify(capsule, authority, delegating, receiving kyber.Point) (*VerifiedFragment, error) {
	msg := attestationMessage(cf.Index, cf.Commitment, delegating, receiving)
	if err := schnorr.Verify(Suite, authority, msg, cf.Attestation); err != nil {
		return nil, fmt.Errorf("%w: bad attestation for fragment %d: %v", ErrFragmentVerification, cf.Index, err)
	}

	// uHat = f·U - e·W, hHat = f·G - e·V; the challenge must match.
	negE := Suite.Scalar().Neg(cf.ProofE)
	uHat := Suite.Point().Add(
		Suite.Point().Mul(cf.ProofF, capsule),
		Suite.Point().Mul(negE, cf.W),
	)
	hHat := Suite.Point().Add(
		Suite.Point().Mul(cf.ProofF, nil),
		Suite.Point().Mul(negE, cf.Commitment),
	)
	if !proofChallenge(cf.W, uHat, hHat).Equal(cf.ProofE) {
		return nil, fmt.Errorf("%w: inconsistent share from fragment %d", ErrFragmentVerification, cf.Index)
	}
	return &VerifiedFragment{frag: cf}, nil
}

// MarshalBinary encodes the fragment into its fixed wire layout.
func (cf *CiphertextFragment) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, CiphertextFragmentSize)
	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], uint16(cf.Index))
	out = append(out, idx[:]...)
	for _, m := range []encoding{cf.W, cf.Commitment, cf.ProofE, cf.ProofF} {
		b, err := m.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	out = append(out, cf.Attestation...)
	if len(out) != CiphertextFragmentSize {
		return nil, fmt.Errorf("unexpected fragment size %d", len(out))
	}
	return out, nil
}

type encoding interface {
	MarshalBinary() ([]byte, error)
}

// CiphertextFragmentFromBytes decodes a fragment received from a node.
func CiphertextFragmentFromBytes(data []byte) (*CiphertextFragment, error) {
	if len(data) != CiphertextFragmentSize {
		return nil, fmt.Errorf("fragment must be %d bytes, got %d", CiphertextFragmentSize, len(data))
	}
	cf := &CiphertextFragment{
		Index:      int(binary.BigEndian.Uint16(data[:2])),
		W:          Suite.Point(),
		Commitment: Suite.Point(),
		ProofE:     Suite.Scalar(),
		ProofF:     Suite.Scalar(),
	}
	off := 2
	if err := cf.W.UnmarshalBinary(data[off : off+pointSize]); err != nil {
		return nil, fmt.Errorf("invalid fragment point: %w", err)
	}
	off += pointSize
	if err := cf.Commitment.UnmarshalBinary(data[off : off+pointSize]); err != nil {
		return nil, fmt.Errorf("invalid fragment commitment: %w", err)
	}
	off += pointSize
	if err := cf.ProofE.UnmarshalBinary(data[off : off+scalarSize]); err != nil {
		return nil, fmt.Errorf("invalid fragment proof: %w", err)
	}
	off += scalarSize
	if err := cf.ProofF.UnmarshalBinary(data[off : off+scalarSize]); err != nil {
		return nil, fmt.Errorf("invalid fragment proof: %w", err)
	}
	off += scalarSize
	cf.Attestation = append([]byte(nil), data[off:]...)
	return cf, nil
}

// VerifiedFragment is a fragment that has passed Verify. It is what
// the decrypting authority consumes; it is never persisted.
type VerifiedFragment struct {
	frag *CiphertextFragment
}

// Bytes returns the underlying wire encoding.
func (vf *VerifiedFragment) Bytes() ([]byte, error) {
	return vf.frag.MarshalBinary()
}

// VerifiedFromBytes reconstructs a VerifiedFragment from bytes that
// were produced by a verifier. No checks are re-run; the caller
// asserts the provenance.
func VerifiedFromBytes(data []byte) (*VerifiedFragment, error) {
	cf, err := CiphertextFragmentFromBytes(data)
	if err != nil {
		return nil, err
	}
	return &VerifiedFragment{frag: cf}, nil
}

// Combine recovers the symmetric key and nonce from at least threshold
// verified fragments. Fewer than threshold is refused outright; no
// partial decryption is attempted.
func Combine(frags []*VerifiedFragment, wrappedKey []byte, threshold, shares int, receiving kyber.Point) (key, nonce []byte, err error) {
	if len(frags) < threshold {
		return nil, nil, fmt.Errorf("%w: need %d, got %d", ErrInsufficientFragments, threshold, len(frags))
	}
	if len(wrappedKey) != WrappedKeySize {
		return nil, nil, fmt.Errorf("%w: wrapped key must be %d bytes, got %d", ErrMalformedCiphertext, WrappedKeySize, len(wrappedKey))
	}

	pubShares := make([]*share.PubShare, 0, len(frags))
	for _, vf := range frags {
		pubShares = append(pubShares, &share.PubShare{I: vf.frag.Index, V: vf.frag.W})
	}
	shared, err := share.RecoverCommit(Suite, pubShares, threshold, shares)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to recover shared point: %w", err)
	}

	mask, err := deriveMask(shared, receiving)
	if err != nil {
		return nil, nil, err
	}
	out := make([]byte, WrappedKeySize)
	xorBytes(out, wrappedKey, mask)
	return out[:KeySize], out[KeySize:], nil
}
