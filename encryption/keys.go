package encryption

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/schnorr"
)

// Suite is the group everything in this package operates in.
var Suite = edwards25519.NewBlakeSHA256Ed25519()

const (
	pointSize  = 32
	scalarSize = 32
	sigSize    = 64

	// KeyFragmentSize is the marshalled size of a KeyFragment:
	// index ‖ share ‖ attestation.
	KeyFragmentSize = 2 + scalarSize + sigSize
)

// Delegation is the full output of key generation: the master
// (delegating) keypair, the attestation keypair, and one key fragment
// per re-encryption node.
type Delegation struct {
	MasterSecret  kyber.Scalar
	MasterPublic  kyber.Point
	SigningSecret kyber.Scalar
	SigningPublic kyber.Point
	Receiving     kyber.Point
	Threshold     int
	Shares        int
	Fragments     []*KeyFragment
}

// KeyFragment is one node's Shamir share of the delegating secret,
// together with its public commitment and the attestation binding it
// to the delegating and receiving keys.
type KeyFragment struct {
	Index       int
	Share       kyber.Scalar
	Commitment  kyber.Point
	Attestation []byte
}

// GenerateKeyPair returns a fresh keypair in the package suite.
func GenerateKeyPair() (kyber.Scalar, kyber.Point) {
	s := Suite.Scalar().Pick(Suite.RandomStream())
	return s, Suite.Point().Mul(s, nil)
}

// attestationMessage is what the authority's signing key commits to for
// one fragment: the fragment commitment pinned to both end keys.
func attestationMessage(index int, commitment, delegating, receiving kyber.Point) []byte {
	h := sha256.New()
	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], uint16(index))
	h.Write(idx[:])
	commitment.MarshalTo(h)
	delegating.MarshalTo(h)
	receiving.MarshalTo(h)
	return h.Sum(nil)
}

// GenerateDelegation splits a fresh delegating secret into shares key
// fragments with the given threshold, each attested by a fresh
// authority signing key. The receiving key is the decrypting
// authority's public key.
func GenerateDelegation(receiving kyber.Point, threshold, shares int) (*Delegation, error) {
	if threshold < 1 || threshold > shares {
		return nil, fmt.Errorf("invalid threshold %d for %d shares", threshold, shares)
	}

	master := Suite.Scalar().Pick(Suite.RandomStream())
	masterPub := Suite.Point().Mul(master, nil)
	signing := Suite.Scalar().Pick(Suite.RandomStream())
	signingPub := Suite.Point().Mul(signing, nil)

	poly := share.NewPriPoly(Suite, threshold, master, Suite.RandomStream())
	priShares := poly.Shares(shares)

	frags := make([]*KeyFragment, 0, shares)
	for _, ps := range priShares {
		commitment := Suite.Point().Mul(ps.V, nil)
		msg := attestationMessage(ps.I, commitment, masterPub, receiving)
		sig, err := schnorr.Sign(Suite, signing, msg)
		if err != nil {
			return nil, fmt.Errorf("failed to attest fragment %d: %w", ps.I, err)
		}
		frags = append(frags, &KeyFragment{
			Index:       ps.I,
			Share:       ps.V,
			Commitment:  commitment,
			Attestation: sig,
		})
	}

	return &Delegation{
		MasterSecret:  master,
		MasterPublic:  masterPub,
		SigningSecret: signing,
		SigningPublic: signingPub,
		Receiving:     receiving,
		Threshold:     threshold,
		Shares:        shares,
		Fragments:     frags,
	}, nil
}

// MarshalBinary encodes the fragment as index ‖ share ‖ attestation.
// The commitment is recomputed on decode.
func (kf *KeyFragment) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, KeyFragmentSize)
	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], uint16(kf.Index))
	out = append(out, idx[:]...)

	sb, err := kf.Share.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal share: %w", err)
	}
	out = append(out, sb...)
	out = append(out, kf.Attestation...)
	if len(out) != KeyFragmentSize {
		return nil, fmt.Errorf("unexpected key fragment size %d", len(out))
	}
	return out, nil
}

// KeyFragmentFromBytes decodes a marshalled key fragment.
func KeyFragmentFromBytes(data []byte) (*KeyFragment, error) {
	if len(data) != KeyFragmentSize {
		return nil, fmt.Errorf("key fragment must be %d bytes, got %d", KeyFragmentSize, len(data))
	}
	s := Suite.Scalar()
	if err := s.UnmarshalBinary(data[2 : 2+scalarSize]); err != nil {
		return nil, fmt.Errorf("invalid fragment share: %w", err)
	}
	kf := &KeyFragment{
		Index:       int(binary.BigEndian.Uint16(data[:2])),
		Share:       s,
		Commitment:  Suite.Point().Mul(s, nil),
		Attestation: append([]byte(nil), data[2+scalarSize:]...),
	}
	return kf, nil
}

// Corrupted returns a copy with a perturbed share but the original
// commitment and attestation. Its re-encryption output is
// deterministically rejected by fragment verification, which is how a
// faulty or adversarial node is simulated without crashing anything.
func (kf *KeyFragment) Corrupted() *KeyFragment {
	bad := Suite.Scalar().Add(kf.Share, Suite.Scalar().One())
	return &KeyFragment{
		Index:       kf.Index,
		Share:       bad,
		Commitment:  kf.Commitment,
		Attestation: kf.Attestation,
	}
}
