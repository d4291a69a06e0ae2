package service

import (
	"encoding/base64"
	"fmt"

	"votemesh/encryption"
)

// FragmentHolder owns a node's immutable key fragment and exposes the
// single stateless capability of a re-encryption node: turn a capsule
// into a ciphertext fragment.
type FragmentHolder struct {
	fragment  *encryption.KeyFragment
	corrupted bool
}

func NewFragmentHolder(fragment *encryption.KeyFragment, corrupted bool) *FragmentHolder {
	return &FragmentHolder{fragment: fragment, corrupted: corrupted}
}

// Reencrypt produces this node's fragment for the given capsule. The
// payload ciphertext travels with the request but the transformation
// itself only needs the capsule. A holder in corrupted mode perturbs
// its stored fragment first, yielding output that fails verification
// downstream without disturbing the protocol flow.
func (h *FragmentHolder) Reencrypt(capsuleB64, _ string) (string, error) {
	cb, err := base64.StdEncoding.DecodeString(capsuleB64)
	if err != nil {
		return "", fmt.Errorf("invalid base64 capsule: %w", err)
	}
	capsule, err := encryption.DecodeCapsule(cb)
	if err != nil {
		return "", err
	}

	kf := h.fragment
	if h.corrupted {
		kf = kf.Corrupted()
	}
	cf, err := kf.Reencrypt(capsule)
	if err != nil {
		return "", err
	}
	out, err := cf.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}
