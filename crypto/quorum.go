package crypto

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
)

// DigestVerifier checks a quorum proof over a 32-byte digest.
type DigestVerifier interface {
	VerifyDigest(digest []byte, proof []byte) error
}

// DigestSigner produces a quorum proof over a digest.
type DigestSigner interface {
	SignDigest(digest []byte) ([]byte, error)
}

const ed25519ProofEntrySize = 2 + ed25519.SignatureSize

var (
	ErrQuorumNotReached = errors.New("quorum not reached")
	ErrMalformedProof   = errors.New("malformed proof")
)

// Ed25519Quorum accepts a digest signed by at least Threshold distinct
// members. A proof is a sequence of entries, each a big-endian uint16
// member index followed by a 64-byte signature.
type Ed25519Quorum struct {
	Members   []PublicKey
	Threshold int
}

// NewEd25519Quorum validates the membership.
func NewEd25519Quorum(members []PublicKey, threshold int) (*Ed25519Quorum, error) {
	if len(members) == 0 {
		return nil, errors.New("quorum has no members")
	}
	if len(members) > 1<<16 {
		return nil, fmt.Errorf("quorum has %d members, at most %d supported", len(members), 1<<16)
	}
	if threshold < 1 || threshold > len(members) {
		return nil, fmt.Errorf("threshold %d out of range [1, %d]", threshold, len(members))
	}
	for i, m := range members {
		if len(m) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("member %d: invalid public key size %d", i, len(m))
		}
	}
	return &Ed25519Quorum{Members: members, Threshold: threshold}, nil
}

// VerifyDigest checks the proof.
func (q *Ed25519Quorum) VerifyDigest(digest []byte, proof []byte) error {
	if len(proof) == 0 || len(proof)%ed25519ProofEntrySize != 0 {
		return fmt.Errorf("%w: %d bytes is not a whole number of entries", ErrMalformedProof, len(proof))
	}

	seen := make(map[uint16]bool)
	for entry := proof; len(entry) > 0; entry = entry[ed25519ProofEntrySize:] {
		idx := binary.BigEndian.Uint16(entry[:2])
		if int(idx) >= len(q.Members) {
			return fmt.Errorf("%w: signer index %d out of range", ErrMalformedProof, idx)
		}
		if seen[idx] {
			return fmt.Errorf("%w: signer %d appears twice", ErrMalformedProof, idx)
		}
		sig := Signature(entry[2:ed25519ProofEntrySize])
		if !sig.Verify(q.Members[idx], digest) {
			return fmt.Errorf("invalid signature from signer %d", idx)
		}
		seen[idx] = true
	}

	if len(seen) < q.Threshold {
		return fmt.Errorf("%w: %d of %d signatures", ErrQuorumNotReached, len(seen), q.Threshold)
	}
	return nil
}

// Ed25519QuorumSigner holds the keys of some quorum members, indexed by
// their position in the quorum.
type Ed25519QuorumSigner struct {
	Keys map[uint16]PrivateKey
}

// SignDigest signs with every held key, in index order.
func (s *Ed25519QuorumSigner) SignDigest(digest []byte) ([]byte, error) {
	if len(s.Keys) == 0 {
		return nil, errors.New("signer holds no keys")
	}

	indices := make([]uint16, 0, len(s.Keys))
	for idx := range s.Keys {
		indices = append(indices, idx)
	}
	slices.Sort(indices)

	proof := make([]byte, 0, len(indices)*ed25519ProofEntrySize)
	for _, idx := range indices {
		sig, err := Sign(s.Keys[idx], digest)
		if err != nil {
			return nil, fmt.Errorf("signer %d: %w", idx, err)
		}
		proof = binary.BigEndian.AppendUint16(proof, idx)
		proof = append(proof, sig...)
	}
	return proof, nil
}
