package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
)

const (
	// BLSPublicKeySize is a compressed G1 point.
	BLSPublicKeySize = 48
	// BLSSignatureSize is a compressed G2 point.
	BLSSignatureSize = 96
	blsSecretKeySize = 32
)

// Proof-of-possession ciphersuite, required for same-message aggregation.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

// BLSKeyPair is a MinPk key pair: public keys in G1, signatures in G2.
type BLSKeyPair struct {
	secret *blst.SecretKey
	public *blst.P1Affine
}

// GenerateBLSKey creates a key pair from fresh randomness.
func GenerateBLSKey() (*BLSKeyPair, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed: %w", err)
	}
	return BLSKeyFromSeed(ikm[:])
}

// BLSKeyFromSeed derives a key pair deterministically. The seed must be at
// least 32 bytes.
func BLSKeyFromSeed(seed []byte) (*BLSKeyPair, error) {
	if len(seed) < 32 {
		return nil, errors.New("seed must be at least 32 bytes")
	}
	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, errors.New("bls key generation failed")
	}
	return &BLSKeyPair{secret: secret, public: new(blst.P1Affine).From(secret)}, nil
}

// BLSKeyFromBytes restores a key pair from a serialized secret key.
func BLSKeyFromBytes(secretKey []byte) (*BLSKeyPair, error) {
	if len(secretKey) != blsSecretKeySize {
		return nil, fmt.Errorf("bls secret key is %d bytes, expected %d", len(secretKey), blsSecretKeySize)
	}
	secret := new(blst.SecretKey).Deserialize(secretKey)
	if secret == nil {
		return nil, errors.New("invalid bls secret key")
	}
	return &BLSKeyPair{secret: secret, public: new(blst.P1Affine).From(secret)}, nil
}

// SecretKeyBytes serializes the secret key.
func (k *BLSKeyPair) SecretKeyBytes() []byte {
	return k.secret.Serialize()
}

// PublicKeyBytes returns the compressed public key.
func (k *BLSKeyPair) PublicKeyBytes() []byte {
	return k.public.Compress()
}

// Sign signs message.
func (k *BLSKeyPair) Sign(message []byte) []byte {
	return new(blst.P2Affine).Sign(k.secret, message, blsDST).Compress()
}

// BLSQuorum accepts a digest signed by at least Threshold members. A proof
// is a participation bitmap (bit i of byte i/8 marks member i) followed by
// the 96-byte aggregate signature of the marked members.
type BLSQuorum struct {
	members   []*blst.P1Affine
	Threshold int
}

// NewBLSQuorum decodes and validates the members' compressed public keys.
func NewBLSQuorum(members [][]byte, threshold int) (*BLSQuorum, error) {
	if len(members) == 0 {
		return nil, errors.New("quorum has no members")
	}
	if threshold < 1 || threshold > len(members) {
		return nil, fmt.Errorf("threshold %d out of range [1, %d]", threshold, len(members))
	}

	q := &BLSQuorum{members: make([]*blst.P1Affine, len(members)), Threshold: threshold}
	for i, raw := range members {
		if len(raw) != BLSPublicKeySize {
			return nil, fmt.Errorf("member %d: invalid public key size %d", i, len(raw))
		}
		pk := new(blst.P1Affine).Uncompress(raw)
		if pk == nil || !pk.KeyValidate() {
			return nil, fmt.Errorf("member %d: invalid public key", i)
		}
		q.members[i] = pk
	}
	return q, nil
}

func (q *BLSQuorum) bitmapSize() int {
	return (len(q.members) + 7) / 8
}

// VerifyDigest checks the proof.
func (q *BLSQuorum) VerifyDigest(digest []byte, proof []byte) error {
	bitmapLen := q.bitmapSize()
	if len(proof) != bitmapLen+BLSSignatureSize {
		return fmt.Errorf("%w: proof is %d bytes, expected %d", ErrMalformedProof, len(proof), bitmapLen+BLSSignatureSize)
	}

	signers := ParseSignerBitmap(proof[:bitmapLen])
	var pks []*blst.P1Affine
	for _, idx := range signers {
		if idx >= len(q.members) {
			return fmt.Errorf("%w: signer index %d out of range", ErrMalformedProof, idx)
		}
		pks = append(pks, q.members[idx])
	}
	if len(pks) < q.Threshold {
		return fmt.Errorf("%w: %d of %d signatures", ErrQuorumNotReached, len(pks), q.Threshold)
	}

	sig := new(blst.P2Affine).Uncompress(proof[bitmapLen:])
	if sig == nil {
		return fmt.Errorf("%w: invalid aggregate signature encoding", ErrMalformedProof)
	}
	if !sig.FastAggregateVerify(true, pks, digest, blsDST) {
		return errors.New("aggregate signature does not verify")
	}
	return nil
}

// BLSQuorumSigner holds the keys of some quorum members.
type BLSQuorumSigner struct {
	Size int
	Keys map[int]*BLSKeyPair
}

// SignDigest signs with every held key and aggregates the result.
func (s *BLSQuorumSigner) SignDigest(digest []byte) ([]byte, error) {
	if len(s.Keys) == 0 {
		return nil, errors.New("signer holds no keys")
	}

	indices := make([]int, 0, len(s.Keys))
	sigs := make([][]byte, 0, len(s.Keys))
	for idx, key := range s.Keys {
		if idx < 0 || idx >= s.Size {
			return nil, fmt.Errorf("signer index %d out of range", idx)
		}
		indices = append(indices, idx)
		sigs = append(sigs, key.Sign(digest))
	}

	agg := new(blst.P2Aggregate)
	if !agg.AggregateCompressed(sigs, true) {
		return nil, errors.New("signature aggregation failed")
	}

	proof := BuildSignerBitmap(indices, s.Size)
	return append(proof, agg.ToAffine().Compress()...), nil
}

// BuildSignerBitmap marks the given member indices.
func BuildSignerBitmap(indices []int, total int) []byte {
	bitmap := make([]byte, (total+7)/8)
	for _, idx := range indices {
		if idx >= 0 && idx < total {
			bitmap[idx/8] |= 1 << (idx % 8)
		}
	}
	return bitmap
}

// ParseSignerBitmap lists the marked member indices in ascending order.
func ParseSignerBitmap(bitmap []byte) []int {
	var indices []int
	for byteIdx, b := range bitmap {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				indices = append(indices, byteIdx*8+bit)
			}
		}
	}
	return indices
}
