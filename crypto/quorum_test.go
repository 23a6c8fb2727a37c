package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func setupEd25519Quorum(t *testing.T, n, threshold int) (*Ed25519Quorum, []PrivateKey) {
	t.Helper()
	members := make([]PublicKey, n)
	keys := make([]PrivateKey, n)
	for i := range members {
		pk, sk, err := GenerateKeyPair()
		require.NoError(t, err)
		members[i], keys[i] = pk, sk
	}
	q, err := NewEd25519Quorum(members, threshold)
	require.NoError(t, err)
	return q, keys
}

func TestEd25519Quorum(t *testing.T) {
	q, keys := setupEd25519Quorum(t, 3, 2)
	digest := make([]byte, 32)
	digest[0] = 1

	t.Run("threshold met", func(t *testing.T) {
		signer := &Ed25519QuorumSigner{Keys: map[uint16]PrivateKey{0: keys[0], 2: keys[2]}}
		proof, err := signer.SignDigest(digest)
		require.NoError(t, err)
		require.Len(t, proof, 2*ed25519ProofEntrySize)
		require.NoError(t, q.VerifyDigest(digest, proof))
	})

	t.Run("below threshold", func(t *testing.T) {
		signer := &Ed25519QuorumSigner{Keys: map[uint16]PrivateKey{1: keys[1]}}
		proof, err := signer.SignDigest(digest)
		require.NoError(t, err)
		require.ErrorIs(t, q.VerifyDigest(digest, proof), ErrQuorumNotReached)
	})

	t.Run("duplicated signer", func(t *testing.T) {
		signer := &Ed25519QuorumSigner{Keys: map[uint16]PrivateKey{1: keys[1]}}
		proof, err := signer.SignDigest(digest)
		require.NoError(t, err)
		doubled := append(append([]byte{}, proof...), proof...)
		require.ErrorIs(t, q.VerifyDigest(digest, doubled), ErrMalformedProof)
	})

	t.Run("other digest", func(t *testing.T) {
		signer := &Ed25519QuorumSigner{Keys: map[uint16]PrivateKey{0: keys[0], 1: keys[1]}}
		proof, err := signer.SignDigest(digest)
		require.NoError(t, err)
		other := make([]byte, 32)
		require.Error(t, q.VerifyDigest(other, proof))
	})

	t.Run("wrong member index", func(t *testing.T) {
		signer := &Ed25519QuorumSigner{Keys: map[uint16]PrivateKey{1: keys[0], 2: keys[2]}}
		proof, err := signer.SignDigest(digest)
		require.NoError(t, err)
		require.Error(t, q.VerifyDigest(digest, proof))
	})

	t.Run("malformed", func(t *testing.T) {
		require.ErrorIs(t, q.VerifyDigest(digest, nil), ErrMalformedProof)
		require.ErrorIs(t, q.VerifyDigest(digest, make([]byte, 65)), ErrMalformedProof)

		entry := make([]byte, ed25519ProofEntrySize)
		entry[1] = 9
		require.ErrorIs(t, q.VerifyDigest(digest, entry), ErrMalformedProof)
	})
}

func TestNewEd25519QuorumValidates(t *testing.T) {
	pk, _, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = NewEd25519Quorum(nil, 1)
	require.Error(t, err)
	_, err = NewEd25519Quorum([]PublicKey{pk}, 2)
	require.Error(t, err)
	_, err = NewEd25519Quorum([]PublicKey{pk[:10]}, 1)
	require.Error(t, err)
}

func TestBLSQuorum(t *testing.T) {
	const n = 4
	keys := make([]*BLSKeyPair, n)
	pubs := make([][]byte, n)
	for i := range keys {
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		k, err := BLSKeyFromSeed(seed)
		require.NoError(t, err)
		keys[i], pubs[i] = k, k.PublicKeyBytes()
	}
	q, err := NewBLSQuorum(pubs, 3)
	require.NoError(t, err)

	digest := make([]byte, 32)
	digest[31] = 7

	t.Run("threshold met", func(t *testing.T) {
		signer := &BLSQuorumSigner{Size: n, Keys: map[int]*BLSKeyPair{0: keys[0], 1: keys[1], 3: keys[3]}}
		proof, err := signer.SignDigest(digest)
		require.NoError(t, err)
		require.Len(t, proof, 1+BLSSignatureSize)
		require.NoError(t, q.VerifyDigest(digest, proof))
	})

	t.Run("below threshold", func(t *testing.T) {
		signer := &BLSQuorumSigner{Size: n, Keys: map[int]*BLSKeyPair{0: keys[0], 1: keys[1]}}
		proof, err := signer.SignDigest(digest)
		require.NoError(t, err)
		require.ErrorIs(t, q.VerifyDigest(digest, proof), ErrQuorumNotReached)
	})

	t.Run("bitmap claims extra signer", func(t *testing.T) {
		signer := &BLSQuorumSigner{Size: n, Keys: map[int]*BLSKeyPair{0: keys[0], 1: keys[1]}}
		proof, err := signer.SignDigest(digest)
		require.NoError(t, err)
		proof[0] |= 1 << 2
		require.Error(t, q.VerifyDigest(digest, proof))
	})

	t.Run("other digest", func(t *testing.T) {
		signer := &BLSQuorumSigner{Size: n, Keys: map[int]*BLSKeyPair{0: keys[0], 1: keys[1], 2: keys[2]}}
		proof, err := signer.SignDigest(digest)
		require.NoError(t, err)
		require.Error(t, q.VerifyDigest(make([]byte, 32), proof))
	})

	t.Run("malformed", func(t *testing.T) {
		require.ErrorIs(t, q.VerifyDigest(digest, make([]byte, 10)), ErrMalformedProof)
	})

	t.Run("key roundtrip", func(t *testing.T) {
		restored, err := BLSKeyFromBytes(keys[0].SecretKeyBytes())
		require.NoError(t, err)
		require.Equal(t, keys[0].PublicKeyBytes(), restored.PublicKeyBytes())
	})
}

func TestSignerBitmap(t *testing.T) {
	bitmap := BuildSignerBitmap([]int{0, 3, 9, 42}, 10)
	require.Len(t, bitmap, 2)
	require.Equal(t, []int{0, 3, 9}, ParseSignerBitmap(bitmap))
}
