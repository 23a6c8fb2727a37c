package protocol

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/sealbatch/crypto"
)

// QuorumVerifier checks oracle proofs produced by a signing quorum over
// DecryptionDigest. Binding the digest to the protocol identity keeps a
// proof for one instance from being accepted by another.
type QuorumVerifier struct {
	Identity common.Address
	Quorum   crypto.DigestVerifier
}

// VerifyDecryption checks proof against the digest of (requestID, cleartexts).
func (v *QuorumVerifier) VerifyDecryption(requestID uint64, cleartexts []byte, proof []byte) error {
	digest := DecryptionDigest(v.Identity, requestID, cleartexts)
	return v.Quorum.VerifyDigest(digest.Bytes(), proof)
}
