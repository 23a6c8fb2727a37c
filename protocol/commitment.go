package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	// CleartextLayoutV1 is two 32-byte big-endian unsigned integers,
	// condition total followed by status total.
	CleartextLayoutV1 = 1

	cleartextWordSize = 32
	cleartextV1Size   = 2 * cleartextWordSize
)

var decryptionDigestTag = []byte("sealbatch/decryption-result/v1")

// StateCommitment binds a decryption request to the exact handles it covers
// and to the protocol instance that issued it.
func StateCommitment(identity common.Address, handles []common.Hash) common.Hash {
	parts := make([][]byte, 0, len(handles)+1)
	for i := range handles {
		parts = append(parts, handles[i][:])
	}
	parts = append(parts, identity[:])
	return ethcrypto.Keccak256Hash(parts...)
}

// DecryptionDigest is the message the oracle signs for a fulfilled request.
func DecryptionDigest(identity common.Address, requestID uint64, cleartexts []byte) common.Hash {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], requestID)
	return ethcrypto.Keccak256Hash(decryptionDigestTag, identity[:], id[:], cleartexts)
}

// EncodeCleartexts produces the v1 callback payload.
func EncodeCleartexts(conditionTotal, statusTotal *uint256.Int) []byte {
	out := make([]byte, 0, cleartextV1Size)
	c := conditionTotal.Bytes32()
	s := statusTotal.Bytes32()
	out = append(out, c[:]...)
	return append(out, s[:]...)
}

// DecodeCleartexts parses the v1 callback payload.
func DecodeCleartexts(payload []byte) (conditionTotal, statusTotal *uint256.Int, err error) {
	if len(payload) != cleartextV1Size {
		return nil, nil, fmt.Errorf("cleartext payload is %d bytes, layout v%d requires %d",
			len(payload), CleartextLayoutV1, cleartextV1Size)
	}
	conditionTotal = new(uint256.Int).SetBytes32(payload[:cleartextWordSize])
	statusTotal = new(uint256.Int).SetBytes32(payload[cleartextWordSize:])
	return conditionTotal, statusTotal, nil
}
