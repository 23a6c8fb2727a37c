package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var maskInfoPrefix = []byte("sealbatch/mask/v1")

// Encrypt hides value under a pad only the holder of oracleKey can derive.
func Encrypt(oracleKey KemPublicKey, value *uint256.Int) (*MaskedCiphertext, error) {
	if value == nil {
		return nil, errors.New("nil plaintext")
	}

	ephPub, ephPriv, err := GenerateKemKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}
	var nonce MaskNonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	pad, err := derivePad(ephPriv, oracleKey, nonce)
	if err != nil {
		return nil, err
	}

	return &MaskedCiphertext{
		Masked: new(uint256.Int).Add(value, pad),
		Terms:  []MaskTerm{{Ephemeral: ephPub, Nonce: nonce}},
	}, nil
}

// EncryptUint64 is Encrypt for small values.
func EncryptUint64(oracleKey KemPublicKey, value uint64) (*MaskedCiphertext, error) {
	return Encrypt(oracleKey, uint256.NewInt(value))
}

func derivePad(priv KemPrivateKey, pub KemPublicKey, nonce MaskNonce) (*uint256.Int, error) {
	info := make([]byte, 0, len(maskInfoPrefix)+maskNonceSize)
	info = append(info, maskInfoPrefix...)
	info = append(info, nonce[:]...)

	secret, err := DeriveSharedSecret(priv, pub, info)
	if err != nil {
		return nil, fmt.Errorf("deriving pad: %w", err)
	}
	return new(uint256.Int).SetBytes32(secret.Bytes()), nil
}
