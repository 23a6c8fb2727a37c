package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KemPublicKey is an X25519 public key. The oracle publishes one; every
// ciphertext term carries an ephemeral one.
type KemPublicKey [32]byte

// KemPrivateKey is an X25519 private key.
type KemPrivateKey [32]byte

// GenerateKemKeyPair generates a new X25519 key pair.
func GenerateKemKeyPair() (KemPublicKey, KemPrivateKey, error) {
	var privKey KemPrivateKey
	if _, err := rand.Read(privKey[:]); err != nil {
		return KemPublicKey{}, privKey, err
	}
	return privKey.PublicKey(), privKey, nil
}

// PublicKey derives the public half.
func (k KemPrivateKey) PublicKey() KemPublicKey {
	var pubKey KemPublicKey
	curve25519.ScalarBaseMult((*[32]byte)(&pubKey), (*[32]byte)(&k))
	return pubKey
}

// String returns the hex encoding of the key.
func (k KemPrivateKey) String() string {
	return hex.EncodeToString(k[:])
}

// String returns the hex encoding of the key.
func (k KemPublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalText encodes the key as hex.
func (k KemPublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a hex key.
func (k *KemPublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParseKemKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKemKey decodes a 32-byte hex key.
func ParseKemKey(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("kem key is %d bytes, expected %d", len(raw), len(out))
	}
	copy(out[:], raw)
	return out, nil
}

// DeriveSharedSecret performs X25519 agreement and expands the result with
// HKDF-SHA256 under info.
func DeriveSharedSecret(privateKey KemPrivateKey, publicKey KemPublicKey, info []byte) (SharedKey, error) {
	sharedPoint, err := curve25519.X25519(privateKey[:], publicKey[:])
	if err != nil {
		return nil, err
	}

	kdf := hkdf.New(sha256.New, sharedPoint, nil, info)
	secret := make([]byte, 32)
	if _, err := kdf.Read(secret); err != nil {
		return nil, err
	}

	return SharedKey(secret), nil
}
