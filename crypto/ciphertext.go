package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	maskNonceSize = 16
	maskTermSize  = 32 + maskNonceSize

	// MaxMaskTerms bounds the number of terms accepted when decoding a
	// ciphertext. An aggregate holds one term per contribution.
	MaxMaskTerms = 1 << 16
)

// MaskNonce salts the pad derivation of a single term.
type MaskNonce [maskNonceSize]byte

// MarshalText encodes the nonce as hex.
func (n MaskNonce) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(n[:])), nil
}

// UnmarshalText decodes a hex nonce.
func (n *MaskNonce) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(raw) != maskNonceSize {
		return fmt.Errorf("mask nonce is %d bytes, expected %d", len(raw), maskNonceSize)
	}
	copy(n[:], raw)
	return nil
}

// MaskTerm identifies one pad folded into a masked value. Only the holder of
// the oracle's exchange key can recompute it.
type MaskTerm struct {
	Ephemeral KemPublicKey `json:"ephemeral"`
	Nonce     MaskNonce    `json:"nonce"`
}

// MaskedCiphertext is a 256-bit value hidden under a sum of pads:
// Masked = value + sum(pad(term)) mod 2^256.
//
// Adding two ciphertexts adds the masked values and concatenates the terms,
// so the result decrypts to the sum of the plaintexts.
type MaskedCiphertext struct {
	Masked *uint256.Int `json:"masked"`
	Terms  []MaskTerm   `json:"terms"`
}

// ZeroCiphertext returns an encryption of zero that carries no pads.
func ZeroCiphertext() *MaskedCiphertext {
	return &MaskedCiphertext{Masked: new(uint256.Int), Terms: []MaskTerm{}}
}

// AddCiphertexts returns a ciphertext of the sum of a and b. The inputs are
// not modified.
func AddCiphertexts(a, b *MaskedCiphertext) (*MaskedCiphertext, error) {
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("left operand: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("right operand: %w", err)
	}
	if len(a.Terms)+len(b.Terms) > MaxMaskTerms {
		return nil, fmt.Errorf("sum would carry more than %d terms", MaxMaskTerms)
	}

	terms := make([]MaskTerm, 0, len(a.Terms)+len(b.Terms))
	terms = append(terms, a.Terms...)
	terms = append(terms, b.Terms...)

	return &MaskedCiphertext{
		Masked: new(uint256.Int).Add(a.Masked, b.Masked),
		Terms:  terms,
	}, nil
}

// Validate checks the ciphertext is well formed.
func (c *MaskedCiphertext) Validate() error {
	if c == nil {
		return errors.New("nil ciphertext")
	}
	if c.Masked == nil {
		return errors.New("ciphertext has no masked value")
	}
	if len(c.Terms) > MaxMaskTerms {
		return fmt.Errorf("ciphertext carries %d terms, limit is %d", len(c.Terms), MaxMaskTerms)
	}
	return nil
}

// MarshalBinary returns the canonical encoding:
// masked (32) || term count (4, big-endian) || terms (ephemeral 32 || nonce 16).
func (c *MaskedCiphertext) MarshalBinary() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, 36+len(c.Terms)*maskTermSize)
	masked := c.Masked.Bytes32()
	out = append(out, masked[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.Terms)))
	for _, term := range c.Terms {
		out = append(out, term.Ephemeral[:]...)
		out = append(out, term.Nonce[:]...)
	}
	return out, nil
}

// UnmarshalBinary decodes the canonical encoding.
func (c *MaskedCiphertext) UnmarshalBinary(data []byte) error {
	if len(data) < 36 {
		return fmt.Errorf("ciphertext encoding too short: %d bytes", len(data))
	}
	count := binary.BigEndian.Uint32(data[32:36])
	if count > MaxMaskTerms {
		return fmt.Errorf("ciphertext carries %d terms, limit is %d", count, MaxMaskTerms)
	}
	if len(data) != 36+int(count)*maskTermSize {
		return fmt.Errorf("ciphertext encoding is %d bytes, %d terms require %d",
			len(data), count, 36+int(count)*maskTermSize)
	}

	c.Masked = new(uint256.Int).SetBytes32(data[:32])
	c.Terms = make([]MaskTerm, count)
	body := data[36:]
	for i := range c.Terms {
		copy(c.Terms[i].Ephemeral[:], body[:32])
		copy(c.Terms[i].Nonce[:], body[32:maskTermSize])
		body = body[maskTermSize:]
	}
	return nil
}

// Handle is the keccak256 digest of the canonical encoding.
func (c *MaskedCiphertext) Handle() (common.Hash, error) {
	encoded, err := c.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(encoded), nil
}
