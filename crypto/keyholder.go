package crypto

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Keyholder owns the oracle's exchange key and removes pads.
type Keyholder struct {
	priv KemPrivateKey
	pub  KemPublicKey
}

// NewKeyholder wraps an existing exchange key.
func NewKeyholder(priv KemPrivateKey) *Keyholder {
	return &Keyholder{priv: priv, pub: priv.PublicKey()}
}

// GenerateKeyholder creates a keyholder with a fresh exchange key.
func GenerateKeyholder() (*Keyholder, error) {
	_, priv, err := GenerateKemKeyPair()
	if err != nil {
		return nil, err
	}
	return NewKeyholder(priv), nil
}

// PublicKey is the key clients encrypt to.
func (k *Keyholder) PublicKey() KemPublicKey {
	return k.pub
}

// Decrypt subtracts every pad from the masked value.
func (k *Keyholder) Decrypt(ct *MaskedCiphertext) (*uint256.Int, error) {
	if err := ct.Validate(); err != nil {
		return nil, err
	}

	value := new(uint256.Int).Set(ct.Masked)
	for i, term := range ct.Terms {
		pad, err := derivePad(k.priv, term.Ephemeral, term.Nonce)
		if err != nil {
			return nil, fmt.Errorf("term %d: %w", i, err)
		}
		value.Sub(value, pad)
	}
	return value, nil
}
