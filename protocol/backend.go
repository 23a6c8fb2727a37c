package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/sealbatch/crypto"
)

// ErrNotSingleContribution rejects imported ciphertexts that are not a single
// encryption, such as a sum of several.
var ErrNotSingleContribution = errors.New("ciphertext is not a single contribution")

// MaskedBackend accumulates crypto.MaskedCiphertext values and stores every
// sum it produces so the oracle can resolve their handles.
type MaskedBackend struct {
	Store crypto.CiphertextStore
}

// NewMaskedBackend creates a backend over the given store.
func NewMaskedBackend(store crypto.CiphertextStore) *MaskedBackend {
	return &MaskedBackend{Store: store}
}

// Zero returns an encrypted zero. It is never stored: the state only refers
// to sums.
func (b *MaskedBackend) Zero() (Encrypted, error) {
	return crypto.ZeroCiphertext(), nil
}

// Add returns a ciphertext of the sum of a and b.
func (b *MaskedBackend) Add(x, y Encrypted) (Encrypted, error) {
	cx, err := asMasked(x)
	if err != nil {
		return nil, err
	}
	cy, err := asMasked(y)
	if err != nil {
		return nil, err
	}

	sum, err := crypto.AddCiphertexts(cx, cy)
	if err != nil {
		return nil, err
	}
	if _, err := b.Store.Put(sum); err != nil {
		return nil, fmt.Errorf("storing sum ciphertext: %w", err)
	}
	return sum, nil
}

// Resolve looks up a stored ciphertext.
func (b *MaskedBackend) Resolve(handle common.Hash) (Encrypted, error) {
	ct, err := b.Store.Get(handle)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", handle.Hex(), err)
	}
	return ct, nil
}

// Import decodes and validates a client-supplied ciphertext. A submission
// carries exactly one mask term. Nothing is stored until the value is
// accumulated.
func (b *MaskedBackend) Import(raw json.RawMessage) (Encrypted, error) {
	var ct crypto.MaskedCiphertext
	if err := json.Unmarshal(raw, &ct); err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	if err := ct.Validate(); err != nil {
		return nil, err
	}
	if len(ct.Terms) != 1 {
		return nil, fmt.Errorf("%w: got %d mask terms", ErrNotSingleContribution, len(ct.Terms))
	}
	return &ct, nil
}

// Release drops the stored reference to a sum the state no longer holds.
func (b *MaskedBackend) Release(value Encrypted) error {
	ct, err := asMasked(value)
	if err != nil {
		return err
	}
	handle, err := ct.Handle()
	if err != nil {
		return err
	}
	return b.Store.Release(handle)
}

func asMasked(e Encrypted) (*crypto.MaskedCiphertext, error) {
	ct, ok := e.(*crypto.MaskedCiphertext)
	if !ok || ct == nil {
		return nil, fmt.Errorf("unsupported ciphertext type %T", e)
	}
	return ct, nil
}
