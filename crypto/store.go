package crypto

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrCiphertextNotFound is returned for handles no store has seen.
var ErrCiphertextNotFound = errors.New("ciphertext not found")

// CiphertextStore maps handles to the ciphertexts they identify. Equal
// ciphertexts share a handle, so the store counts references: every Put takes
// one and Release drops one, removing the ciphertext with the last.
type CiphertextStore interface {
	Put(ct *MaskedCiphertext) (common.Hash, error)
	Get(handle common.Hash) (*MaskedCiphertext, error)
	Release(handle common.Hash) error
}

// MemoryCiphertextStore keeps ciphertexts in a map.
type MemoryCiphertextStore struct {
	mu   sync.RWMutex
	cts  map[common.Hash]*MaskedCiphertext
	refs map[common.Hash]int
}

// NewMemoryCiphertextStore creates an empty store.
func NewMemoryCiphertextStore() *MemoryCiphertextStore {
	return &MemoryCiphertextStore{
		cts:  make(map[common.Hash]*MaskedCiphertext),
		refs: make(map[common.Hash]int),
	}
}

// Put stores ct under its handle.
func (s *MemoryCiphertextStore) Put(ct *MaskedCiphertext) (common.Hash, error) {
	handle, err := ct.Handle()
	if err != nil {
		return common.Hash{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cts[handle] = ct
	s.refs[handle]++
	return handle, nil
}

// Release drops one reference to handle.
func (s *MemoryCiphertextStore) Release(handle common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cts[handle]; !ok {
		return ErrCiphertextNotFound
	}
	s.refs[handle]--
	if s.refs[handle] <= 0 {
		delete(s.cts, handle)
		delete(s.refs, handle)
	}
	return nil
}

// Get resolves a handle.
func (s *MemoryCiphertextStore) Get(handle common.Hash) (*MaskedCiphertext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ct, ok := s.cts[handle]
	if !ok {
		return nil, ErrCiphertextNotFound
	}
	return ct, nil
}

// Len returns the number of stored ciphertexts.
func (s *MemoryCiphertextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cts)
}
