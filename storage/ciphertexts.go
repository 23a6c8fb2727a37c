package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/sealbatch/crypto"
)

var (
	ciphertextPrefix = []byte("ct/")
	refcountPrefix   = []byte("ctref/")
)

// CiphertextStore persists ciphertexts under their handles, with a reference
// count per handle.
type CiphertextStore struct {
	mu sync.Mutex
	db *Storage
}

// NewCiphertextStore creates a ciphertext store over db.
func NewCiphertextStore(db *Storage) *CiphertextStore {
	return &CiphertextStore{db: db}
}

// Put stores ct in its canonical encoding and returns its handle.
func (s *CiphertextStore) Put(ct *crypto.MaskedCiphertext) (common.Hash, error) {
	encoded, err := ct.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	handle, err := ct.Handle()
	if err != nil {
		return common.Hash{}, err
	}

	value, err := compress(encoded)
	if err != nil {
		return common.Hash{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	refs, err := s.refs(handle)
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.db.Set(ciphertextKey(handle), value); err != nil {
		return common.Hash{}, fmt.Errorf("storing ciphertext %s: %w", handle.Hex(), err)
	}
	if err := s.setRefs(handle, refs+1); err != nil {
		return common.Hash{}, err
	}
	return handle, nil
}

// Release drops one reference to handle and deletes the ciphertext with the
// last one.
func (s *CiphertextStore) Release(handle common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := s.db.Get(ciphertextKey(handle))
	if err != nil {
		return err
	}
	if value == nil {
		return crypto.ErrCiphertextNotFound
	}
	refs, err := s.refs(handle)
	if err != nil {
		return err
	}
	if refs > 1 {
		return s.setRefs(handle, refs-1)
	}

	if err := s.db.Delete(ciphertextKey(handle)); err != nil {
		return fmt.Errorf("deleting ciphertext %s: %w", handle.Hex(), err)
	}
	return s.db.Delete(refcountKey(handle))
}

func (s *CiphertextStore) refs(handle common.Hash) (uint64, error) {
	raw, err := s.db.Get(refcountKey(handle))
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *CiphertextStore) setRefs(handle common.Hash, n uint64) error {
	if err := s.db.Set(refcountKey(handle), binary.BigEndian.AppendUint64(nil, n)); err != nil {
		return fmt.Errorf("counting references to %s: %w", handle.Hex(), err)
	}
	return nil
}

// Get loads the ciphertext for handle.
func (s *CiphertextStore) Get(handle common.Hash) (*crypto.MaskedCiphertext, error) {
	value, err := s.db.Get(ciphertextKey(handle))
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, crypto.ErrCiphertextNotFound
	}

	encoded, err := decompress(value)
	if err != nil {
		return nil, fmt.Errorf("decompressing ciphertext %s: %w", handle.Hex(), err)
	}
	var ct crypto.MaskedCiphertext
	if err := ct.UnmarshalBinary(encoded); err != nil {
		return nil, fmt.Errorf("decoding ciphertext %s: %w", handle.Hex(), err)
	}
	return &ct, nil
}

// Count returns the number of stored ciphertexts.
func (s *CiphertextStore) Count() (int, error) {
	n := 0
	err := s.db.IteratePrefix(ciphertextPrefix, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

func ciphertextKey(handle common.Hash) []byte {
	return append(append([]byte{}, ciphertextPrefix...), handle[:]...)
}

func refcountKey(handle common.Hash) []byte {
	return append(append([]byte{}, refcountPrefix...), handle[:]...)
}
