package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/sealbatch/protocol"
)

var noncePrefix = []byte("nonce/")

// NonceStore remembers the highest nonce accepted from each signer.
type NonceStore struct {
	mu sync.Mutex
	db *Storage
}

// NewNonceStore creates a nonce store over db.
func NewNonceStore(db *Storage) *NonceStore {
	return &NonceStore{db: db}
}

// Advance records nonce for signer. It fails unless nonce is greater than
// every nonce previously accepted from signer.
func (s *NonceStore) Advance(signer common.Address, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := append(append([]byte{}, noncePrefix...), signer[:]...)
	value, err := s.db.Get(key)
	if err != nil {
		return err
	}
	if value != nil && nonce <= binary.BigEndian.Uint64(value) {
		return fmt.Errorf("%w: %d from %s, last accepted %d", protocol.ErrStaleNonce, nonce, signer.Hex(), binary.BigEndian.Uint64(value))
	}

	return s.db.Set(key, binary.BigEndian.AppendUint64(nil, nonce))
}
