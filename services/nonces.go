package services

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/sealbatch/protocol"
)

// MemoryNonceTracker keeps the last nonce of every signer in memory.
type MemoryNonceTracker struct {
	mu   sync.Mutex
	last map[common.Address]uint64
}

// NewMemoryNonceTracker creates an empty tracker.
func NewMemoryNonceTracker() *MemoryNonceTracker {
	return &MemoryNonceTracker{last: make(map[common.Address]uint64)}
}

// Advance records nonce for signer if it exceeds the previous one. The
// first nonce of a signer is always accepted.
func (t *MemoryNonceTracker) Advance(signer common.Address, nonce uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.last[signer]; ok && nonce <= last {
		return fmt.Errorf("%w: %d for %s", protocol.ErrStaleNonce, nonce, signer.Hex())
	}
	t.last[signer] = nonce
	return nil
}
