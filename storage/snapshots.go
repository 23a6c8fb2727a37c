package storage

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/sealbatch/protocol"
)

var snapshotPrefix = []byte("snapshot/")

// SnapshotStore keeps the latest snapshot of each protocol instance.
type SnapshotStore struct {
	db       *Storage
	identity common.Address
}

// NewSnapshotStore creates a snapshot store for one protocol instance.
func NewSnapshotStore(db *Storage, identity common.Address) *SnapshotStore {
	return &SnapshotStore{db: db, identity: identity}
}

// Persist replaces the stored snapshot. It returns once the snapshot, and
// the ciphertexts written before it, are on disk.
func (s *SnapshotStore) Persist(snap *protocol.Snapshot) error {
	if snap.Identity != s.identity {
		return fmt.Errorf("snapshot of %s written to store of %s", snap.Identity.Hex(), s.identity.Hex())
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	value, err := compress(raw)
	if err != nil {
		return err
	}
	return s.db.SetSync(s.key(), value)
}

// Load returns the stored snapshot, or nil if none was written yet.
func (s *SnapshotStore) Load() (*protocol.Snapshot, error) {
	value, err := s.db.Get(s.key())
	if err != nil || value == nil {
		return nil, err
	}

	raw, err := decompress(value)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}
	return protocol.UnmarshalMessage[protocol.Snapshot](raw)
}

func (s *SnapshotStore) key() []byte {
	return append(append([]byte{}, snapshotPrefix...), s.identity[:]...)
}
