package services

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/sealbatch/protocol"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// ErrBrokenChain is returned by VerifyChain when a record does not link to
// its predecessor or its hash does not match its content.
var ErrBrokenChain = errors.New("audit chain broken")

// AuditRecord is one journaled protocol event. Records form a hash chain:
// each Hash covers the previous record's Hash and this record's content.
type AuditRecord struct {
	Seq      uint64             `json:"seq"`
	ID       uuid.UUID          `json:"id"`
	Kind     protocol.EventKind `json:"kind"`
	Event    json.RawMessage    `json:"event"`
	PrevHash common.Hash        `json:"prev_hash"`
	Hash     common.Hash        `json:"hash"`
}

// AuditStore persists audit records of one protocol instance.
type AuditStore interface {
	AppendRecord(rec *AuditRecord) error
	LoadRecords(fromSeq uint64, limit int) ([]*AuditRecord, error)
	LastRecord() (*AuditRecord, error)
}

// Journal is a protocol.EventSink that appends every event to an AuditStore.
type Journal struct {
	mu    sync.Mutex
	store AuditStore
	log   *slog.Logger

	nextSeq uint64
	head    common.Hash
}

// NewJournal resumes the chain stored in store.
func NewJournal(store AuditStore, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	j := &Journal{store: store, log: log.With("component", "journal"), nextSeq: 1}

	last, err := store.LastRecord()
	if err != nil {
		return nil, fmt.Errorf("loading last audit record: %w", err)
	}
	if last != nil {
		j.nextSeq = last.Seq + 1
		j.head = last.Hash
	}
	return j, nil
}

// Emit journals ev. Store failures are logged; the event itself has already
// been committed by the protocol.
func (j *Journal) Emit(ev *protocol.Event) {
	if _, err := j.Append(ev); err != nil {
		j.log.Error("failed to journal event", "kind", ev.Kind, "err", err)
	}
}

// Append journals ev and returns the new record.
func (j *Journal) Append(ev *protocol.Event) (*AuditRecord, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	rec := &AuditRecord{
		Seq:      j.nextSeq,
		ID:       uuid.New(),
		Kind:     ev.Kind,
		Event:    raw,
		PrevHash: j.head,
	}
	rec.Hash = recordHash(rec)

	if err := j.store.AppendRecord(rec); err != nil {
		return nil, err
	}
	j.nextSeq++
	j.head = rec.Hash
	return rec, nil
}

// Head returns the hash of the latest record.
func (j *Journal) Head() common.Hash {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.head
}

// Records returns up to limit records starting at fromSeq.
func (j *Journal) Records(fromSeq uint64, limit int) ([]*AuditRecord, error) {
	return j.store.LoadRecords(fromSeq, limit)
}

// VerifyChain checks that records are consecutive and correctly linked.
// The first record's PrevHash is trusted.
func VerifyChain(records []*AuditRecord) error {
	for i, rec := range records {
		if i > 0 {
			prev := records[i-1]
			if rec.Seq != prev.Seq+1 {
				return fmt.Errorf("%w: record %d follows %d", ErrBrokenChain, rec.Seq, prev.Seq)
			}
			if rec.PrevHash != prev.Hash {
				return fmt.Errorf("%w: record %d does not link to %d", ErrBrokenChain, rec.Seq, prev.Seq)
			}
		}
		if recordHash(rec) != rec.Hash {
			return fmt.Errorf("%w: record %d hash mismatch", ErrBrokenChain, rec.Seq)
		}
	}
	return nil
}

func recordHash(rec *AuditRecord) common.Hash {
	h := blake3.New()
	h.Write(rec.PrevHash[:])
	h.Write(binary.BigEndian.AppendUint64(nil, rec.Seq))
	h.Write(rec.ID[:])
	h.Write([]byte(rec.Kind))
	h.Write(rec.Event)

	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}
