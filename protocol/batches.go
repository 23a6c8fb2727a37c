package protocol

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BatchManager allocates batch ids and drives the Open -> Closed transition.
type BatchManager struct {
	state *State
	gate  *AccessGate
}

// NewBatchManager creates a batch manager over the given state.
func NewBatchManager(state *State, gate *AccessGate) *BatchManager {
	return &BatchManager{state: state, gate: gate}
}

// OpenBatch allocates the next batch id and makes it current. Earlier batches
// that are still open stop accepting submissions but keep their status.
func (m *BatchManager) OpenBatch(caller common.Address, now time.Time) (*Event, error) {
	if err := m.gate.RequireAdministrator(caller); err != nil {
		return nil, err
	}
	if err := m.gate.RequireNotPaused(); err != nil {
		return nil, err
	}

	id := m.state.CurrentBatchID + 1
	m.state.Batches[id] = &Batch{
		ID:                 id,
		Status:             BatchOpen,
		SubmittedProviders: make(map[common.Address]bool),
		OpenedAt:           now,
	}
	m.state.CurrentBatchID = id

	return &Event{Kind: EventBatchOpened, Actor: caller, BatchID: id}, nil
}

// CloseBatch freezes a batch. This is the only way to make a batch eligible
// for decryption.
func (m *BatchManager) CloseBatch(caller common.Address, batchID uint64, now time.Time) (*Event, error) {
	if err := m.gate.RequireAdministrator(caller); err != nil {
		return nil, err
	}
	batch, err := m.Lookup(batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != BatchOpen {
		return nil, fmt.Errorf("%w: batch %d already closed", ErrBatchNotOpen, batchID)
	}

	batch.Status = BatchClosed
	batch.ClosedAt = now

	return &Event{Kind: EventBatchClosed, Actor: caller, BatchID: batchID, SubmissionCount: batch.SubmissionCount}, nil
}

// Lookup resolves an allocated batch id.
func (m *BatchManager) Lookup(batchID uint64) (*Batch, error) {
	if batchID == 0 || batchID > m.state.CurrentBatchID {
		return nil, fmt.Errorf("%w: %d (current %d)", ErrInvalidBatch, batchID, m.state.CurrentBatchID)
	}
	batch, ok := m.state.Batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: batch %d missing from state", ErrInvalidBatch, batchID)
	}
	return batch, nil
}

// Current returns the batch that accepts submissions.
func (m *BatchManager) Current() (*Batch, error) {
	if m.state.CurrentBatchID == 0 {
		return nil, fmt.Errorf("%w: no batch has been opened", ErrBatchNotOpen)
	}
	batch, err := m.Lookup(m.state.CurrentBatchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != BatchOpen {
		return nil, fmt.Errorf("%w: batch %d is closed", ErrBatchNotOpen, batch.ID)
	}
	return batch, nil
}
