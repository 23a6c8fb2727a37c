package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger accumulates encrypted submissions per batch.
type Ledger struct {
	state   *State
	gate    *AccessGate
	batches *BatchManager
	backend Backend

	// Accumulator values written and replaced by the running operation.
	added    []Encrypted
	replaced []Encrypted
}

// NewLedger creates a ledger over the given state.
func NewLedger(state *State, gate *AccessGate, batches *BatchManager, backend Backend) *Ledger {
	return &Ledger{state: state, gate: gate, batches: batches, backend: backend}
}

// RecordSubmission adds a provider's encrypted values to the current batch.
// Every check and every backend call happens before the first write.
func (l *Ledger) RecordSubmission(provider common.Address, condition, status Encrypted, now time.Time) (*Event, error) {
	if err := l.gate.RequireProvider(provider); err != nil {
		return nil, err
	}
	if err := l.gate.RequireNotPaused(); err != nil {
		return nil, err
	}
	if err := l.gate.checkCooldown(provider, ActionSubmission, now); err != nil {
		return nil, err
	}

	batch, err := l.batches.Current()
	if err != nil {
		return nil, err
	}
	if batch.SubmittedProviders[provider] {
		return nil, fmt.Errorf("%w: %s already submitted to batch %d", ErrDuplicateSubmission, provider.Hex(), batch.ID)
	}

	if condition == nil || status == nil {
		return nil, errors.New("submission requires both encrypted values")
	}

	base, existing := l.state.Aggregates[batch.ID]
	if !existing {
		if base, err = l.zeroAggregate(); err != nil {
			return nil, err
		}
	}
	next := &EncryptedAggregate{}
	if next.Condition, err = l.backend.Add(base.Condition, condition); err != nil {
		return nil, fmt.Errorf("accumulating condition: %w", err)
	}
	if next.Status, err = l.backend.Add(base.Status, status); err != nil {
		l.added = append(l.added, next.Condition)
		return nil, fmt.Errorf("accumulating status: %w", err)
	}

	l.gate.consumeCooldown(provider, ActionSubmission, now)
	l.added = append(l.added, next.Condition, next.Status)
	if existing {
		l.replaced = append(l.replaced, base.Condition, base.Status)
	}
	l.state.Aggregates[batch.ID] = next
	batch.SubmissionCount++
	batch.SubmittedProviders[provider] = true

	return &Event{
		Kind:            EventSubmissionRecorded,
		Actor:           provider,
		BatchID:         batch.ID,
		SubmissionCount: batch.SubmissionCount,
	}, nil
}

// AggregateOf returns the encrypted accumulators of a batch. It fails with
// ErrUninitialized if no submission has touched the batch.
func (l *Ledger) AggregateOf(batchID uint64) (*EncryptedAggregate, error) {
	agg, ok := l.state.Aggregates[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: batch %d has no submissions", ErrUninitialized, batchID)
	}
	return agg, nil
}

func (l *Ledger) zeroAggregate() (*EncryptedAggregate, error) {
	condition, err := l.backend.Zero()
	if err != nil {
		return nil, fmt.Errorf("initializing condition accumulator: %w", err)
	}
	status, err := l.backend.Zero()
	if err != nil {
		return nil, fmt.Errorf("initializing status accumulator: %w", err)
	}
	return &EncryptedAggregate{Condition: condition, Status: status}, nil
}

// settle releases the accumulators the last operation replaced, or, if it
// was rolled back, the ones it wrote.
func (l *Ledger) settle(committed bool) error {
	values := l.replaced
	if !committed {
		values = l.added
	}
	l.added, l.replaced = nil, nil

	releaser, ok := l.backend.(Releaser)
	if !ok {
		return nil
	}
	var errs []error
	for _, v := range values {
		if err := releaser.Release(v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
