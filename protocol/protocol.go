package protocol

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Operation names a public protocol entry point.
type Operation string

const (
	OpTransferAdministrator  Operation = "transfer_administrator"
	OpAddProvider            Operation = "add_provider"
	OpRemoveProvider         Operation = "remove_provider"
	OpSetPaused              Operation = "set_paused"
	OpSetCooldown            Operation = "set_cooldown"
	OpOpenBatch              Operation = "open_batch"
	OpCloseBatch             Operation = "close_batch"
	OpRecordSubmission       Operation = "record_submission"
	OpRequestBatchDecryption Operation = "request_batch_decryption"
	OpDecryptionCallback     Operation = "decryption_callback"
)

// Observer is told the outcome of every public operation, after the lock
// is released. err is nil on success.
type Observer interface {
	ObserveOperation(op Operation, err error)
}

// Deps are the collaborators of a Protocol. Backend, Verifier and Dispatcher
// are required.
type Deps struct {
	Backend    Backend
	Verifier   ProofVerifier
	Dispatcher Dispatcher

	Clock     Clock
	Sinks     []EventSink
	Observers []Observer
	Persister Persister
	Log       *slog.Logger
}

// Protocol is one instance of the batch aggregation state machine. Every
// public method runs under a single lock and runs its checks before any
// write, so a failed operation leaves no trace in the state. With a Persister
// the snapshot is written before events are emitted, and an operation whose
// snapshot fails is rolled back.
type Protocol struct {
	mu sync.Mutex

	state   *State
	gate    *AccessGate
	batches *BatchManager
	ledger  *Ledger
	bridge  *OracleBridge

	clock     Clock
	sinks     []EventSink
	observers []Observer
	persister Persister
	log       *slog.Logger
}

// New creates a protocol instance with empty state.
func New(cfg *Config, deps Deps) (*Protocol, error) {
	state, err := NewState(cfg)
	if err != nil {
		return nil, err
	}
	return newProtocol(state, deps)
}

// NewFromSnapshot recreates a protocol instance from persisted state.
func NewFromSnapshot(snap *Snapshot, resolver Resolver, deps Deps) (*Protocol, error) {
	state, err := RestoreState(snap, resolver)
	if err != nil {
		return nil, err
	}
	return newProtocol(state, deps)
}

func newProtocol(state *State, deps Deps) (*Protocol, error) {
	if deps.Backend == nil || deps.Verifier == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("%w: backend, verifier and dispatcher are required", ErrInvalidConfiguration)
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	gate := NewAccessGate(state)
	batches := NewBatchManager(state, gate)
	ledger := NewLedger(state, gate, batches, deps.Backend)
	bridge := NewOracleBridge(state, gate, batches, ledger, deps.Verifier, deps.Dispatcher)

	return &Protocol{
		state:     state,
		gate:      gate,
		batches:   batches,
		ledger:    ledger,
		bridge:    bridge,
		clock:     deps.Clock,
		sinks:     deps.Sinks,
		observers: deps.Observers,
		persister: deps.Persister,
		log:       deps.Log.With("protocol", state.Identity.Hex()),
	}, nil
}

// Identity returns the address this instance folds into commitments.
func (p *Protocol) Identity() common.Address {
	return p.state.Identity
}

// TransferAdministrator hands the administrator role to newAdmin.
func (p *Protocol) TransferAdministrator(caller, newAdmin common.Address) error {
	return p.run(OpTransferAdministrator, func(time.Time) (*Event, error) {
		return p.gate.TransferAdministrator(caller, newAdmin)
	})
}

// AddProvider grants the provider role.
func (p *Protocol) AddProvider(caller, provider common.Address) error {
	return p.run(OpAddProvider, func(time.Time) (*Event, error) {
		return p.gate.AddProvider(caller, provider)
	})
}

// RemoveProvider revokes the provider role.
func (p *Protocol) RemoveProvider(caller, provider common.Address) error {
	return p.run(OpRemoveProvider, func(time.Time) (*Event, error) {
		return p.gate.RemoveProvider(caller, provider)
	})
}

// SetPaused flips the pause switch.
func (p *Protocol) SetPaused(caller common.Address, paused bool) error {
	return p.run(OpSetPaused, func(time.Time) (*Event, error) {
		return p.gate.SetPaused(caller, paused)
	})
}

// SetCooldown changes the rate-limit window.
func (p *Protocol) SetCooldown(caller common.Address, seconds uint64) error {
	return p.run(OpSetCooldown, func(time.Time) (*Event, error) {
		return p.gate.SetCooldown(caller, seconds)
	})
}

// OpenBatch opens a new batch and returns its id.
func (p *Protocol) OpenBatch(caller common.Address) (uint64, error) {
	var id uint64
	err := p.run(OpOpenBatch, func(now time.Time) (*Event, error) {
		ev, err := p.batches.OpenBatch(caller, now)
		if err == nil {
			id = ev.BatchID
		}
		return ev, err
	})
	return id, err
}

// CloseBatch closes a batch and returns its final submission count.
func (p *Protocol) CloseBatch(caller common.Address, batchID uint64) (uint64, error) {
	var count uint64
	err := p.run(OpCloseBatch, func(now time.Time) (*Event, error) {
		ev, err := p.batches.CloseBatch(caller, batchID, now)
		if err == nil {
			count = ev.SubmissionCount
		}
		return ev, err
	})
	return count, err
}

// RecordSubmission adds a provider's encrypted values to the current batch and
// returns the id of the batch that accepted them.
func (p *Protocol) RecordSubmission(provider common.Address, condition, status Encrypted) (uint64, error) {
	var id uint64
	err := p.run(OpRecordSubmission, func(now time.Time) (*Event, error) {
		ev, err := p.ledger.RecordSubmission(provider, condition, status, now)
		if err == nil {
			id = ev.BatchID
		}
		return ev, err
	})
	return id, err
}

// RequestBatchDecryption asks the oracle to decrypt a closed batch and
// returns the request id.
func (p *Protocol) RequestBatchDecryption(caller common.Address, batchID uint64) (uint64, error) {
	var id uint64
	err := p.run(OpRequestBatchDecryption, func(now time.Time) (*Event, error) {
		ev, err := p.bridge.RequestBatchDecryption(caller, batchID, now)
		if err == nil {
			id = ev.RequestID
		}
		return ev, err
	})
	return id, err
}

// OnDecryptionCallback accepts the oracle's result for a request.
func (p *Protocol) OnDecryptionCallback(requestID uint64, cleartexts, proof []byte) (*DecryptionResult, error) {
	var result *DecryptionResult
	err := p.run(OpDecryptionCallback, func(now time.Time) (*Event, error) {
		res, ev, err := p.bridge.OnDecryptionCallback(requestID, cleartexts, proof, now)
		result = res
		return ev, err
	})
	if IsSecurityCritical(err) {
		p.log.Warn("rejected decryption callback", "requestID", requestID, "err", err)
	}
	return result, err
}

func (p *Protocol) run(op Operation, step func(now time.Time) (*Event, error)) error {
	err := p.locked(op, step)
	for _, o := range p.observers {
		o.ObserveOperation(op, err)
	}
	return err
}

func (p *Protocol) locked(op Operation, step func(now time.Time) (*Event, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var saved *State
	if p.persister != nil {
		saved = p.state.clone()
	}

	now := p.clock.Now()
	ev, err := step(now)
	if err != nil {
		p.settle(op, false)
		return err
	}

	if p.persister != nil {
		if err := p.persist(); err != nil {
			p.rollback(saved)
			p.settle(op, false)
			p.log.Error("failed to persist protocol state", "op", op, "err", err)
			return fmt.Errorf("persisting state after %s: %w", op, err)
		}
	}
	p.settle(op, true)

	ev.Protocol = p.state.Identity
	ev.Time = now
	for _, sink := range p.sinks {
		sink.Emit(ev)
	}
	return nil
}

// rollback discards an operation whose snapshot could not be written. Request
// ids already handed to the dispatcher stay burned.
func (p *Protocol) rollback(saved *State) {
	lastRequestID := p.state.LastRequestID
	*p.state = *saved
	p.state.LastRequestID = max(p.state.LastRequestID, lastRequestID)
}

func (p *Protocol) settle(op Operation, committed bool) {
	if err := p.ledger.settle(committed); err != nil {
		p.log.Warn("failed to release accumulators", "op", op, "err", err)
	}
}

func (p *Protocol) persist() error {
	snap, err := TakeSnapshot(p.state)
	if err != nil {
		return err
	}
	return p.persister.Persist(snap)
}

// Administrator returns the current administrator.
func (p *Protocol) Administrator() common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Administrator
}

// IsProvider reports whether addr holds the provider role.
func (p *Protocol) IsProvider(addr common.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Providers[addr]
}

// Paused reports the pause switch.
func (p *Protocol) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Paused
}

// Cooldown returns the rate-limit window in seconds.
func (p *Protocol) Cooldown() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.CooldownSeconds
}

// CooldownRemaining returns how long actor must wait before the next action
// of the given class.
func (p *Protocol) CooldownRemaining(actor common.Address, class ActionClass) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gate.CooldownRemaining(actor, class, p.clock.Now())
}

// CurrentBatchID returns the id of the most recently opened batch, or 0.
func (p *Protocol) CurrentBatchID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.CurrentBatchID
}

// Batch returns a copy of a batch.
func (p *Protocol) Batch(batchID uint64) (*Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, err := p.batches.Lookup(batchID)
	if err != nil {
		return nil, err
	}
	cp := *b
	cp.SubmittedProviders = make(map[common.Address]bool, len(b.SubmittedProviders))
	for k, v := range b.SubmittedProviders {
		cp.SubmittedProviders[k] = v
	}
	return &cp, nil
}

// DecryptionContext returns a copy of a request's context.
func (p *Protocol) DecryptionContext(requestID uint64) (*DecryptionContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dc, err := p.bridge.Context(requestID)
	if err != nil {
		return nil, err
	}
	cp := *dc
	return &cp, nil
}

// AggregateOf returns the handles of a batch's encrypted accumulators.
func (p *Protocol) AggregateOf(batchID uint64) (condition, status common.Hash, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.batches.Lookup(batchID); err != nil {
		return common.Hash{}, common.Hash{}, err
	}
	agg, err := p.ledger.AggregateOf(batchID)
	if err != nil {
		return common.Hash{}, common.Hash{}, err
	}
	handles, err := agg.Handles()
	if err != nil {
		return common.Hash{}, common.Hash{}, err
	}
	return handles[0], handles[1], nil
}

// Snapshot captures the current state.
func (p *Protocol) Snapshot() (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return TakeSnapshot(p.state)
}

// Restore replaces the state with a snapshot of the same instance.
func (p *Protocol) Restore(snap *Snapshot, resolver Resolver) error {
	restored, err := RestoreState(snap, resolver)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if restored.Identity != p.state.Identity {
		return fmt.Errorf("%w: snapshot belongs to %s", ErrInvalidConfiguration, restored.Identity.Hex())
	}
	*p.state = *restored
	return nil
}
