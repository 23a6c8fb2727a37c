package protocol

import (
	"fmt"
	"maps"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ActionClass selects an independent cooldown clock.
type ActionClass uint8

const (
	ActionSubmission ActionClass = iota
	ActionDecryptionRequest
)

func (a ActionClass) String() string {
	switch a {
	case ActionSubmission:
		return "submission"
	case ActionDecryptionRequest:
		return "decryption_request"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// BatchStatus is the lifecycle stage of a batch. Open -> Closed is one-way.
type BatchStatus uint8

const (
	BatchOpen BatchStatus = iota
	BatchClosed
)

func (s BatchStatus) String() string {
	if s == BatchClosed {
		return "closed"
	}
	return "open"
}

// MarshalText encodes the status as "open" or "closed".
func (s BatchStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes "open" or "closed".
func (s *BatchStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "open":
		*s = BatchOpen
	case "closed":
		*s = BatchClosed
	default:
		return fmt.Errorf("unknown batch status %q", text)
	}
	return nil
}

// Batch is a window of submissions.
type Batch struct {
	ID                 uint64
	Status             BatchStatus
	SubmissionCount    uint64
	SubmittedProviders map[common.Address]bool
	OpenedAt           time.Time
	ClosedAt           time.Time
}

// Providers returns the providers that contributed, in no particular order.
func (b *Batch) Providers() []common.Address {
	res := make([]common.Address, 0, len(b.SubmittedProviders))
	for p := range b.SubmittedProviders {
		res = append(res, p)
	}
	return res
}

// EncryptedAggregate holds the running encrypted sums of a batch.
type EncryptedAggregate struct {
	Condition Encrypted
	Status    Encrypted
}

// Handles converts both accumulators to their external representation,
// condition first.
func (a *EncryptedAggregate) Handles() ([]common.Hash, error) {
	condition, err := a.Condition.Handle()
	if err != nil {
		return nil, fmt.Errorf("condition handle: %w", err)
	}
	status, err := a.Status.Handle()
	if err != nil {
		return nil, fmt.Errorf("status handle: %w", err)
	}
	return []common.Hash{condition, status}, nil
}

// DecryptionContext binds a decryption request to the state it covers.
// Processed flips to true exactly once.
type DecryptionContext struct {
	RequestID       uint64
	BatchID         uint64
	StateCommitment common.Hash
	Processed       bool
	RequestedAt     time.Time

	// Populated on fulfillment.
	FulfilledAt    time.Time
	ConditionTotal *uint256.Int
	StatusTotal    *uint256.Int
}

// State is the complete persistent state of one protocol instance. It is
// owned by a Protocol and handed by pointer to each component.
type State struct {
	Identity         common.Address
	CallbackSelector string

	Administrator   common.Address
	Providers       map[common.Address]bool
	Paused          bool
	CooldownSeconds uint64
	LastAction      map[ActionClass]map[common.Address]uint64

	CurrentBatchID uint64
	Batches        map[uint64]*Batch
	Aggregates     map[uint64]*EncryptedAggregate

	LastRequestID uint64
	Contexts      map[uint64]*DecryptionContext
}

// NewState initializes an empty state from a validated configuration.
func NewState(cfg *Config) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &State{
		Identity:         cfg.Identity,
		CallbackSelector: cfg.callbackSelector(),
		Administrator:    cfg.Administrator,
		Providers:        make(map[common.Address]bool),
		CooldownSeconds:  cfg.CooldownSeconds,
		LastAction: map[ActionClass]map[common.Address]uint64{
			ActionSubmission:        make(map[common.Address]uint64),
			ActionDecryptionRequest: make(map[common.Address]uint64),
		},
		Batches:    make(map[uint64]*Batch),
		Aggregates: make(map[uint64]*EncryptedAggregate),
		Contexts:   make(map[uint64]*DecryptionContext),
	}, nil
}

// clone copies every map and record. Encrypted values are shared: backends
// never modify them in place.
func (s *State) clone() *State {
	cp := *s
	cp.Providers = maps.Clone(s.Providers)

	cp.LastAction = make(map[ActionClass]map[common.Address]uint64, len(s.LastAction))
	for class, clocks := range s.LastAction {
		cp.LastAction[class] = maps.Clone(clocks)
	}

	cp.Batches = make(map[uint64]*Batch, len(s.Batches))
	for id, b := range s.Batches {
		bc := *b
		bc.SubmittedProviders = maps.Clone(b.SubmittedProviders)
		cp.Batches[id] = &bc
	}

	cp.Aggregates = make(map[uint64]*EncryptedAggregate, len(s.Aggregates))
	for id, agg := range s.Aggregates {
		ac := *agg
		cp.Aggregates[id] = &ac
	}

	cp.Contexts = make(map[uint64]*DecryptionContext, len(s.Contexts))
	for id, dc := range s.Contexts {
		dcc := *dc
		cp.Contexts[id] = &dcc
	}
	return &cp
}
