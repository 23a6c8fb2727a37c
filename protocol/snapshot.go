package protocol

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SnapshotVersion is the layout version written by Snapshot.
const SnapshotVersion = 1

// Snapshot is the persisted form of State. Encrypted values are stored by
// handle and resolved through a Resolver on restore.
type Snapshot struct {
	Version          int            `json:"version"`
	Identity         common.Address `json:"identity"`
	CallbackSelector string         `json:"callback_selector"`

	Administrator   common.Address            `json:"administrator"`
	Providers       []common.Address          `json:"providers"`
	Paused          bool                      `json:"paused"`
	CooldownSeconds uint64                    `json:"cooldown_seconds"`
	LastSubmission  map[common.Address]uint64 `json:"last_submission"`
	LastRequest     map[common.Address]uint64 `json:"last_decryption_request"`

	CurrentBatchID uint64              `json:"current_batch_id"`
	Batches        []BatchSnapshot     `json:"batches"`
	Aggregates     []AggregateSnapshot `json:"aggregates"`

	LastRequestID uint64            `json:"last_request_id"`
	Contexts      []ContextSnapshot `json:"contexts"`
}

// BatchSnapshot is the persisted form of a Batch.
type BatchSnapshot struct {
	ID              uint64           `json:"id"`
	Status          BatchStatus      `json:"status"`
	SubmissionCount uint64           `json:"submission_count"`
	Providers       []common.Address `json:"providers"`
	OpenedAt        time.Time        `json:"opened_at"`
	ClosedAt        time.Time        `json:"closed_at,omitzero"`
}

// AggregateSnapshot holds the handles of a batch's accumulators.
type AggregateSnapshot struct {
	BatchID   uint64      `json:"batch_id"`
	Condition common.Hash `json:"condition"`
	Status    common.Hash `json:"status"`
}

// ContextSnapshot is the persisted form of a DecryptionContext.
type ContextSnapshot struct {
	RequestID       uint64       `json:"request_id"`
	BatchID         uint64       `json:"batch_id"`
	StateCommitment common.Hash  `json:"state_commitment"`
	Processed       bool         `json:"processed"`
	RequestedAt     time.Time    `json:"requested_at"`
	FulfilledAt     time.Time    `json:"fulfilled_at,omitzero"`
	ConditionTotal  *uint256.Int `json:"condition_total,omitempty"`
	StatusTotal     *uint256.Int `json:"status_total,omitempty"`
}

// TakeSnapshot captures the state. Entries are ordered by id and addresses
// are sorted so equal states produce equal snapshots.
func TakeSnapshot(s *State) (*Snapshot, error) {
	snap := &Snapshot{
		Version:          SnapshotVersion,
		Identity:         s.Identity,
		CallbackSelector: s.CallbackSelector,
		Administrator:    s.Administrator,
		Providers:        sortedAddresses(s.Providers),
		Paused:           s.Paused,
		CooldownSeconds:  s.CooldownSeconds,
		LastSubmission:   cloneClocks(s.LastAction[ActionSubmission]),
		LastRequest:      cloneClocks(s.LastAction[ActionDecryptionRequest]),
		CurrentBatchID:   s.CurrentBatchID,
		LastRequestID:    s.LastRequestID,
	}

	for _, id := range sortedKeys(s.Batches) {
		b := s.Batches[id]
		snap.Batches = append(snap.Batches, BatchSnapshot{
			ID:              b.ID,
			Status:          b.Status,
			SubmissionCount: b.SubmissionCount,
			Providers:       sortedAddresses(b.SubmittedProviders),
			OpenedAt:        b.OpenedAt,
			ClosedAt:        b.ClosedAt,
		})
	}

	for _, id := range sortedKeys(s.Aggregates) {
		handles, err := s.Aggregates[id].Handles()
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", id, err)
		}
		snap.Aggregates = append(snap.Aggregates, AggregateSnapshot{
			BatchID:   id,
			Condition: handles[0],
			Status:    handles[1],
		})
	}

	for _, id := range sortedKeys(s.Contexts) {
		dc := s.Contexts[id]
		snap.Contexts = append(snap.Contexts, ContextSnapshot{
			RequestID:       dc.RequestID,
			BatchID:         dc.BatchID,
			StateCommitment: dc.StateCommitment,
			Processed:       dc.Processed,
			RequestedAt:     dc.RequestedAt,
			FulfilledAt:     dc.FulfilledAt,
			ConditionTotal:  dc.ConditionTotal,
			StatusTotal:     dc.StatusTotal,
		})
	}

	return snap, nil
}

// RestoreState rebuilds a State from a snapshot, resolving every aggregate
// handle. The snapshot is checked for internal consistency.
func RestoreState(snap *Snapshot, resolver Resolver) (*State, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidConfiguration)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d", ErrInvalidConfiguration, snap.Version)
	}

	s, err := NewState(&Config{
		Identity:         snap.Identity,
		Administrator:    snap.Administrator,
		CooldownSeconds:  snap.CooldownSeconds,
		CallbackSelector: snap.CallbackSelector,
	})
	if err != nil {
		return nil, err
	}

	s.Paused = snap.Paused
	for _, p := range snap.Providers {
		s.Providers[p] = true
	}
	for a, t := range snap.LastSubmission {
		s.LastAction[ActionSubmission][a] = t
	}
	for a, t := range snap.LastRequest {
		s.LastAction[ActionDecryptionRequest][a] = t
	}

	s.CurrentBatchID = snap.CurrentBatchID
	for _, bs := range snap.Batches {
		if bs.ID == 0 || bs.ID > snap.CurrentBatchID {
			return nil, fmt.Errorf("%w: snapshot batch %d out of range", ErrInvalidConfiguration, bs.ID)
		}
		if uint64(len(bs.Providers)) != bs.SubmissionCount {
			return nil, fmt.Errorf("%w: snapshot batch %d counts %d submissions from %d providers",
				ErrInvalidConfiguration, bs.ID, bs.SubmissionCount, len(bs.Providers))
		}
		b := &Batch{
			ID:                 bs.ID,
			Status:             bs.Status,
			SubmissionCount:    bs.SubmissionCount,
			SubmittedProviders: make(map[common.Address]bool, len(bs.Providers)),
			OpenedAt:           bs.OpenedAt,
			ClosedAt:           bs.ClosedAt,
		}
		for _, p := range bs.Providers {
			b.SubmittedProviders[p] = true
		}
		s.Batches[b.ID] = b
	}
	for id := uint64(1); id <= s.CurrentBatchID; id++ {
		if _, ok := s.Batches[id]; !ok {
			return nil, fmt.Errorf("%w: snapshot is missing batch %d", ErrInvalidConfiguration, id)
		}
	}

	for _, as := range snap.Aggregates {
		if _, ok := s.Batches[as.BatchID]; !ok {
			return nil, fmt.Errorf("%w: aggregate for unknown batch %d", ErrInvalidConfiguration, as.BatchID)
		}
		condition, err := resolver.Resolve(as.Condition)
		if err != nil {
			return nil, fmt.Errorf("batch %d condition: %w", as.BatchID, err)
		}
		status, err := resolver.Resolve(as.Status)
		if err != nil {
			return nil, fmt.Errorf("batch %d status: %w", as.BatchID, err)
		}
		s.Aggregates[as.BatchID] = &EncryptedAggregate{Condition: condition, Status: status}
	}

	s.LastRequestID = snap.LastRequestID
	for _, cs := range snap.Contexts {
		if cs.RequestID == 0 || cs.RequestID > snap.LastRequestID {
			return nil, fmt.Errorf("%w: snapshot request %d out of range", ErrInvalidConfiguration, cs.RequestID)
		}
		s.Contexts[cs.RequestID] = &DecryptionContext{
			RequestID:       cs.RequestID,
			BatchID:         cs.BatchID,
			StateCommitment: cs.StateCommitment,
			Processed:       cs.Processed,
			RequestedAt:     cs.RequestedAt,
			FulfilledAt:     cs.FulfilledAt,
			ConditionTotal:  cs.ConditionTotal,
			StatusTotal:     cs.StatusTotal,
		}
	}

	return s, nil
}

func sortedAddresses(set map[common.Address]bool) []common.Address {
	res := make([]common.Address, 0, len(set))
	for a, ok := range set {
		if ok {
			res = append(res, a)
		}
	}
	slices.SortFunc(res, func(a, b common.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return res
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func cloneClocks(m map[common.Address]uint64) map[common.Address]uint64 {
	res := make(map[common.Address]uint64, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}
