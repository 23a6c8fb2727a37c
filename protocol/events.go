package protocol

import (
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind names an observable state change.
type EventKind string

const (
	EventAdministratorTransferred EventKind = "administrator_transferred"
	EventProviderAdded            EventKind = "provider_added"
	EventProviderRemoved          EventKind = "provider_removed"
	EventPauseChanged             EventKind = "pause_changed"
	EventCooldownChanged          EventKind = "cooldown_changed"
	EventBatchOpened              EventKind = "batch_opened"
	EventBatchClosed              EventKind = "batch_closed"
	EventSubmissionRecorded       EventKind = "submission_recorded"
	EventDecryptionRequested      EventKind = "decryption_requested"
	EventDecryptionCompleted      EventKind = "decryption_completed"
)

// Event is emitted once per successful operation. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind     EventKind      `json:"kind"`
	Protocol common.Address `json:"protocol"`
	Actor    common.Address `json:"actor"`
	Time     time.Time      `json:"time"`

	Subject         *common.Address `json:"subject,omitempty"`
	Paused          *bool           `json:"paused,omitempty"`
	CooldownSeconds uint64          `json:"cooldown_seconds,omitempty"`
	BatchID         uint64          `json:"batch_id,omitempty"`
	SubmissionCount uint64          `json:"submission_count,omitempty"`
	RequestID       uint64          `json:"request_id,omitempty"`
	Commitment      *common.Hash    `json:"commitment,omitempty"`
	Handles         []common.Hash   `json:"handles,omitempty"`
	ConditionTotal  *uint256.Int    `json:"condition_total,omitempty"`
	StatusTotal     *uint256.Int    `json:"status_total,omitempty"`
}

// LogSink writes every event to a structured logger.
type LogSink struct {
	Log *slog.Logger
}

// Emit logs the event at info level.
func (s *LogSink) Emit(ev *Event) {
	attrs := []any{
		"kind", ev.Kind,
		"protocol", ev.Protocol.Hex(),
		"actor", ev.Actor.Hex(),
	}
	if ev.Subject != nil {
		attrs = append(attrs, "subject", ev.Subject.Hex())
	}
	if ev.Paused != nil {
		attrs = append(attrs, "paused", *ev.Paused)
	}
	if ev.CooldownSeconds != 0 {
		attrs = append(attrs, "cooldownSeconds", ev.CooldownSeconds)
	}
	if ev.BatchID != 0 {
		attrs = append(attrs, "batchID", ev.BatchID)
	}
	if ev.Kind == EventBatchClosed || ev.Kind == EventSubmissionRecorded || ev.Kind == EventDecryptionCompleted {
		attrs = append(attrs, "submissionCount", ev.SubmissionCount)
	}
	if ev.RequestID != 0 {
		attrs = append(attrs, "requestID", ev.RequestID)
	}
	if ev.Commitment != nil {
		attrs = append(attrs, "commitment", ev.Commitment.Hex())
	}
	if ev.ConditionTotal != nil && ev.StatusTotal != nil {
		attrs = append(attrs, "conditionTotal", ev.ConditionTotal.Dec(), "statusTotal", ev.StatusTotal.Dec())
	}
	s.Log.Info("protocol event", attrs...)
}

// RecordingSink keeps events in memory.
type RecordingSink struct {
	Events []*Event
}

// Emit appends the event.
func (s *RecordingSink) Emit(ev *Event) {
	s.Events = append(s.Events, ev)
}

// Last returns the most recent event, or nil.
func (s *RecordingSink) Last() *Event {
	if len(s.Events) == 0 {
		return nil
	}
	return s.Events[len(s.Events)-1]
}

func addressPtr(a common.Address) *common.Address {
	return &a
}

func hashPtr(h common.Hash) *common.Hash {
	return &h
}
