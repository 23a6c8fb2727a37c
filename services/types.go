package services

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/sealbatch/crypto"
	"github.com/flashbots/sealbatch/protocol"
	"github.com/holiman/uint256"
)

// CiphertextImporter decodes a submitted ciphertext into a value the
// protocol backend accepts. protocol.MaskedBackend implements it.
type CiphertextImporter interface {
	Import(raw json.RawMessage) (protocol.Encrypted, error)
}

// NonceTracker enforces strictly increasing nonces per signer.
// storage.NonceStore and MemoryNonceTracker implement it.
type NonceTracker interface {
	Advance(signer common.Address, nonce uint64) error
}

// StateResponse is the public view of a protocol instance.
type StateResponse struct {
	Identity         common.Address      `json:"identity"`
	Administrator    common.Address      `json:"administrator"`
	Providers        []common.Address    `json:"providers"`
	Paused           bool                `json:"paused"`
	CooldownSeconds  uint64              `json:"cooldown_seconds"`
	CurrentBatchID   uint64              `json:"current_batch_id"`
	LastRequestID    uint64              `json:"last_request_id"`
	CallbackSelector string              `json:"callback_selector"`
	OracleKey        crypto.KemPublicKey `json:"oracle_key"`
}

// BatchResponse describes one batch.
type BatchResponse struct {
	ID              uint64               `json:"id"`
	Status          protocol.BatchStatus `json:"status"`
	SubmissionCount uint64               `json:"submission_count"`
	Providers       []common.Address     `json:"providers"`
	OpenedAt        time.Time            `json:"opened_at"`
	ClosedAt        *time.Time           `json:"closed_at,omitempty"`
}

// AggregateResponse carries the handles of a batch's encrypted totals.
type AggregateResponse struct {
	BatchID   uint64      `json:"batch_id"`
	Condition common.Hash `json:"condition"`
	Status    common.Hash `json:"status"`
}

// RequestResponse describes a decryption request and, once fulfilled,
// its cleartext totals.
type RequestResponse struct {
	RequestID       uint64       `json:"request_id"`
	BatchID         uint64       `json:"batch_id"`
	StateCommitment common.Hash  `json:"state_commitment"`
	Processed       bool         `json:"processed"`
	RequestedAt     time.Time    `json:"requested_at"`
	FulfilledAt     *time.Time   `json:"fulfilled_at,omitempty"`
	ConditionTotal  *uint256.Int `json:"condition_total,omitempty"`
	StatusTotal     *uint256.Int `json:"status_total,omitempty"`
}

// AdminResponse reports the outcome of an admin command. Only the field
// produced by the command is set.
type AdminResponse struct {
	Command         string `json:"command"`
	BatchID         uint64 `json:"batch_id,omitempty"`
	RequestID       uint64 `json:"request_id,omitempty"`
	SubmissionCount uint64 `json:"submission_count,omitempty"`
}

// SubmissionResponse acknowledges an accepted submission.
type SubmissionResponse struct {
	BatchID uint64 `json:"batch_id"`
}

// OracleKeyResponse carries the key submissions are masked to.
type OracleKeyResponse struct {
	PublicKey crypto.KemPublicKey `json:"public_key"`
}

// AuditVerifyResponse reports a journal integrity check.
type AuditVerifyResponse struct {
	Records int         `json:"records"`
	Head    common.Hash `json:"head"`
	Valid   bool        `json:"valid"`
	Error   string      `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
