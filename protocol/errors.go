package protocol

import "errors"

// Protocol failures. Every public operation fails with exactly one of these,
// possibly wrapped with additional context.
var (
	ErrUnauthorized            = errors.New("unauthorized")
	ErrSystemPaused            = errors.New("system paused")
	ErrCooldownActive          = errors.New("cooldown active")
	ErrInvalidConfiguration    = errors.New("invalid configuration")
	ErrInvalidBatch            = errors.New("invalid batch")
	ErrBatchNotOpen            = errors.New("batch not open")
	ErrBatchStillOpen          = errors.New("batch still open")
	ErrDuplicateSubmission     = errors.New("duplicate submission")
	ErrUninitialized           = errors.New("aggregate not initialized")
	ErrUnknownRequest          = errors.New("unknown decryption request")
	ErrReplayAttempt           = errors.New("decryption callback replayed")
	ErrStateMismatch           = errors.New("state commitment mismatch")
	ErrProofVerificationFailed = errors.New("decryption proof verification failed")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrSystemPaused, "system_paused"},
	{ErrCooldownActive, "cooldown_active"},
	{ErrInvalidConfiguration, "invalid_configuration"},
	{ErrInvalidBatch, "invalid_batch"},
	{ErrBatchNotOpen, "batch_not_open"},
	{ErrBatchStillOpen, "batch_still_open"},
	{ErrDuplicateSubmission, "duplicate_submission"},
	{ErrUninitialized, "uninitialized"},
	{ErrUnknownRequest, "unknown_request"},
	{ErrReplayAttempt, "replay_attempt"},
	{ErrStateMismatch, "state_mismatch"},
	{ErrProofVerificationFailed, "proof_verification_failed"},
}

// ErrorCode returns the stable machine-readable code of a protocol error,
// or "internal" if err does not wrap one.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}

// IsSecurityCritical reports whether err signals a stale or malicious
// oracle callback.
func IsSecurityCritical(err error) bool {
	return errors.Is(err, ErrReplayAttempt) || errors.Is(err, ErrStateMismatch)
}

// IsProtocolError reports whether err belongs to the protocol taxonomy.
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return true
		}
	}
	return false
}

// ErrorFromCode maps a code produced by ErrorCode back to its sentinel.
// Unknown codes yield nil.
func ErrorFromCode(code string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return nil
}
