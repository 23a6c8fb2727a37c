package services

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flashbots/sealbatch/protocol"
)

var (
	errBadRequest       = errors.New("bad request")
	errInvalidSignature = errors.New("invalid signature")
)

const (
	codeBadRequest       = "bad_request"
	codeInvalidSignature = "invalid_signature"
	codeStaleNonce       = "stale_nonce"
)

var statusByCode = map[string]int{
	"unauthorized":              http.StatusForbidden,
	"system_paused":             http.StatusServiceUnavailable,
	"cooldown_active":           http.StatusTooManyRequests,
	"invalid_configuration":     http.StatusBadRequest,
	"invalid_batch":             http.StatusNotFound,
	"batch_not_open":            http.StatusConflict,
	"batch_still_open":          http.StatusConflict,
	"duplicate_submission":      http.StatusConflict,
	"uninitialized":             http.StatusNotFound,
	"unknown_request":           http.StatusNotFound,
	"replay_attempt":            http.StatusConflict,
	"state_mismatch":            http.StatusConflict,
	"proof_verification_failed": http.StatusUnprocessableEntity,
	codeBadRequest:              http.StatusBadRequest,
	codeInvalidSignature:        http.StatusUnauthorized,
	codeStaleNonce:              http.StatusConflict,
}

// errorCode extends protocol.ErrorCode with the service's own failures.
func errorCode(err error) string {
	switch {
	case errors.Is(err, protocol.ErrStaleNonce):
		return codeStaleNonce
	case errors.Is(err, errInvalidSignature):
		return codeInvalidSignature
	case errors.Is(err, errBadRequest):
		return codeBadRequest
	}
	return protocol.ErrorCode(err)
}

// HTTPStatus maps an error to the status the API answers with.
func HTTPStatus(err error) int {
	if status, ok := statusByCode[errorCode(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	json.NewEncoder(w).Encode(&ErrorResponse{Error: err.Error(), Code: errorCode(err)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// errorFromResponse recovers the sentinel behind an ErrorResponse.
func errorFromResponse(status int, body []byte) error {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Code == "" {
		return &StatusError{Status: status, Message: string(body)}
	}
	se := &StatusError{Status: status, Code: er.Code, Message: er.Error}
	switch er.Code {
	case codeStaleNonce:
		se.err = protocol.ErrStaleNonce
	case codeInvalidSignature:
		se.err = errInvalidSignature
	case codeBadRequest:
		se.err = errBadRequest
	default:
		se.err = protocol.ErrorFromCode(er.Code)
	}
	return se
}

// StatusError is a failed API call. It unwraps to the protocol sentinel
// named by Code, when there is one.
type StatusError struct {
	Status  int
	Code    string
	Message string
	err     error
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return http.StatusText(e.Status) + ": " + e.Message
	}
	return e.Code + ": " + e.Message
}

func (e *StatusError) Unwrap() error {
	return e.err
}
