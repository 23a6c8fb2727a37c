package protocol

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DecryptionResult is the outcome of an accepted oracle callback.
type DecryptionResult struct {
	RequestID       uint64       `json:"request_id"`
	BatchID         uint64       `json:"batch_id"`
	ConditionTotal  *uint256.Int `json:"condition_total"`
	StatusTotal     *uint256.Int `json:"status_total"`
	SubmissionCount uint64       `json:"submission_count"`
}

// OracleBridge issues commitment-bound decryption requests and finalizes
// their callbacks exactly once.
//
// A request moves Requested -> Fulfilled on a verified callback. A callback
// that fails verification leaves the context unprocessed; nothing retries it.
type OracleBridge struct {
	state      *State
	gate       *AccessGate
	batches    *BatchManager
	ledger     *Ledger
	verifier   ProofVerifier
	dispatcher Dispatcher
}

// NewOracleBridge creates a bridge over the given state.
func NewOracleBridge(state *State, gate *AccessGate, batches *BatchManager, ledger *Ledger,
	verifier ProofVerifier, dispatcher Dispatcher) *OracleBridge {
	return &OracleBridge{
		state:      state,
		gate:       gate,
		batches:    batches,
		ledger:     ledger,
		verifier:   verifier,
		dispatcher: dispatcher,
	}
}

// RequestBatchDecryption commits to a closed batch's encrypted aggregate and
// asks the oracle to decrypt it. The request id is consumed only if the
// oracle accepted the request.
func (b *OracleBridge) RequestBatchDecryption(caller common.Address, batchID uint64, now time.Time) (*Event, error) {
	if err := b.gate.RequireAdministrator(caller); err != nil {
		return nil, err
	}
	if err := b.gate.RequireNotPaused(); err != nil {
		return nil, err
	}
	if err := b.gate.checkCooldown(caller, ActionDecryptionRequest, now); err != nil {
		return nil, err
	}

	batch, err := b.batches.Lookup(batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != BatchClosed {
		return nil, fmt.Errorf("%w: batch %d must be closed before decryption", ErrBatchStillOpen, batchID)
	}

	handles, commitment, err := b.commit(batchID)
	if err != nil {
		return nil, err
	}

	requestID := b.state.LastRequestID + 1
	req := &DecryptionRequest{
		RequestID: requestID,
		BatchID:   batchID,
		Protocol:  b.state.Identity,
		Handles:   handles,
		Callback:  b.state.CallbackSelector,
	}
	if err := b.dispatcher.Dispatch(req); err != nil {
		return nil, fmt.Errorf("dispatching decryption request %d: %w", requestID, err)
	}

	b.gate.consumeCooldown(caller, ActionDecryptionRequest, now)
	b.state.LastRequestID = requestID
	b.state.Contexts[requestID] = &DecryptionContext{
		RequestID:       requestID,
		BatchID:         batchID,
		StateCommitment: commitment,
		RequestedAt:     now,
	}

	return &Event{
		Kind:       EventDecryptionRequested,
		Actor:      caller,
		BatchID:    batchID,
		RequestID:  requestID,
		Commitment: hashPtr(commitment),
		Handles:    handles,
	}, nil
}

// OnDecryptionCallback finalizes a request after checking, in order, that it
// exists, has not been processed, still matches the committed state and
// carries a valid oracle proof.
func (b *OracleBridge) OnDecryptionCallback(requestID uint64, cleartexts, proof []byte, now time.Time) (*DecryptionResult, *Event, error) {
	dc, ok := b.state.Contexts[requestID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownRequest, requestID)
	}
	if dc.Processed {
		return nil, nil, fmt.Errorf("%w: request %d already fulfilled", ErrReplayAttempt, requestID)
	}

	_, commitment, err := b.commit(dc.BatchID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: request %d: %v", ErrStateMismatch, requestID, err)
	}
	if commitment != dc.StateCommitment {
		return nil, nil, fmt.Errorf("%w: request %d committed to %s, batch %d now commits to %s",
			ErrStateMismatch, requestID, dc.StateCommitment.Hex(), dc.BatchID, commitment.Hex())
	}

	if err := b.verifier.VerifyDecryption(requestID, cleartexts, proof); err != nil {
		return nil, nil, fmt.Errorf("%w: request %d: %v", ErrProofVerificationFailed, requestID, err)
	}

	conditionTotal, statusTotal, err := DecodeCleartexts(cleartexts)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: request %d: %v", ErrProofVerificationFailed, requestID, err)
	}

	var submissions uint64
	if batch, ok := b.state.Batches[dc.BatchID]; ok {
		submissions = batch.SubmissionCount
	}

	dc.Processed = true
	dc.FulfilledAt = now
	dc.ConditionTotal = conditionTotal
	dc.StatusTotal = statusTotal

	result := &DecryptionResult{
		RequestID:       requestID,
		BatchID:         dc.BatchID,
		ConditionTotal:  conditionTotal,
		StatusTotal:     statusTotal,
		SubmissionCount: submissions,
	}
	ev := &Event{
		Kind:            EventDecryptionCompleted,
		BatchID:         dc.BatchID,
		RequestID:       requestID,
		SubmissionCount: submissions,
		ConditionTotal:  conditionTotal,
		StatusTotal:     statusTotal,
	}
	return result, ev, nil
}

// Context returns the decryption context of a request.
func (b *OracleBridge) Context(requestID uint64) (*DecryptionContext, error) {
	dc, ok := b.state.Contexts[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRequest, requestID)
	}
	return dc, nil
}

func (b *OracleBridge) commit(batchID uint64) ([]common.Hash, common.Hash, error) {
	agg, err := b.ledger.AggregateOf(batchID)
	if err != nil {
		return nil, common.Hash{}, err
	}
	handles, err := agg.Handles()
	if err != nil {
		return nil, common.Hash{}, err
	}
	return handles, StateCommitment(b.state.Identity, handles), nil
}
