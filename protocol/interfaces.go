package protocol

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Encrypted is an opaque encrypted numeric value. Its plaintext is never
// visible to the protocol.
type Encrypted interface {
	// Handle returns the fixed-size external representation of the value.
	// The decryption oracle resolves ciphertexts by this handle.
	Handle() (common.Hash, error)
}

// Backend supplies encrypted arithmetic. Implementations wrap a
// confidential-compute library; the protocol only accumulates.
type Backend interface {
	// Zero returns an encrypted zero.
	Zero() (Encrypted, error)

	// Add returns an encryption of the sum of a and b.
	Add(a, b Encrypted) (Encrypted, error)
}

// Releaser is implemented by backends that store the values they produce.
// Release drops a value the state no longer refers to.
type Releaser interface {
	Release(value Encrypted) error
}

// Resolver maps handles back to ciphertexts. Backends implement it to allow
// restoring persisted state.
type Resolver interface {
	Resolve(handle common.Hash) (Encrypted, error)
}

// ProofVerifier checks the oracle's proof that cleartexts are the correct
// decryption for a request.
type ProofVerifier interface {
	VerifyDecryption(requestID uint64, cleartexts []byte, proof []byte) error
}

// Dispatcher hands decryption requests to the external oracle. Dispatch must
// not block on the oracle's work and must not call back into the protocol
// synchronously.
type Dispatcher interface {
	Dispatch(req *DecryptionRequest) error
}

// EventSink receives protocol events in commit order. Sinks are invoked while
// the protocol lock is held and must not call into the protocol.
type EventSink interface {
	Emit(ev *Event)
}

// Persister stores a snapshot after every successful mutating operation.
// Persist must not return before the snapshot is durable.
type Persister interface {
	Persist(snapshot *Snapshot) error
}

// Clock provides the current time for cooldown accounting.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// DecryptionRequest is what the oracle receives for a batch decryption.
type DecryptionRequest struct {
	RequestID uint64         `json:"request_id"`
	BatchID   uint64         `json:"batch_id"`
	Protocol  common.Address `json:"protocol"`
	Handles   []common.Hash  `json:"handles"`
	Callback  string         `json:"callback"`
}
