// Package protocol implements sealbatch, a confidential batch aggregation
// state machine. Providers submit encrypted values into batches; once a
// batch is closed its encrypted totals are handed to an external decryption
// oracle, and the oracle's answer is accepted only if it is authentic, still
// matches the batch it was requested for, and has not been accepted before.
//
// # Components
//
// Four components share one State, owned by a Protocol:
//
//   - AccessGate (access.go): administrator and provider roles, the global
//     pause switch and per-actor cooldowns for submissions and decryption
//     requests.
//
//   - BatchManager (batches.go): allocates monotonic batch ids and drives
//     the one-way Open -> Closed transition. Only the most recently opened
//     batch accepts submissions.
//
//   - Ledger (ledger.go): records at most one submission per provider per
//     batch and folds both encrypted values into the batch's running sums
//     through a Backend.
//
//   - OracleBridge (bridge.go): commits to a closed batch's handles, issues
//     a DecryptionRequest through a Dispatcher and finalizes the callback.
//
// # Decryption flow
//
// RequestBatchDecryption computes
//
//	commitment = keccak256(conditionHandle || statusHandle || identity)
//
// and stores it in a DecryptionContext. OnDecryptionCallback checks, in
// order: the request exists (ErrUnknownRequest), it has not been processed
// (ErrReplayAttempt), the batch still commits to the same value
// (ErrStateMismatch), and the oracle proof verifies (ErrProofVerificationFailed).
// The cleartext payload is two 32-byte big-endian integers, condition total
// first. Only then is the context marked processed.
//
// # Concurrency
//
// The package starts no goroutines. Protocol serializes every public
// operation with one mutex, and every operation performs all of its checks
// and backend calls before its first write. Event sinks run under that lock
// and must not call back into the Protocol; the Dispatcher must hand the
// request off without waiting for the oracle.
//
// # Persistence
//
// A Persister receives a Snapshot after each successful mutation, before any
// event for it is emitted. If Persist fails the mutation is rolled back and
// the operation returns the error; request ids already dispatched stay
// consumed. Snapshots hold ciphertext handles only; RestoreState resolves them through a
// Resolver such as MaskedBackend.
package protocol
