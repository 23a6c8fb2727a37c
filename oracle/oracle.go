package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flashbots/sealbatch/crypto"
	"github.com/flashbots/sealbatch/protocol"
	"github.com/holiman/uint256"
	"go.uber.org/atomic"
)

var (
	// ErrQueueFull is returned by Dispatch when the worker is saturated.
	ErrQueueFull = errors.New("oracle queue full")

	// ErrNoReceiver is returned when a fulfillment has nowhere to go.
	ErrNoReceiver = errors.New("oracle has no callback receiver")
)

// CallbackReceiver accepts signed decryption results. *protocol.Protocol
// and HTTPReceiver implement it.
type CallbackReceiver interface {
	OnDecryptionCallback(requestID uint64, cleartexts, proof []byte) (*protocol.DecryptionResult, error)
}

// Config tunes the oracle worker.
type Config struct {
	// QueueSize bounds the number of pending requests.
	QueueSize int `yaml:"queue_size"`

	// Delay is waited before each fulfillment. Zero answers immediately.
	Delay time.Duration `yaml:"delay"`
}

// DefaultConfig returns a config suitable for a single-node deployment.
func DefaultConfig() *Config {
	return &Config{QueueSize: 64}
}

// Fulfillment is a signed answer to one DecryptionRequest.
type Fulfillment struct {
	RequestID  uint64
	Cleartexts []byte
	Proof      []byte
}

// Stats counts the oracle's work since startup.
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Delivered  uint64 `json:"delivered"`
	Failed     uint64 `json:"failed"`
	Pending    int    `json:"pending"`
}

// Oracle decrypts aggregate handles and signs the result with a quorum.
type Oracle struct {
	cfg       *Config
	keyholder *crypto.Keyholder
	store     crypto.CiphertextStore
	signer    crypto.DigestSigner
	log       *slog.Logger

	queue chan *protocol.DecryptionRequest

	mu       sync.RWMutex
	receiver CallbackReceiver

	dispatched atomic.Uint64
	delivered  atomic.Uint64
	failed     atomic.Uint64

	// tamper lets tests alter a fulfillment before delivery.
	tamper func(*Fulfillment)
}

// New creates an oracle. The receiver is set separately because the
// protocol usually needs the oracle as its dispatcher first.
func New(cfg *Config, keyholder *crypto.Keyholder, store crypto.CiphertextStore,
	signer crypto.DigestSigner, log *slog.Logger) *Oracle {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultConfig().QueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Oracle{
		cfg:       cfg,
		keyholder: keyholder,
		store:     store,
		signer:    signer,
		log:       log.With("component", "oracle"),
		queue:     make(chan *protocol.DecryptionRequest, size),
	}
}

// SetReceiver sets where fulfillments are delivered.
func (o *Oracle) SetReceiver(r CallbackReceiver) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.receiver = r
}

// PublicKey is the key providers mask their values to.
func (o *Oracle) PublicKey() crypto.KemPublicKey {
	return o.keyholder.PublicKey()
}

// Dispatch enqueues a request without waiting for it to be processed.
func (o *Oracle) Dispatch(req *protocol.DecryptionRequest) error {
	if req == nil {
		return errors.New("nil decryption request")
	}
	cp := *req
	cp.Handles = append(cp.Handles[:0:0], req.Handles...)

	select {
	case o.queue <- &cp:
		o.dispatched.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Stats returns the current counters.
func (o *Oracle) Stats() Stats {
	return Stats{
		Dispatched: o.dispatched.Load(),
		Delivered:  o.delivered.Load(),
		Failed:     o.failed.Load(),
		Pending:    len(o.queue),
	}
}

// Fulfill decrypts the request's handles and signs the encoded totals.
func (o *Oracle) Fulfill(req *protocol.DecryptionRequest) (*Fulfillment, error) {
	if len(req.Handles) != 2 {
		return nil, fmt.Errorf("request %d carries %d handles, expected 2", req.RequestID, len(req.Handles))
	}

	totals := make([]*uint256.Int, len(req.Handles))
	for i, handle := range req.Handles {
		ct, err := o.store.Get(handle)
		if err != nil {
			return nil, fmt.Errorf("resolve handle %s: %w", handle, err)
		}
		totals[i], err = o.keyholder.Decrypt(ct)
		if err != nil {
			return nil, fmt.Errorf("decrypt handle %s: %w", handle, err)
		}
	}

	cleartexts := protocol.EncodeCleartexts(totals[0], totals[1])
	digest := protocol.DecryptionDigest(req.Protocol, req.RequestID, cleartexts)
	proof, err := o.signer.SignDigest(digest.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign request %d: %w", req.RequestID, err)
	}

	return &Fulfillment{RequestID: req.RequestID, Cleartexts: cleartexts, Proof: proof}, nil
}

// Run processes queued requests until ctx is cancelled.
func (o *Oracle) Run(ctx context.Context) error {
	o.log.Info("oracle worker started", "queue", cap(o.queue), "delay", o.cfg.Delay)
	for {
		select {
		case <-ctx.Done():
			o.log.Info("oracle worker stopped")
			return ctx.Err()
		case req := <-o.queue:
			if o.cfg.Delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(o.cfg.Delay):
				}
			}
			if _, err := o.Process(req); err != nil {
				o.failed.Inc()
				o.log.Error("decryption request failed",
					"request_id", req.RequestID, "batch_id", req.BatchID, "err", err)
				continue
			}
			o.delivered.Inc()
		}
	}
}

// Process fulfills req and delivers the answer to the receiver.
func (o *Oracle) Process(req *protocol.DecryptionRequest) (*protocol.DecryptionResult, error) {
	o.mu.RLock()
	receiver := o.receiver
	o.mu.RUnlock()
	if receiver == nil {
		return nil, ErrNoReceiver
	}

	f, err := o.Fulfill(req)
	if err != nil {
		return nil, err
	}
	if o.tamper != nil {
		o.tamper(f)
	}

	result, err := receiver.OnDecryptionCallback(f.RequestID, f.Cleartexts, f.Proof)
	if err != nil {
		return nil, fmt.Errorf("deliver request %d: %w", f.RequestID, err)
	}

	o.log.Info("decryption delivered",
		"request_id", result.RequestID,
		"batch_id", result.BatchID,
		"submissions", result.SubmissionCount)
	return result, nil
}
