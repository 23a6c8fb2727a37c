package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flashbots/sealbatch/crypto"
	"github.com/flashbots/sealbatch/oracle"
	"github.com/flashbots/sealbatch/protocol"
	"github.com/flashbots/sealbatch/storage"
	"github.com/go-chi/chi/v5"
)

// NodeConfig describes a single-process deployment: one protocol instance,
// its HTTP API and an in-process oracle.
type NodeConfig struct {
	Protocol *protocol.Config
	Oracle   *oracle.Config

	// Keyholder and Signer are the oracle's secrets. Quorum verifies what
	// Signer produces.
	Keyholder *crypto.Keyholder
	Signer    crypto.DigestSigner
	Quorum    crypto.DigestVerifier

	// Storage persists ciphertexts, snapshots and nonces. Nil keeps
	// everything in memory.
	Storage *storage.Storage

	// AuditStore backs the journal. Nil uses an InMemoryStore.
	AuditStore AuditStore

	Clock     protocol.Clock
	Sinks     []protocol.EventSink
	Observers []protocol.Observer
	Log       *slog.Logger
}

// Node is an assembled deployment.
type Node struct {
	Protocol *protocol.Protocol
	Oracle   *oracle.Oracle
	Service  *Service
	Journal  *Journal

	log *slog.Logger
}

// NewNode wires a deployment, restoring the protocol from storage when a
// snapshot of the configured instance exists.
func NewNode(cfg *NodeConfig) (*Node, error) {
	if cfg.Protocol == nil || cfg.Keyholder == nil || cfg.Signer == nil || cfg.Quorum == nil {
		return nil, errors.New("node requires protocol config, oracle keys and quorum")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	var (
		ciphertexts crypto.CiphertextStore
		nonces      NonceTracker
		persister   protocol.Persister
		snapshots   *storage.SnapshotStore
	)
	if cfg.Storage != nil {
		ciphertexts = storage.NewCiphertextStore(cfg.Storage)
		nonces = storage.NewNonceStore(cfg.Storage)
		snapshots = storage.NewSnapshotStore(cfg.Storage, cfg.Protocol.Identity)
		persister = snapshots
	} else {
		ciphertexts = crypto.NewMemoryCiphertextStore()
		nonces = NewMemoryNonceTracker()
	}

	auditStore := cfg.AuditStore
	if auditStore == nil {
		auditStore = NewInMemoryStore()
	}
	journal, err := NewJournal(auditStore, log)
	if err != nil {
		return nil, err
	}

	backend := protocol.NewMaskedBackend(ciphertexts)
	o := oracle.New(cfg.Oracle, cfg.Keyholder, ciphertexts, cfg.Signer, log)

	deps := protocol.Deps{
		Backend:    backend,
		Verifier:   &protocol.QuorumVerifier{Identity: cfg.Protocol.Identity, Quorum: cfg.Quorum},
		Dispatcher: o,
		Clock:      cfg.Clock,
		Sinks:      append([]protocol.EventSink{journal, &protocol.LogSink{Log: log}}, cfg.Sinks...),
		Observers:  cfg.Observers,
		Persister:  persister,
		Log:        log,
	}

	p, err := newOrRestore(cfg.Protocol, snapshots, backend, deps, log)
	if err != nil {
		return nil, err
	}
	o.SetReceiver(p)

	svc, err := NewService(&ServiceConfig{
		Protocol:  p,
		Importer:  backend,
		Nonces:    nonces,
		Journal:   journal,
		OracleKey: cfg.Keyholder.PublicKey(),
		Log:       log,
	})
	if err != nil {
		return nil, err
	}

	return &Node{Protocol: p, Oracle: o, Service: svc, Journal: journal, log: log}, nil
}

func newOrRestore(cfg *protocol.Config, snapshots *storage.SnapshotStore, backend *protocol.MaskedBackend,
	deps protocol.Deps, log *slog.Logger) (*protocol.Protocol, error) {
	if snapshots != nil {
		snap, err := snapshots.Load()
		if err != nil {
			return nil, fmt.Errorf("loading snapshot: %w", err)
		}
		if snap != nil {
			log.Info("restoring protocol from snapshot",
				"identity", snap.Identity.Hex(),
				"currentBatch", snap.CurrentBatchID,
				"lastRequest", snap.LastRequestID)
			return protocol.NewFromSnapshot(snap, backend, deps)
		}
	}
	return protocol.New(cfg, deps)
}

// RegisterRoutes mounts the service API.
func (n *Node) RegisterRoutes(r chi.Router) {
	n.Service.RegisterRoutes(r)
}

// Run processes oracle requests until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	n.log.Info("node started", "identity", n.Protocol.Identity().Hex())
	return n.Oracle.Run(ctx)
}
