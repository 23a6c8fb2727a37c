package services

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/sealbatch/crypto"
	"github.com/flashbots/sealbatch/protocol"
	"github.com/go-chi/chi/v5"
)

// maxBodySize bounds request bodies. A submission carries two ciphertexts
// whose size grows with the number of mask terms.
const maxBodySize = 4 << 20

// defaultAuditPage is the page size of GET /audit without a limit.
const defaultAuditPage = 100

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Protocol  *protocol.Protocol
	Importer  CiphertextImporter
	Nonces    NonceTracker
	Journal   *Journal
	OracleKey crypto.KemPublicKey
	Log       *slog.Logger
}

// Service exposes one protocol instance over HTTP. Admin commands and
// submissions are signed envelopes; the recovered signer is the caller.
type Service struct {
	protocol  *protocol.Protocol
	importer  CiphertextImporter
	nonces    NonceTracker
	journal   *Journal
	oracleKey crypto.KemPublicKey
	log       *slog.Logger
}

// NewService validates cfg and creates a service.
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg.Protocol == nil || cfg.Importer == nil {
		return nil, errors.New("service requires a protocol and a ciphertext importer")
	}
	nonces := cfg.Nonces
	if nonces == nil {
		nonces = NewMemoryNonceTracker()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		protocol:  cfg.Protocol,
		importer:  cfg.Importer,
		nonces:    nonces,
		journal:   cfg.Journal,
		oracleKey: cfg.OracleKey,
		log:       log.With("component", "service"),
	}, nil
}

// RegisterRoutes registers the API routes.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Post("/admin/{command}", s.handleAdmin)
	r.Post("/submissions", s.handleSubmission)
	r.Post("/oracle/callback", s.handleCallback)

	r.Get("/state", s.handleGetState)
	r.Get("/batches/{id}", s.handleGetBatch)
	r.Get("/batches/{id}/aggregate", s.handleGetAggregate)
	r.Get("/requests/{id}", s.handleGetRequest)
	r.Get("/oracle/key", s.handleGetOracleKey)
	r.Get("/audit", s.handleGetAudit)
	r.Get("/audit/verify", s.handleVerifyAudit)
}

// recoverSigned decodes a signed envelope, checks its signature and
// advances the signer's nonce.
func recoverSigned[T any](s *Service, w http.ResponseWriter, r *http.Request, nonce func(*T) uint64) (*T, common.Address, error) {
	signed, err := protocol.DecodeMessage[protocol.Signed[T]](http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	obj, signer, err := signed.Recover(s.protocol.Identity())
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: %v", errInvalidSignature, err)
	}

	if err := s.nonces.Advance(signer, nonce(obj)); err != nil {
		return nil, common.Address{}, err
	}
	return obj, signer, nil
}

func (s *Service) handleAdmin(w http.ResponseWriter, r *http.Request) {
	command := chi.URLParam(r, "command")

	cmd, caller, err := recoverSigned(s, w, r, func(c *protocol.AdminCommand) uint64 { return c.Nonce })
	if err != nil {
		writeError(w, err)
		return
	}
	if cmd.Command != command {
		writeError(w, fmt.Errorf("%w: command mismatch: URL says %s, body says %s", errBadRequest, command, cmd.Command))
		return
	}

	resp, err := s.execute(caller, cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Service) execute(caller common.Address, cmd *protocol.AdminCommand) (*AdminResponse, error) {
	resp := &AdminResponse{Command: cmd.Command}

	requireAddress := func() (common.Address, error) {
		if cmd.Address == nil {
			return common.Address{}, fmt.Errorf("%w: %s requires an address", errBadRequest, cmd.Command)
		}
		return *cmd.Address, nil
	}

	var err error
	switch cmd.Command {
	case protocol.CommandTransferAdministrator:
		var addr common.Address
		if addr, err = requireAddress(); err == nil {
			err = s.protocol.TransferAdministrator(caller, addr)
		}
	case protocol.CommandAddProvider:
		var addr common.Address
		if addr, err = requireAddress(); err == nil {
			err = s.protocol.AddProvider(caller, addr)
		}
	case protocol.CommandRemoveProvider:
		var addr common.Address
		if addr, err = requireAddress(); err == nil {
			err = s.protocol.RemoveProvider(caller, addr)
		}
	case protocol.CommandSetPaused:
		if cmd.Paused == nil {
			return nil, fmt.Errorf("%w: set-paused requires paused", errBadRequest)
		}
		err = s.protocol.SetPaused(caller, *cmd.Paused)
	case protocol.CommandSetCooldown:
		err = s.protocol.SetCooldown(caller, cmd.CooldownSeconds)
	case protocol.CommandOpenBatch:
		resp.BatchID, err = s.protocol.OpenBatch(caller)
	case protocol.CommandCloseBatch:
		resp.BatchID = cmd.BatchID
		resp.SubmissionCount, err = s.protocol.CloseBatch(caller, cmd.BatchID)
	case protocol.CommandRequestBatchDecryption:
		resp.BatchID = cmd.BatchID
		resp.RequestID, err = s.protocol.RequestBatchDecryption(caller, cmd.BatchID)
	default:
		return nil, fmt.Errorf("%w: unknown command %q", errBadRequest, cmd.Command)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) handleSubmission(w http.ResponseWriter, r *http.Request) {
	msg, provider, err := recoverSigned(s, w, r, func(m *protocol.SubmissionMessage) uint64 { return m.Nonce })
	if err != nil {
		writeError(w, err)
		return
	}

	condition, err := s.importer.Import(msg.Condition)
	if err != nil {
		writeError(w, fmt.Errorf("%w: condition: %v", errBadRequest, err))
		return
	}
	status, err := s.importer.Import(msg.Status)
	if err != nil {
		writeError(w, fmt.Errorf("%w: status: %v", errBadRequest, err))
		return
	}

	batchID, err := s.protocol.RecordSubmission(provider, condition, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &SubmissionResponse{BatchID: batchID})
}

// handleCallback accepts oracle answers. It is unauthenticated: the quorum
// proof is what the protocol verifies.
func (s *Service) handleCallback(w http.ResponseWriter, r *http.Request) {
	msg, err := protocol.DecodeMessage[protocol.CallbackMessage](http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	result, err := s.protocol.OnDecryptionCallback(msg.RequestID, msg.Cleartexts, msg.Proof)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Service) handleGetState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.protocol.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &StateResponse{
		Identity:         snap.Identity,
		Administrator:    snap.Administrator,
		Providers:        snap.Providers,
		Paused:           snap.Paused,
		CooldownSeconds:  snap.CooldownSeconds,
		CurrentBatchID:   snap.CurrentBatchID,
		LastRequestID:    snap.LastRequestID,
		CallbackSelector: snap.CallbackSelector,
		OracleKey:        s.oracleKey,
	})
}

func (s *Service) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := s.protocol.Batch(id)
	if err != nil {
		writeError(w, err)
		return
	}

	providers := b.Providers()
	slices.SortFunc(providers, func(a, b common.Address) int { return bytes.Compare(a[:], b[:]) })
	writeJSON(w, &BatchResponse{
		ID:              b.ID,
		Status:          b.Status,
		SubmissionCount: b.SubmissionCount,
		Providers:       providers,
		OpenedAt:        b.OpenedAt,
		ClosedAt:        timePtr(b.ClosedAt),
	})
}

func (s *Service) handleGetAggregate(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	condition, status, err := s.protocol.AggregateOf(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &AggregateResponse{BatchID: id, Condition: condition, Status: status})
}

func (s *Service) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	dc, err := s.protocol.DecryptionContext(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &RequestResponse{
		RequestID:       dc.RequestID,
		BatchID:         dc.BatchID,
		StateCommitment: dc.StateCommitment,
		Processed:       dc.Processed,
		RequestedAt:     dc.RequestedAt,
		FulfilledAt:     timePtr(dc.FulfilledAt),
		ConditionTotal:  dc.ConditionTotal,
		StatusTotal:     dc.StatusTotal,
	})
}

func (s *Service) handleGetOracleKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, &OracleKeyResponse{PublicKey: s.oracleKey})
}

func (s *Service) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "audit journal disabled", http.StatusNotFound)
		return
	}

	from := uint64(1)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: from: %v", errBadRequest, err))
			return
		}
		from = parsed
	}
	limit := defaultAuditPage
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, fmt.Errorf("%w: invalid limit %q", errBadRequest, v))
			return
		}
		limit = parsed
	}

	records, err := s.journal.Records(from, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []*AuditRecord{}
	}
	writeJSON(w, records)
}

func (s *Service) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "audit journal disabled", http.StatusNotFound)
		return
	}

	records, err := s.journal.Records(1, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := &AuditVerifyResponse{Records: len(records), Valid: true}
	if len(records) > 0 {
		resp.Head = records[len(records)-1].Hash
	}
	if err := VerifyChain(records); err != nil {
		s.log.Warn("audit chain verification failed", "err", err)
		resp.Valid = false
		resp.Error = err.Error()
	}
	writeJSON(w, resp)
}

func uintParam(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return v, nil
}
