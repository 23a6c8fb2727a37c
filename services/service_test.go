package services

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/sealbatch/crypto"
	"github.com/flashbots/sealbatch/oracle"
	"github.com/flashbots/sealbatch/protocol"
	"github.com/flashbots/sealbatch/storage"
	"github.com/flashbots/sealbatch/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	node      *Node
	router    chi.Router
	identity  common.Address
	admin     *testutil.Actor
	providers []*testutil.Actor
	keys      *testutil.OracleKeys
	clock     *testutil.FakeClock
	nonce     uint64
}

func setupTestNode(t *testing.T, nProviders int, opts ...func(*NodeConfig)) *testEnv {
	t.Helper()

	env := &testEnv{
		identity:  testutil.RandomAddress(t),
		admin:     testutil.NewActor(t),
		providers: testutil.NewActors(t, nProviders),
		keys:      testutil.NewOracleKeys(t, testutil.WithQuorum(3, 2)),
		clock:     testutil.NewFakeClock(time.Unix(1_700_000_000, 0)),
	}

	cfg := &NodeConfig{
		Protocol: &protocol.Config{
			Identity:        env.identity,
			Administrator:   env.admin.Address,
			CooldownSeconds: 60,
		},
		Oracle:    &oracle.Config{QueueSize: 8},
		Keyholder: env.keys.Keyholder,
		Signer:    env.keys.Signer,
		Quorum:    env.keys.Quorum,
		Clock:     env.clock,
		Log:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	node, err := NewNode(cfg)
	require.NoError(t, err)
	env.node = node

	r := chi.NewRouter()
	node.RegisterRoutes(r)
	env.router = r
	return env
}

func (env *testEnv) nextNonce() uint64 {
	env.nonce++
	return env.nonce
}

func (env *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) get(path string) *httptest.ResponseRecorder {
	return env.serve(httptest.NewRequest(http.MethodGet, path, nil))
}

func (env *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	return env.serve(req)
}

func signed[T any](t *testing.T, identity common.Address, key *ecdsa.PrivateKey, obj *T) *protocol.Signed[T] {
	t.Helper()
	s, err := protocol.NewSigned(key, identity, obj)
	require.NoError(t, err)
	return s
}

func (env *testEnv) command(t *testing.T, actor *testutil.Actor, cmd *protocol.AdminCommand) *httptest.ResponseRecorder {
	t.Helper()
	cmd.Nonce = env.nextNonce()
	return env.post(t, "/admin/"+cmd.Command, signed(t, env.identity, actor.Key, cmd))
}

func (env *testEnv) submit(t *testing.T, provider *testutil.Actor, condition, status uint64) *httptest.ResponseRecorder {
	t.Helper()
	key := env.keys.Keyholder.PublicKey()
	cond, err := json.Marshal(testutil.MustEncrypt(t, key, condition))
	require.NoError(t, err)
	stat, err := json.Marshal(testutil.MustEncrypt(t, key, status))
	require.NoError(t, err)
	return env.post(t, "/submissions", signed(t, env.identity, provider.Key, &protocol.SubmissionMessage{
		Nonce:     env.nextNonce(),
		Condition: cond,
		Status:    stat,
	}))
}

func (env *testEnv) addProviders(t *testing.T) {
	t.Helper()
	for _, p := range env.providers {
		addr := p.Address
		w := env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandAddProvider, Address: &addr})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) *T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return &v
}

func requireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := decode[ErrorResponse](t, w)
	require.Equal(t, code, resp.Code)
}

func TestAdminCommands(t *testing.T) {
	env := setupTestNode(t, 1)
	env.addProviders(t)
	require.True(t, env.node.Protocol.IsProvider(env.providers[0].Address))

	w := env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandOpenBatch})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, uint64(1), decode[AdminResponse](t, w).BatchID)

	w = env.command(t, env.providers[0], &protocol.AdminCommand{Command: protocol.CommandOpenBatch})
	requireError(t, w, http.StatusForbidden, "unauthorized")

	w = env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandRemoveProvider})
	requireError(t, w, http.StatusBadRequest, codeBadRequest)

	w = env.command(t, env.admin, &protocol.AdminCommand{Command: "self-destruct"})
	requireError(t, w, http.StatusBadRequest, codeBadRequest)

	w = env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandSetPaused})
	requireError(t, w, http.StatusBadRequest, codeBadRequest)

	cmd := &protocol.AdminCommand{Command: protocol.CommandCloseBatch, Nonce: env.nextNonce(), BatchID: 1}
	w = env.post(t, "/admin/"+protocol.CommandOpenBatch, signed(t, env.identity, env.admin.Key, cmd))
	requireError(t, w, http.StatusBadRequest, codeBadRequest)

	paused := true
	w = env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandSetPaused, Paused: &paused})
	require.Equal(t, http.StatusOK, w.Code)
	requireError(t, env.submit(t, env.providers[0], 1, 1), http.StatusServiceUnavailable, "system_paused")

	w = env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandSetCooldown})
	requireError(t, w, http.StatusBadRequest, "invalid_configuration")

	w = env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandSetCooldown, CooldownSeconds: 5})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, uint64(5), env.node.Protocol.Cooldown())

	next := testutil.NewActor(t).Address
	w = env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandTransferAdministrator, Address: &next})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, next, env.node.Protocol.Administrator())
}

func TestSignedEnvelopeChecks(t *testing.T) {
	env := setupTestNode(t, 1)
	addr := env.providers[0].Address

	envelope := signed(t, env.identity, env.admin.Key, &protocol.AdminCommand{
		Command: protocol.CommandAddProvider, Nonce: 7, Address: &addr,
	})
	require.Equal(t, http.StatusOK, env.post(t, "/admin/add-provider", envelope).Code)

	// The same envelope cannot be replayed.
	requireError(t, env.post(t, "/admin/add-provider", envelope), http.StatusConflict, codeStaleNonce)

	forged := *envelope
	forged.Signer = env.providers[0].Address
	requireError(t, env.post(t, "/admin/add-provider", &forged), http.StatusUnauthorized, codeInvalidSignature)

	// A command the administrator signed for another instance does not verify here.
	elsewhere := signed(t, testutil.RandomAddress(t), env.admin.Key, &protocol.AdminCommand{
		Command: protocol.CommandOpenBatch, Nonce: 8,
	})
	requireError(t, env.post(t, "/admin/open-batch", elsewhere), http.StatusUnauthorized, codeInvalidSignature)
	require.Equal(t, uint64(0), env.node.Protocol.CurrentBatchID())

	req := httptest.NewRequest(http.MethodPost, "/admin/add-provider", strings.NewReader("{"))
	requireError(t, env.serve(req), http.StatusBadRequest, codeBadRequest)
}

func TestSubmissionValidation(t *testing.T) {
	env := setupTestNode(t, 2)
	env.addProviders(t)

	requireError(t, env.submit(t, env.providers[0], 1, 1), http.StatusConflict, "batch_not_open")

	require.Equal(t, http.StatusOK, env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandOpenBatch}).Code)

	w := env.submit(t, env.providers[0], 1, 1)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, uint64(1), decode[SubmissionResponse](t, w).BatchID)

	env.clock.Advance(time.Minute)
	requireError(t, env.submit(t, env.providers[0], 1, 1), http.StatusConflict, "duplicate_submission")
	requireError(t, env.submit(t, env.admin, 1, 1), http.StatusForbidden, "unauthorized")

	bad := env.post(t, "/submissions", signed(t, env.identity, env.providers[1].Key, &protocol.SubmissionMessage{
		Nonce:     env.nextNonce(),
		Condition: json.RawMessage(`{"masked":"0x1","terms":"nope"}`),
		Status:    json.RawMessage(`{}`),
	}))
	requireError(t, bad, http.StatusBadRequest, codeBadRequest)
}

func TestRejectedSubmissionsStoreNothing(t *testing.T) {
	db, err := storage.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ciphertexts := storage.NewCiphertextStore(db)
	stored := func() int {
		n, err := ciphertexts.Count()
		require.NoError(t, err)
		return n
	}

	env := setupTestNode(t, 2, func(cfg *NodeConfig) { cfg.Storage = db })
	env.addProviders(t)
	require.Equal(t, http.StatusOK, env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandOpenBatch}).Code)

	requireError(t, env.submit(t, env.admin, 1, 1), http.StatusForbidden, "unauthorized")
	requireError(t, env.submit(t, testutil.NewActor(t), 1, 1), http.StatusForbidden, "unauthorized")
	require.Equal(t, 0, stored())

	require.Equal(t, http.StatusOK, env.submit(t, env.providers[0], 1, 1).Code)
	require.Equal(t, 2, stored())

	env.clock.Advance(time.Minute)
	requireError(t, env.submit(t, env.providers[0], 1, 1), http.StatusConflict, "duplicate_submission")
	require.Equal(t, 2, stored())

	// A pre-summed ciphertext is not a single contribution.
	key := env.keys.Keyholder.PublicKey()
	sum, err := crypto.AddCiphertexts(testutil.MustEncrypt(t, key, 40), testutil.MustEncrypt(t, key, 2))
	require.NoError(t, err)
	multi, err := json.Marshal(sum)
	require.NoError(t, err)
	single, err := json.Marshal(testutil.MustEncrypt(t, key, 1))
	require.NoError(t, err)
	w := env.post(t, "/submissions", signed(t, env.identity, env.providers[1].Key, &protocol.SubmissionMessage{
		Nonce:     env.nextNonce(),
		Condition: multi,
		Status:    single,
	}))
	requireError(t, w, http.StatusBadRequest, codeBadRequest)
	require.Equal(t, 2, stored())

	require.Equal(t, http.StatusOK, env.submit(t, env.providers[1], 1, 1).Code)
	require.Equal(t, 2, stored())
}

func TestDecryptionOverHTTP(t *testing.T) {
	env := setupTestNode(t, 2)
	env.addProviders(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.node.Run(ctx)

	require.Equal(t, http.StatusOK, env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandOpenBatch}).Code)
	requireError(t, env.get("/batches/1/aggregate"), http.StatusNotFound, "uninitialized")

	require.Equal(t, http.StatusOK, env.submit(t, env.providers[0], 5, 10).Code)
	require.Equal(t, http.StatusOK, env.submit(t, env.providers[1], 7, 20).Code)

	w := env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandRequestBatchDecryption, BatchID: 1})
	requireError(t, w, http.StatusConflict, "batch_still_open")

	w = env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandCloseBatch, BatchID: 1})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, uint64(2), decode[AdminResponse](t, w).SubmissionCount)

	batch := decode[BatchResponse](t, env.get("/batches/1"))
	require.Equal(t, protocol.BatchClosed, batch.Status)
	require.Len(t, batch.Providers, 2)
	require.NotNil(t, batch.ClosedAt)

	agg := decode[AggregateResponse](t, env.get("/batches/1/aggregate"))
	require.NotEqual(t, common.Hash{}, agg.Condition)

	w = env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandRequestBatchDecryption, BatchID: 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	requestID := decode[AdminResponse](t, w).RequestID
	require.Equal(t, uint64(1), requestID)

	var req *RequestResponse
	require.Eventually(t, func() bool {
		w := env.get("/requests/1")
		if w.Code != http.StatusOK {
			return false
		}
		req = decode[RequestResponse](t, w)
		return req.Processed
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, uint64(12), req.ConditionTotal.Uint64())
	require.Equal(t, uint64(30), req.StatusTotal.Uint64())
	require.NotNil(t, req.FulfilledAt)

	// A second request for the same batch waits out the cooldown.
	w = env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandRequestBatchDecryption, BatchID: 1})
	requireError(t, w, http.StatusTooManyRequests, "cooldown_active")
}

func TestCallbackEndpoint(t *testing.T) {
	env := setupTestNode(t, 0)

	w := env.post(t, "/oracle/callback", &protocol.CallbackMessage{RequestID: 4, Cleartexts: make([]byte, 64), Proof: []byte{1}})
	requireError(t, w, http.StatusNotFound, "unknown_request")

	req := httptest.NewRequest(http.MethodPost, "/oracle/callback", strings.NewReader("not json"))
	requireError(t, env.serve(req), http.StatusBadRequest, codeBadRequest)
}

func TestReadEndpoints(t *testing.T) {
	env := setupTestNode(t, 2)
	env.addProviders(t)

	state := decode[StateResponse](t, env.get("/state"))
	require.Equal(t, env.identity, state.Identity)
	require.Equal(t, env.admin.Address, state.Administrator)
	require.Len(t, state.Providers, 2)
	require.Equal(t, uint64(60), state.CooldownSeconds)
	require.Equal(t, protocol.DefaultCallbackSelector, state.CallbackSelector)
	require.Equal(t, env.keys.Keyholder.PublicKey(), state.OracleKey)

	key := decode[OracleKeyResponse](t, env.get("/oracle/key"))
	require.Equal(t, env.keys.Keyholder.PublicKey(), key.PublicKey)

	requireError(t, env.get("/batches/x"), http.StatusBadRequest, codeBadRequest)
	requireError(t, env.get("/batches/9"), http.StatusNotFound, "invalid_batch")
	requireError(t, env.get("/requests/1"), http.StatusNotFound, "unknown_request")
}

func TestAuditEndpoints(t *testing.T) {
	env := setupTestNode(t, 2)
	env.addProviders(t)
	require.Equal(t, http.StatusOK, env.command(t, env.admin, &protocol.AdminCommand{Command: protocol.CommandOpenBatch}).Code)

	records := *decode[[]*AuditRecord](t, env.get("/audit"))
	require.Len(t, records, 3)
	require.Equal(t, protocol.EventProviderAdded, records[0].Kind)
	require.Equal(t, protocol.EventBatchOpened, records[2].Kind)
	require.NoError(t, VerifyChain(records))

	page := *decode[[]*AuditRecord](t, env.get("/audit?from=2&limit=1"))
	require.Len(t, page, 1)
	require.Equal(t, uint64(2), page[0].Seq)

	requireError(t, env.get("/audit?limit=0"), http.StatusBadRequest, codeBadRequest)

	verify := decode[AuditVerifyResponse](t, env.get("/audit/verify"))
	require.True(t, verify.Valid)
	require.Equal(t, 3, verify.Records)
	require.Equal(t, env.node.Journal.Head(), verify.Head)
}

func TestEveryProtocolErrorHasAStatus(t *testing.T) {
	for _, err := range []error{
		protocol.ErrUnauthorized, protocol.ErrSystemPaused, protocol.ErrCooldownActive,
		protocol.ErrInvalidConfiguration, protocol.ErrInvalidBatch, protocol.ErrBatchNotOpen,
		protocol.ErrBatchStillOpen, protocol.ErrDuplicateSubmission, protocol.ErrUninitialized,
		protocol.ErrUnknownRequest, protocol.ErrReplayAttempt, protocol.ErrStateMismatch,
		protocol.ErrProofVerificationFailed, protocol.ErrStaleNonce,
	} {
		require.NotEqual(t, http.StatusInternalServerError, HTTPStatus(err), err.Error())
	}
}
