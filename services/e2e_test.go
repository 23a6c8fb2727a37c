package services

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/flashbots/sealbatch/api/httpserver"
	"github.com/flashbots/sealbatch/protocol"
	"github.com/flashbots/sealbatch/storage"
	"github.com/flashbots/sealbatch/testutil"
	"github.com/stretchr/testify/require"
)

type e2eNode struct {
	node   *Node
	server *httptest.Server
	cancel context.CancelFunc
	done   chan struct{}
}

func startE2ENode(t *testing.T, cfg NodeConfig) *e2eNode {
	t.Helper()
	node, err := NewNode(&cfg)
	require.NoError(t, err)

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{Log: cfg.Log}, node)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	n := &e2eNode{
		node:   node,
		server: httptest.NewServer(srv.Handler()),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(n.done)
		node.Run(ctx)
	}()
	return n
}

func (n *e2eNode) stop() {
	n.server.Close()
	n.cancel()
	<-n.done
}

// TestE2E_BatchLifecycle drives a full batch through the HTTP API, then
// restarts the node from its Pebble store.
func TestE2E_BatchLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")
	admin := testutil.NewActor(t)
	providers := testutil.NewActors(t, 3)
	keys := testutil.NewOracleKeys(t, testutil.WithQuorum(5, 3))
	log := slog.New(slog.DiscardHandler)

	cfg := NodeConfig{
		Protocol: &protocol.Config{
			Identity:        testutil.RandomAddress(t),
			Administrator:   admin.Address,
			CooldownSeconds: 60,
		},
		Keyholder: keys.Keyholder,
		Signer:    keys.Signer,
		Quorum:    keys.Quorum,
		Clock:     testutil.NewFakeClock(time.Unix(1_700_000_000, 0)),
		Log:       log,
	}

	db, err := storage.New(path)
	require.NoError(t, err)
	cfg.Storage = db
	n := startE2ENode(t, cfg)

	adminClient := NewClient(n.server.URL, admin.Key)
	for _, p := range providers {
		addr := p.Address
		_, err := adminClient.Admin(ctx, &protocol.AdminCommand{Command: protocol.CommandAddProvider, Address: &addr})
		require.NoError(t, err)
	}
	opened, err := adminClient.Admin(ctx, &protocol.AdminCommand{Command: protocol.CommandOpenBatch})
	require.NoError(t, err)

	oracleKey, err := adminClient.OracleKey(ctx)
	require.NoError(t, err)
	identity, err := adminClient.Identity(ctx)
	require.NoError(t, err)
	require.Equal(t, cfg.Protocol.Identity, identity)

	values := [][2]uint64{{5, 10}, {7, 20}, {1, 3}}
	for i, p := range providers {
		client := NewClient(n.server.URL, p.Key)
		resp, err := client.Submit(ctx,
			testutil.MustEncrypt(t, oracleKey, values[i][0]),
			testutil.MustEncrypt(t, oracleKey, values[i][1]))
		require.NoError(t, err)
		require.Equal(t, opened.BatchID, resp.BatchID)
	}

	_, err = NewClient(n.server.URL, providers[0].Key).Submit(ctx,
		testutil.MustEncrypt(t, oracleKey, 1), testutil.MustEncrypt(t, oracleKey, 1))
	require.ErrorIs(t, err, protocol.ErrCooldownActive)

	closed, err := adminClient.Admin(ctx, &protocol.AdminCommand{Command: protocol.CommandCloseBatch, BatchID: opened.BatchID})
	require.NoError(t, err)
	require.Equal(t, uint64(3), closed.SubmissionCount)

	requested, err := adminClient.Admin(ctx, &protocol.AdminCommand{Command: protocol.CommandRequestBatchDecryption, BatchID: opened.BatchID})
	require.NoError(t, err)

	var req *RequestResponse
	require.Eventually(t, func() bool {
		req, err = adminClient.Request(ctx, requested.RequestID)
		return err == nil && req.Processed
	}, 10*time.Second, 20*time.Millisecond)
	require.Equal(t, uint64(13), req.ConditionTotal.Uint64())
	require.Equal(t, uint64(33), req.StatusTotal.Uint64())

	n.stop()
	require.NoError(t, db.Close())

	// Restart from disk.
	db, err = storage.New(path)
	require.NoError(t, err)
	defer db.Close()
	cfg.Storage = db
	n = startE2ENode(t, cfg)
	defer n.stop()

	adminClient = NewClient(n.server.URL, admin.Key)
	state, err := adminClient.State(ctx)
	require.NoError(t, err)
	require.Equal(t, opened.BatchID, state.CurrentBatchID)
	require.Equal(t, requested.RequestID, state.LastRequestID)
	require.Len(t, state.Providers, 3)

	batch, err := adminClient.Batch(ctx, opened.BatchID)
	require.NoError(t, err)
	require.Equal(t, protocol.BatchClosed, batch.Status)

	req, err = adminClient.Request(ctx, requested.RequestID)
	require.NoError(t, err)
	require.True(t, req.Processed)
	require.Equal(t, uint64(13), req.ConditionTotal.Uint64())

	// The restored ledger still resolves the aggregate handles.
	condition, _, err := n.node.Protocol.AggregateOf(opened.BatchID)
	require.NoError(t, err)
	ct, err := storage.NewCiphertextStore(db).Get(condition)
	require.NoError(t, err)
	total, err := keys.Keyholder.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, uint64(13), total.Uint64())
}
