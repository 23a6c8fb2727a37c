package protocol

import (
	"testing"
	"time"

	"github.com/flashbots/sealbatch/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordSubmission(t *testing.T) {
	h := setupHarness(t, 3)
	id, err := h.p.OpenBatch(h.admin.Address)
	require.NoError(t, err)

	key := h.keys.Keyholder.PublicKey()
	for i, provider := range h.providers {
		batchID, err := h.p.RecordSubmission(provider.Address,
			testutil.MustEncrypt(t, key, uint64(i)), testutil.MustEncrypt(t, key, uint64(10*i)))
		require.NoError(t, err)
		require.Equal(t, id, batchID)

		ev := h.events.Last()
		require.Equal(t, EventSubmissionRecorded, ev.Kind)
		require.Equal(t, provider.Address, ev.Actor)
		require.Equal(t, id, ev.BatchID)
		require.Equal(t, uint64(i+1), ev.SubmissionCount)
	}

	b, err := h.p.Batch(id)
	require.NoError(t, err)
	require.Equal(t, uint64(len(h.providers)), b.SubmissionCount)
	require.Len(t, b.Providers(), len(h.providers))
	for _, provider := range h.providers {
		require.True(t, b.SubmittedProviders[provider.Address])
	}
}

func TestDuplicateSubmission(t *testing.T) {
	h := setupHarness(t, 1)
	id, err := h.p.OpenBatch(h.admin.Address)
	require.NoError(t, err)

	require.NoError(t, h.submit(t, h.providers[0], 5, 10))
	condBefore, statusBefore, err := h.p.AggregateOf(id)
	require.NoError(t, err)

	h.clock.Advance(2 * testCooldown * time.Second)
	require.ErrorIs(t, h.submit(t, h.providers[0], 5, 10), ErrDuplicateSubmission)

	b, err := h.p.Batch(id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), b.SubmissionCount)

	condAfter, statusAfter, err := h.p.AggregateOf(id)
	require.NoError(t, err)
	require.Equal(t, condBefore, condAfter)
	require.Equal(t, statusBefore, statusAfter)
}

func TestSubmissionRequiresProvider(t *testing.T) {
	h := setupHarness(t, 0)
	_, err := h.p.OpenBatch(h.admin.Address)
	require.NoError(t, err)

	require.ErrorIs(t, h.submit(t, h.admin, 1, 1), ErrUnauthorized)
	require.ErrorIs(t, h.submit(t, testutil.NewActor(t), 1, 1), ErrUnauthorized)
}

func TestSubmissionRequiresOpenBatch(t *testing.T) {
	h := setupHarness(t, 1)
	require.ErrorIs(t, h.submit(t, h.providers[0], 1, 1), ErrBatchNotOpen)

	id, err := h.p.OpenBatch(h.admin.Address)
	require.NoError(t, err)
	_, err = h.p.CloseBatch(h.admin.Address, id)
	require.NoError(t, err)
	require.ErrorIs(t, h.submit(t, h.providers[0], 1, 1), ErrBatchNotOpen)
}

func TestSubmissionRejectsMissingValues(t *testing.T) {
	h := setupHarness(t, 1)
	_, err := h.p.OpenBatch(h.admin.Address)
	require.NoError(t, err)

	ct := testutil.MustEncrypt(t, h.keys.Keyholder.PublicKey(), 1)
	_, err = h.p.RecordSubmission(h.providers[0].Address, ct, nil)
	require.Error(t, err)
	require.False(t, IsProtocolError(err))
	require.Equal(t, "internal", ErrorCode(err))

	// The failed attempt consumed neither the cooldown nor the slot.
	require.NoError(t, h.submit(t, h.providers[0], 1, 1))
}

func TestSubmissionCooldown(t *testing.T) {
	h := setupHarness(t, 1)
	provider := h.providers[0]

	h.closedBatch(t, [2]uint64{1, 1})
	_, err := h.p.OpenBatch(h.admin.Address)
	require.NoError(t, err)

	h.clock.Advance((testCooldown - 1) * time.Second)
	require.ErrorIs(t, h.submit(t, provider, 1, 1), ErrCooldownActive)
	require.Equal(t, time.Second, h.p.CooldownRemaining(provider.Address, ActionSubmission))

	h.clock.Advance(time.Second)
	require.NoError(t, h.submit(t, provider, 1, 1))
}

func TestAggregateOfUninitialized(t *testing.T) {
	h := setupHarness(t, 0)
	id, err := h.p.OpenBatch(h.admin.Address)
	require.NoError(t, err)

	_, _, err = h.p.AggregateOf(id)
	require.ErrorIs(t, err, ErrUninitialized)

	_, _, err = h.p.AggregateOf(id + 1)
	require.ErrorIs(t, err, ErrInvalidBatch)
}

func TestAggregateAccumulates(t *testing.T) {
	h := setupHarness(t, 3)
	id := h.closedBatch(t, [2]uint64{1, 100}, [2]uint64{2, 200}, [2]uint64{3, 300})

	condition, status, err := h.p.AggregateOf(id)
	require.NoError(t, err)

	for handle, want := range map[[32]byte]uint64{condition: 6, status: 600} {
		ct, err := h.store.Get(handle)
		require.NoError(t, err)
		got, err := h.keys.Keyholder.Decrypt(ct)
		require.NoError(t, err)
		require.Equal(t, want, got.Uint64())
	}
}
