package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/flashbots/sealbatch/crypto"
	"github.com/flashbots/sealbatch/protocol"
	"github.com/flashbots/sealbatch/testutil"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetDelete(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.Get([]byte("missing"))
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.Set([]byte("k"), []byte("v")))
	got, err = s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	require.NoError(t, s.Delete([]byte("k")))
	got, err = s.Get([]byte("k"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestIteratePrefix(t *testing.T) {
	s := newTestStorage(t)
	for _, k := range []string{"a/1", "a/2", "a0", "b/1"} {
		require.NoError(t, s.Set([]byte(k), []byte(k)))
	}

	var keys []string
	require.NoError(t, s.IteratePrefix([]byte("a/"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	}))
	require.Equal(t, []string{"a/1", "a/2"}, keys)

	stop := errors.New("stop")
	err := s.IteratePrefix([]byte("a"), func(_, _ []byte) error { return stop })
	require.ErrorIs(t, err, stop)
}

func TestPrefixUpperBound(t *testing.T) {
	require.Equal(t, []byte("b"), prefixUpperBound([]byte("a")))
	require.Equal(t, []byte{0x01}, prefixUpperBound([]byte{0x00, 0xff}))
	require.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}

func TestStorageSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Set([]byte("k"), []byte("v")))
	require.NoError(t, s.SetSync([]byte("synced"), []byte("w")))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
	got, err = s.Get([]byte("synced"))
	require.NoError(t, err)
	require.Equal(t, []byte("w"), got)
}

func TestCiphertextStore(t *testing.T) {
	store := NewCiphertextStore(newTestStorage(t))
	keyholder, err := crypto.GenerateKeyholder()
	require.NoError(t, err)

	a := testutil.MustEncrypt(t, keyholder.PublicKey(), 5)
	b := testutil.MustEncrypt(t, keyholder.PublicKey(), 7)
	sum, err := crypto.AddCiphertexts(a, b)
	require.NoError(t, err)

	handle, err := store.Put(sum)
	require.NoError(t, err)

	got, err := store.Get(handle)
	require.NoError(t, err)
	gotHandle, err := got.Handle()
	require.NoError(t, err)
	require.Equal(t, handle, gotHandle)

	value, err := keyholder.Decrypt(got)
	require.NoError(t, err)
	require.Equal(t, uint64(12), value.Uint64())

	_, err = store.Get([32]byte{9})
	require.ErrorIs(t, err, crypto.ErrCiphertextNotFound)

	n, err := store.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = store.Put(sum)
	require.NoError(t, err)
	require.NoError(t, store.Release(handle))
	_, err = store.Get(handle)
	require.NoError(t, err)

	require.NoError(t, store.Release(handle))
	_, err = store.Get(handle)
	require.ErrorIs(t, err, crypto.ErrCiphertextNotFound)
	n, err = store.Count()
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.ErrorIs(t, store.Release(handle), crypto.ErrCiphertextNotFound)
}

func TestSnapshotStoreBacksProtocol(t *testing.T) {
	db := newTestStorage(t)
	ciphertexts := NewCiphertextStore(db)
	backend := protocol.NewMaskedBackend(ciphertexts)
	keys := testutil.NewOracleKeys(t)
	admin := testutil.NewActor(t)
	provider := testutil.NewActor(t)
	identity := testutil.RandomAddress(t)
	snapshots := NewSnapshotStore(db, identity)

	loaded, err := snapshots.Load()
	require.NoError(t, err)
	require.Nil(t, loaded)

	deps := protocol.Deps{
		Backend:    backend,
		Verifier:   &protocol.QuorumVerifier{Identity: identity, Quorum: keys.Quorum},
		Dispatcher: dispatchFunc(func(*protocol.DecryptionRequest) error { return nil }),
		Persister:  snapshots,
	}
	p, err := protocol.New(&protocol.Config{Identity: identity, Administrator: admin.Address, CooldownSeconds: 1}, deps)
	require.NoError(t, err)

	require.NoError(t, p.AddProvider(admin.Address, provider.Address))
	id, err := p.OpenBatch(admin.Address)
	require.NoError(t, err)
	_, err = p.RecordSubmission(provider.Address,
		testutil.MustEncrypt(t, keys.Keyholder.PublicKey(), 5),
		testutil.MustEncrypt(t, keys.Keyholder.PublicKey(), 10))
	require.NoError(t, err)

	loaded, err = snapshots.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)

	restored, err := protocol.NewFromSnapshot(loaded, backend, deps)
	require.NoError(t, err)
	b, err := restored.Batch(id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), b.SubmissionCount)

	condition, _, err := restored.AggregateOf(id)
	require.NoError(t, err)
	ct, err := ciphertexts.Get(condition)
	require.NoError(t, err)
	value, err := keys.Keyholder.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, uint64(5), value.Uint64())

	other := NewSnapshotStore(db, testutil.RandomAddress(t))
	require.Error(t, other.Persist(loaded))
}

func TestNonceStore(t *testing.T) {
	nonces := NewNonceStore(newTestStorage(t))
	signer := testutil.RandomAddress(t)

	require.NoError(t, nonces.Advance(signer, 1))
	require.ErrorIs(t, nonces.Advance(signer, 1), protocol.ErrStaleNonce)
	require.ErrorIs(t, nonces.Advance(signer, 0), protocol.ErrStaleNonce)
	require.NoError(t, nonces.Advance(signer, 5))
	require.ErrorIs(t, nonces.Advance(signer, 3), protocol.ErrStaleNonce)

	require.NoError(t, nonces.Advance(testutil.RandomAddress(t), 1))
}

type dispatchFunc func(*protocol.DecryptionRequest) error

func (f dispatchFunc) Dispatch(req *protocol.DecryptionRequest) error {
	return f(req)
}
