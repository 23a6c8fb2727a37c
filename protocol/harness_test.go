package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/sealbatch/crypto"
	"github.com/flashbots/sealbatch/testutil"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

const testCooldown = 60

var testStart = time.Unix(1_700_000_000, 0)

type recordingDispatcher struct {
	requests []*DecryptionRequest
	fail     error
}

func (d *recordingDispatcher) Dispatch(req *DecryptionRequest) error {
	if d.fail != nil {
		return d.fail
	}
	d.requests = append(d.requests, req)
	return nil
}

func (d *recordingDispatcher) last() *DecryptionRequest {
	if len(d.requests) == 0 {
		return nil
	}
	return d.requests[len(d.requests)-1]
}

type recordingPersister struct {
	snapshots []*Snapshot
	fail      error
}

func (p *recordingPersister) Persist(s *Snapshot) error {
	if p.fail != nil {
		return p.fail
	}
	p.snapshots = append(p.snapshots, s)
	return nil
}

type countingObserver struct {
	outcomes map[Operation][]error
}

func (o *countingObserver) ObserveOperation(op Operation, err error) {
	if o.outcomes == nil {
		o.outcomes = make(map[Operation][]error)
	}
	o.outcomes[op] = append(o.outcomes[op], err)
}

type harness struct {
	p          *Protocol
	identity   common.Address
	admin      *testutil.Actor
	providers  []*testutil.Actor
	clock      *testutil.FakeClock
	keys       *testutil.OracleKeys
	store      *crypto.MemoryCiphertextStore
	backend    *MaskedBackend
	dispatcher *recordingDispatcher
	events     *RecordingSink
	persister  *recordingPersister
	observer   *countingObserver
}

func setupHarness(t *testing.T, nProviders int) *harness {
	t.Helper()

	h := &harness{
		identity:   testutil.RandomAddress(t),
		admin:      testutil.NewActor(t),
		providers:  testutil.NewActors(t, nProviders),
		clock:      testutil.NewFakeClock(testStart),
		keys:       testutil.NewOracleKeys(t, testutil.WithQuorum(3, 2)),
		store:      crypto.NewMemoryCiphertextStore(),
		dispatcher: &recordingDispatcher{},
		events:     &RecordingSink{},
		persister:  &recordingPersister{},
		observer:   &countingObserver{},
	}
	h.backend = NewMaskedBackend(h.store)

	p, err := New(&Config{
		Identity:        h.identity,
		Administrator:   h.admin.Address,
		CooldownSeconds: testCooldown,
	}, h.deps())
	require.NoError(t, err)
	h.p = p

	for _, provider := range h.providers {
		require.NoError(t, p.AddProvider(h.admin.Address, provider.Address))
	}
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Backend:    h.backend,
		Verifier:   &QuorumVerifier{Identity: h.identity, Quorum: h.keys.Quorum},
		Dispatcher: h.dispatcher,
		Clock:      h.clock,
		Sinks:      []EventSink{h.events},
		Observers:  []Observer{h.observer},
		Persister:  h.persister,
	}
}

func (h *harness) submit(t *testing.T, provider *testutil.Actor, condition, status uint64) error {
	t.Helper()
	key := h.keys.Keyholder.PublicKey()
	_, err := h.p.RecordSubmission(provider.Address,
		testutil.MustEncrypt(t, key, condition),
		testutil.MustEncrypt(t, key, status))
	return err
}

// closedBatch opens a batch, submits one (condition, status) pair per entry
// and closes it.
func (h *harness) closedBatch(t *testing.T, values ...[2]uint64) uint64 {
	t.Helper()
	require.LessOrEqual(t, len(values), len(h.providers))

	id, err := h.p.OpenBatch(h.admin.Address)
	require.NoError(t, err)
	for i, v := range values {
		require.NoError(t, h.submit(t, h.providers[i], v[0], v[1]))
	}
	_, err = h.p.CloseBatch(h.admin.Address, id)
	require.NoError(t, err)
	return id
}

// answer plays the oracle: it decrypts the requested handles and signs the
// result with the quorum.
func (h *harness) answer(t *testing.T, req *DecryptionRequest) (cleartexts, proof []byte) {
	t.Helper()
	require.NotNil(t, req)
	require.Len(t, req.Handles, 2)

	totals := make([]*uint256.Int, 2)
	for i, handle := range req.Handles {
		ct, err := h.store.Get(handle)
		require.NoError(t, err)
		totals[i], err = h.keys.Keyholder.Decrypt(ct)
		require.NoError(t, err)
	}

	cleartexts = EncodeCleartexts(totals[0], totals[1])
	digest := DecryptionDigest(req.Protocol, req.RequestID, cleartexts)
	proof, err := h.keys.Signer.SignDigest(digest.Bytes())
	require.NoError(t, err)
	return cleartexts, proof
}

func (h *harness) sign(t *testing.T, requestID uint64, cleartexts []byte) []byte {
	t.Helper()
	digest := DecryptionDigest(h.identity, requestID, cleartexts)
	proof, err := h.keys.Signer.SignDigest(digest.Bytes())
	require.NoError(t, err)
	return proof
}

var errDispatchUnavailable = errors.New("oracle unavailable")
