package testutil

import (
	"crypto/ecdsa"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/sealbatch/crypto"
	"github.com/stretchr/testify/require"
)

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock stopped at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the clock's current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Actor is a secp256k1 key and the address it controls.
type Actor struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// GenerateTestActor creates an actor with a fresh key.
func GenerateTestActor() (*Actor, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Actor{Key: key, Address: ethcrypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewActor creates an actor or fails the test.
func NewActor(t testing.TB) *Actor {
	t.Helper()
	a, err := GenerateTestActor()
	require.NoError(t, err)
	return a
}

// NewActors creates count actors.
func NewActors(t testing.TB, count int) []*Actor {
	t.Helper()
	actors := make([]*Actor, count)
	for i := range actors {
		actors[i] = NewActor(t)
	}
	return actors
}

// RandomAddress returns an address nobody holds a key for.
func RandomAddress(t testing.TB) common.Address {
	t.Helper()
	raw, err := GenerateRandomBytes(common.AddressLength)
	require.NoError(t, err)
	return common.BytesToAddress(raw)
}

// GenerateRandomBytes returns length random bytes.
func GenerateRandomBytes(length int) ([]byte, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// OracleKeys are the oracle's exchange key and an Ed25519 signing quorum.
type OracleKeys struct {
	Keyholder *crypto.Keyholder
	Quorum    *crypto.Ed25519Quorum
	Members   []crypto.PrivateKey
	Signer    *crypto.Ed25519QuorumSigner
}

type oracleKeysConfig struct {
	members   int
	threshold int
}

// OracleKeysOption customizes NewOracleKeys.
type OracleKeysOption func(*oracleKeysConfig)

// WithQuorum sets the quorum size and threshold. The signer holds exactly
// threshold keys.
func WithQuorum(members, threshold int) OracleKeysOption {
	return func(c *oracleKeysConfig) {
		c.members = members
		c.threshold = threshold
	}
}

// NewOracleKeys generates oracle keys, a single-member quorum by default.
func NewOracleKeys(t testing.TB, options ...OracleKeysOption) *OracleKeys {
	t.Helper()
	cfg := &oracleKeysConfig{members: 1, threshold: 1}
	for _, opt := range options {
		opt(cfg)
	}

	keyholder, err := crypto.GenerateKeyholder()
	require.NoError(t, err)

	pubs := make([]crypto.PublicKey, cfg.members)
	privs := make([]crypto.PrivateKey, cfg.members)
	for i := range pubs {
		pubs[i], privs[i], err = crypto.GenerateKeyPair()
		require.NoError(t, err)
	}
	quorum, err := crypto.NewEd25519Quorum(pubs, cfg.threshold)
	require.NoError(t, err)

	signer := &crypto.Ed25519QuorumSigner{Keys: make(map[uint16]crypto.PrivateKey)}
	for i := 0; i < cfg.threshold; i++ {
		signer.Keys[uint16(i)] = privs[i]
	}

	return &OracleKeys{Keyholder: keyholder, Quorum: quorum, Members: privs, Signer: signer}
}

// MustEncrypt encrypts value or fails the test.
func MustEncrypt(t testing.TB, key crypto.KemPublicKey, value uint64) *crypto.MaskedCiphertext {
	t.Helper()
	ct, err := crypto.EncryptUint64(key, value)
	require.NoError(t, err)
	return ct
}
