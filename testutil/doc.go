/*
Package testutil provides fixtures for sealbatch tests.

# Clock

FakeClock implements the protocol Clock and only moves when told to:

	clock := testutil.NewFakeClock(time.Unix(1_700_000_000, 0))
	clock.Advance(time.Minute)

# Actors

Actors are secp256k1 keys with their derived address, the identity the
protocol sees for administrators and providers:

	admin := testutil.NewActor(t)
	providers := testutil.NewActors(t, 3)

# Oracle keys

OracleKeys bundles the exchange key ciphertexts are encrypted to and an
Ed25519 signing quorum:

	keys := testutil.NewOracleKeys(t, testutil.WithQuorum(3, 2))
	ct := testutil.MustEncrypt(t, keys.Keyholder.PublicKey(), 5)
*/
package testutil
