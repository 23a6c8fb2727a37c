package protocol

import (
	"testing"

	"github.com/flashbots/sealbatch/testutil"
	"github.com/stretchr/testify/require"
)

func TestSignedMessage(t *testing.T) {
	admin := testutil.NewActor(t)
	identity := testutil.RandomAddress(t)
	batch := uint64(3)

	signed, err := NewSigned(admin.Key, identity, &AdminCommand{Command: CommandCloseBatch, Nonce: 1, BatchID: batch})
	require.NoError(t, err)
	require.Equal(t, admin.Address, signed.Signer)

	raw, err := SerializeMessage(signed)
	require.NoError(t, err)
	decoded, err := UnmarshalMessage[Signed[AdminCommand]](raw)
	require.NoError(t, err)

	cmd, signer, err := decoded.Recover(identity)
	require.NoError(t, err)
	require.Equal(t, admin.Address, signer)
	require.Equal(t, CommandCloseBatch, cmd.Command)
	require.Equal(t, batch, cmd.BatchID)

	t.Run("tampered object", func(t *testing.T) {
		tampered, err := UnmarshalMessage[Signed[AdminCommand]](raw)
		require.NoError(t, err)
		tampered.Object.BatchID = 4
		_, _, err = tampered.Recover(identity)
		require.Error(t, err)
	})

	t.Run("claimed signer", func(t *testing.T) {
		tampered, err := UnmarshalMessage[Signed[AdminCommand]](raw)
		require.NoError(t, err)
		tampered.Signer = testutil.NewActor(t).Address
		_, _, err = tampered.Recover(identity)
		require.Error(t, err)
	})

	t.Run("truncated signature", func(t *testing.T) {
		tampered, err := UnmarshalMessage[Signed[AdminCommand]](raw)
		require.NoError(t, err)
		tampered.Signature = tampered.Signature[:10]
		_, _, err = tampered.Recover(identity)
		require.Error(t, err)
	})

	t.Run("other instance", func(t *testing.T) {
		_, _, err := decoded.Recover(testutil.RandomAddress(t))
		require.Error(t, err)
	})

	t.Run("missing object", func(t *testing.T) {
		_, _, err := (&Signed[AdminCommand]{Signer: admin.Address}).Recover(identity)
		require.Error(t, err)
	})
}
