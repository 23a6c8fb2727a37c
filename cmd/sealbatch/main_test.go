package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/flashbots/sealbatch/crypto"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestGenerateKey(t *testing.T) {
	for _, keyType := range []string{"secp256k1", "x25519", "ed25519", "bls"} {
		out, err := generateKey(keyType)
		require.NoError(t, err, keyType)
		require.NotEmpty(t, out.PrivateKey)
		require.NotEmpty(t, out.PublicKey)
	}

	out, err := generateKey("secp256k1")
	require.NoError(t, err)
	require.Len(t, out.Address, 42)

	_, err = generateKey("rsa")
	require.Error(t, err)
}

func TestParseValue(t *testing.T) {
	v, err := parseValue("42")
	require.NoError(t, err)
	require.Equal(t, uint64(42), v.Uint64())

	v, err = parseValue("0x10")
	require.NoError(t, err)
	require.Equal(t, uint64(16), v.Uint64())

	for _, bad := range []string{"", "-1", "ten"} {
		_, err := parseValue(bad)
		require.Error(t, err, bad)
	}
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := &cli.App{
		Name:     "sealbatch",
		Writer:   &out,
		Commands: []*cli.Command{keygenCommand(), encryptCommand(), adminCommand()},
	}
	err := app.Run(append([]string{"sealbatch"}, args...))
	return out.String(), err
}

func TestEncryptCommand(t *testing.T) {
	keyholder, err := crypto.GenerateKeyholder()
	require.NoError(t, err)

	out, err := runApp(t, "encrypt", "--oracle-key", keyholder.PublicKey().String(), "1234")
	require.NoError(t, err)

	var ct crypto.MaskedCiphertext
	require.NoError(t, json.Unmarshal([]byte(out), &ct))
	value, err := keyholder.Decrypt(&ct)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), value.Uint64())
}

func TestKeygenCommand(t *testing.T) {
	out, err := runApp(t, "keygen", "--type", "x25519")
	require.NoError(t, err)
	require.Contains(t, out, "type: x25519")
	require.Contains(t, out, "private_key:")
}

func TestAdminCommandValidation(t *testing.T) {
	key := "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	for _, args := range [][]string{
		{"admin", "--key", key},
		{"admin", "--key", key, "frobnicate"},
		{"admin", "--key", key, "add-provider"},
		{"admin", "--key", key, "close-batch"},
		{"admin", "--key", key, "set-cooldown"},
	} {
		_, err := runApp(t, args...)
		require.Error(t, err, args)
	}
}
