package crypto

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"
)

func FuzzSignVerify(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("hello"))
	f.Add(make([]byte, 1000))

	f.Fuzz(func(t *testing.T, data []byte) {
		pubKey, privKey, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("failed to generate key pair: %v", err)
		}

		signature, err := Sign(privKey, data)
		if err != nil {
			t.Fatalf("signing failed: %v", err)
		}
		if len(signature) != 64 {
			t.Errorf("signature wrong length: got %d, want 64", len(signature))
		}
		if !signature.Verify(pubKey, data) {
			t.Error("signature verification failed with correct key")
		}

		wrongPubKey, _, _ := GenerateKeyPair()
		if signature.Verify(wrongPubKey, data) {
			t.Error("signature should not verify with wrong public key")
		}

		modifiedSig := NewSignature(signature)
		modifiedSig[0] ^= 0xFF
		if modifiedSig.Verify(pubKey, data) {
			t.Error("modified signature should not verify")
		}

		signature2, _ := Sign(privKey, data)
		if !bytes.Equal(signature, signature2) {
			t.Error("signing is not deterministic")
		}
	})
}

func FuzzMaskedSum(f *testing.F) {
	f.Add(uint64(0), uint64(0))
	f.Add(uint64(5), uint64(7))
	f.Add(^uint64(0), ^uint64(0))

	keyholder, err := GenerateKeyholder()
	if err != nil {
		f.Fatal(err)
	}

	f.Fuzz(func(t *testing.T, a, b uint64) {
		ctA, err := EncryptUint64(keyholder.PublicKey(), a)
		if err != nil {
			t.Fatal(err)
		}
		ctB, err := EncryptUint64(keyholder.PublicKey(), b)
		if err != nil {
			t.Fatal(err)
		}

		sum, err := AddCiphertexts(ctA, ctB)
		if err != nil {
			t.Fatal(err)
		}

		got, err := keyholder.Decrypt(sum)
		if err != nil {
			t.Fatal(err)
		}
		want := new(uint256.Int).Add(uint256.NewInt(a), uint256.NewInt(b))
		if !got.Eq(want) {
			t.Errorf("decrypted sum %s, want %s", got.Dec(), want.Dec())
		}
	})
}

func FuzzCiphertextDecoding(f *testing.F) {
	f.Add([]byte{})
	f.Add(make([]byte, 36))
	f.Add(make([]byte, 36+maskTermSize))

	f.Fuzz(func(t *testing.T, data []byte) {
		var ct MaskedCiphertext
		if err := ct.UnmarshalBinary(data); err != nil {
			return
		}
		encoded, err := ct.MarshalBinary()
		if err != nil {
			t.Fatalf("re-encoding decoded ciphertext: %v", err)
		}
		if !bytes.Equal(encoded, data) {
			t.Error("canonical encoding is not stable")
		}
	})
}
