// Package crypto provides the cryptographic primitives behind sealbatch.
//
//   - Ed25519 keys and signatures (PublicKey, PrivateKey, Signature)
//   - X25519 key agreement with HKDF expansion (kem.go)
//   - Additively masked 256-bit ciphertexts (MaskedCiphertext)
//   - Oracle quorum proofs over Ed25519 and BLS12-381 (quorum.go, bls.go)
//
// # Masked ciphertexts
//
// A value v encrypted to the oracle's exchange key K is stored as
//
//	Masked = v + pad mod 2^256, pad = HKDF(X25519(e, K), nonce)
//
// together with the ephemeral public key of e and the nonce. Sums of
// ciphertexts add the masked values and keep every term, so the oracle can
// remove all pads at once and recover the sum of the plaintexts without
// learning any single contribution. Ciphertexts are referenced by a
// 32-byte handle, the keccak256 of their canonical encoding.
//
// Note: the masking is not malleability resistant. Integrity of
// contributions relies on the caller authenticating submissions.
package crypto
