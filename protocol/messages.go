package protocol

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signed wraps a message with a secp256k1 signature by its sender.
// The signature covers the protocol identity the message is meant for, the
// serialized object and the signer address. The identity is not carried in
// the envelope: a message only verifies against the instance it was signed
// for.
type Signed[T any] struct {
	Signer    common.Address `json:"signer"`
	Signature hexutil.Bytes  `json:"signature"`
	Object    *T             `json:"object"`
}

// NewSigned signs obj with privkey for the protocol instance identity.
func NewSigned[T any](privkey *ecdsa.PrivateKey, identity common.Address, obj *T) (*Signed[T], error) {
	signer := ethcrypto.PubkeyToAddress(privkey.PublicKey)

	digest, err := signedDigest(identity, signer, obj)
	if err != nil {
		return nil, err
	}

	signature, err := ethcrypto.Sign(digest, privkey)
	if err != nil {
		return nil, err
	}

	return &Signed[T]{
		Signer:    signer,
		Signature: signature,
		Object:    obj,
	}, nil
}

// UnsafeObject returns the object without signature verification.
func (s *Signed[T]) UnsafeObject() *T {
	return s.Object
}

// Recover verifies the signature for the protocol instance identity and
// returns the object and its sender.
func (s *Signed[T]) Recover(identity common.Address) (*T, common.Address, error) {
	if s.Object == nil {
		return nil, common.Address{}, errors.New("signed message has no object")
	}
	if len(s.Signature) != ethcrypto.SignatureLength {
		return nil, common.Address{}, fmt.Errorf("signature is %d bytes, expected %d", len(s.Signature), ethcrypto.SignatureLength)
	}

	digest, err := signedDigest(identity, s.Signer, s.Object)
	if err != nil {
		return nil, common.Address{}, err
	}

	pub, err := ethcrypto.SigToPub(digest, s.Signature)
	if err != nil {
		return nil, common.Address{}, err
	}
	if ethcrypto.PubkeyToAddress(*pub) != s.Signer {
		return nil, common.Address{}, errors.New("signature not valid")
	}

	return s.Object, s.Signer, nil
}

func signedDigest[T any](identity, signer common.Address, obj *T) ([]byte, error) {
	serializedData, err := SerializeMessage(obj)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(identity[:], serializedData, signer[:]), nil
}

// ErrStaleNonce rejects a signed message whose nonce does not exceed the
// signer's previous one.
var ErrStaleNonce = errors.New("stale nonce")

// Admin command names accepted by the service.
const (
	CommandTransferAdministrator  = "transfer-administrator"
	CommandAddProvider            = "add-provider"
	CommandRemoveProvider         = "remove-provider"
	CommandSetPaused              = "set-paused"
	CommandSetCooldown            = "set-cooldown"
	CommandOpenBatch              = "open-batch"
	CommandCloseBatch             = "close-batch"
	CommandRequestBatchDecryption = "request-batch-decryption"
)

// AdminCommand is an administrative action signed by its caller.
// Nonce must exceed the caller's previous nonce.
type AdminCommand struct {
	Command         string          `json:"command"`
	Nonce           uint64          `json:"nonce"`
	Address         *common.Address `json:"address,omitempty"`
	Paused          *bool           `json:"paused,omitempty"`
	CooldownSeconds uint64          `json:"cooldown_seconds,omitempty"`
	BatchID         uint64          `json:"batch_id,omitempty"`
}

// SubmissionMessage carries a provider's two ciphertexts.
type SubmissionMessage struct {
	Nonce     uint64          `json:"nonce"`
	Condition json.RawMessage `json:"condition"`
	Status    json.RawMessage `json:"status"`
}

// CallbackMessage is the oracle's answer to a DecryptionRequest.
type CallbackMessage struct {
	RequestID  uint64        `json:"request_id"`
	Cleartexts hexutil.Bytes `json:"cleartexts"`
	Proof      hexutil.Bytes `json:"proof"`
}

// UnmarshalMessage deserializes a message from JSON bytes.
func UnmarshalMessage[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// DecodeMessage deserializes a message from a JSON reader.
func DecodeMessage[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}

// SerializeMessage serializes a message to JSON bytes.
func SerializeMessage[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}
