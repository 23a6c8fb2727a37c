package services

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/sealbatch/crypto"
	"github.com/flashbots/sealbatch/protocol"
	"go.uber.org/atomic"
)

// Client calls a sealbatch service as one actor. Every signed request
// carries a fresh nonce and is bound to the service's protocol identity.
type Client struct {
	baseURL    string
	key        *ecdsa.PrivateKey
	httpClient *http.Client
	nonce      atomic.Uint64
	identity   atomic.Pointer[common.Address]
}

// NewClient creates a client that signs with key. Nonces start at the
// current time in nanoseconds so that a restarted client stays ahead of
// the nonces it used before.
func NewClient(baseURL string, key *ecdsa.PrivateKey) *Client {
	c := &Client{
		baseURL:    baseURL,
		key:        key,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	c.nonce.Store(uint64(time.Now().UnixNano()))
	return c
}

// Address is the actor the client signs as.
func (c *Client) Address() common.Address {
	return ethcrypto.PubkeyToAddress(c.key.PublicKey)
}

// Identity returns the protocol instance the service runs. It is read from
// the public state once and cached.
func (c *Client) Identity(ctx context.Context) (common.Address, error) {
	if id := c.identity.Load(); id != nil {
		return *id, nil
	}
	state, err := c.State(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("fetching protocol identity: %w", err)
	}
	c.identity.Store(&state.Identity)
	return state.Identity, nil
}

// Admin signs and sends an admin command. The nonce is filled in.
func (c *Client) Admin(ctx context.Context, cmd *protocol.AdminCommand) (*AdminResponse, error) {
	identity, err := c.Identity(ctx)
	if err != nil {
		return nil, err
	}
	cmd.Nonce = c.nonce.Inc()
	signed, err := protocol.NewSigned(c.key, identity, cmd)
	if err != nil {
		return nil, err
	}
	var resp AdminResponse
	if err := c.do(ctx, http.MethodPost, "/admin/"+cmd.Command, signed, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit signs and sends a provider submission.
func (c *Client) Submit(ctx context.Context, condition, status *crypto.MaskedCiphertext) (*SubmissionResponse, error) {
	identity, err := c.Identity(ctx)
	if err != nil {
		return nil, err
	}
	condRaw, err := json.Marshal(condition)
	if err != nil {
		return nil, err
	}
	statusRaw, err := json.Marshal(status)
	if err != nil {
		return nil, err
	}

	signed, err := protocol.NewSigned(c.key, identity, &protocol.SubmissionMessage{
		Nonce:     c.nonce.Inc(),
		Condition: condRaw,
		Status:    statusRaw,
	})
	if err != nil {
		return nil, err
	}
	var resp SubmissionResponse
	if err := c.do(ctx, http.MethodPost, "/submissions", signed, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// State fetches the public state.
func (c *Client) State(ctx context.Context) (*StateResponse, error) {
	var resp StateResponse
	return &resp, c.do(ctx, http.MethodGet, "/state", nil, &resp)
}

// Batch fetches one batch.
func (c *Client) Batch(ctx context.Context, id uint64) (*BatchResponse, error) {
	var resp BatchResponse
	return &resp, c.do(ctx, http.MethodGet, fmt.Sprintf("/batches/%d", id), nil, &resp)
}

// Request fetches one decryption request.
func (c *Client) Request(ctx context.Context, id uint64) (*RequestResponse, error) {
	var resp RequestResponse
	return &resp, c.do(ctx, http.MethodGet, fmt.Sprintf("/requests/%d", id), nil, &resp)
}

// OracleKey fetches the key submissions must be masked to.
func (c *Client) OracleKey(ctx context.Context) (crypto.KemPublicKey, error) {
	var resp OracleKeyResponse
	err := c.do(ctx, http.MethodGet, "/oracle/key", nil, &resp)
	return resp.PublicKey, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return errorFromResponse(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
