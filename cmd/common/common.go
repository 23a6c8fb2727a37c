// Package common provides configuration and key handling shared by the
// sealbatch commands.
//
// It covers:
//
//   - The YAML node configuration and its defaults
//   - Loading or generating the administrator, exchange and quorum keys
//   - Translating the configuration into protocol, oracle and HTTP settings
package common

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/sealbatch/api/httpserver"
	"github.com/flashbots/sealbatch/crypto"
	"github.com/flashbots/sealbatch/oracle"
	"github.com/flashbots/sealbatch/protocol"
	"github.com/flashbots/sealbatch/services"
	"gopkg.in/yaml.v3"
)

// Quorum signature schemes.
const (
	SchemeEd25519 = "ed25519"
	SchemeBLS     = "bls"
)

// Config is the configuration file of a sealbatch node.
type Config struct {
	Protocol ProtocolConfig `yaml:"protocol"`
	HTTP     HTTPConfig     `yaml:"http"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`

	// Postgres enables the PostgreSQL audit store. Nil keeps the audit
	// journal in memory.
	Postgres *services.PostgresConfig `yaml:"postgres,omitempty"`
}

// ProtocolConfig holds the initial protocol parameters. Addresses are hex.
type ProtocolConfig struct {
	Identity         string `yaml:"identity"`
	Administrator    string `yaml:"administrator"`
	CooldownSeconds  uint64 `yaml:"cooldown_seconds"`
	CallbackSelector string `yaml:"callback_selector"`
}

// HTTPConfig configures the API and metrics listeners.
type HTTPConfig struct {
	ListenAddr               string        `yaml:"listen_addr"`
	MetricsAddr              string        `yaml:"metrics_addr"`
	MetricsNamespace         string        `yaml:"metrics_namespace"`
	EnablePprof              bool          `yaml:"enable_pprof"`
	AllowedOrigins           []string      `yaml:"allowed_origins"`
	DrainDuration            time.Duration `yaml:"drain_duration"`
	GracefulShutdownDuration time.Duration `yaml:"graceful_shutdown_duration"`
	ReadTimeout              time.Duration `yaml:"read_timeout"`
	WriteTimeout             time.Duration `yaml:"write_timeout"`
}

// OracleConfig configures the in-process oracle and its signing quorum.
type OracleConfig struct {
	QueueSize int           `yaml:"queue_size"`
	Delay     time.Duration `yaml:"delay"`

	// ExchangeKey is the hex X25519 private key. Empty generates one,
	// which makes earlier ciphertexts undecryptable after a restart.
	ExchangeKey string `yaml:"exchange_key"`

	Quorum QuorumConfig `yaml:"quorum"`
}

// QuorumConfig lists the quorum members and the keys this node signs with.
type QuorumConfig struct {
	Scheme    string `yaml:"scheme"`
	Threshold int    `yaml:"threshold"`

	// Members are hex public keys in quorum order.
	Members []string `yaml:"members"`

	// SigningKeys are hex private keys of members held by this node. Each
	// must match one of Members.
	SigningKeys []string `yaml:"signing_keys"`
}

// StorageConfig selects the Pebble data directory. An empty path keeps
// state in memory.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns a configuration for a local single-node setup.
// Protocol identity and administrator still have to be provided.
func DefaultConfig() *Config {
	oracleDefaults := oracle.DefaultConfig()
	return &Config{
		Protocol: ProtocolConfig{
			CooldownSeconds:  60,
			CallbackSelector: protocol.DefaultCallbackSelector,
		},
		HTTP: HTTPConfig{
			ListenAddr:               ":8080",
			MetricsNamespace:         httpserver.DefaultMetricsNamespace,
			DrainDuration:            5 * time.Second,
			GracefulShutdownDuration: 10 * time.Second,
			ReadTimeout:              30 * time.Second,
			WriteTimeout:             30 * time.Second,
		},
		Oracle: OracleConfig{
			QueueSize: oracleDefaults.QueueSize,
			Delay:     oracleDefaults.Delay,
			Quorum: QuorumConfig{
				Scheme: SchemeEd25519,
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields a node cannot start without.
func (c *Config) Validate() error {
	if _, err := c.ProtocolConfig(); err != nil {
		return err
	}
	if c.HTTP.ListenAddr == "" {
		return errors.New("http.listen_addr must be set")
	}
	if c.Oracle.QueueSize <= 0 {
		return fmt.Errorf("oracle.queue_size must be positive, got %d", c.Oracle.QueueSize)
	}
	switch c.Oracle.Quorum.Scheme {
	case SchemeEd25519, SchemeBLS:
	default:
		return fmt.Errorf("unknown quorum scheme %q", c.Oracle.Quorum.Scheme)
	}
	if len(c.Oracle.Quorum.Members) > 0 {
		if c.Oracle.Quorum.Threshold <= 0 || c.Oracle.Quorum.Threshold > len(c.Oracle.Quorum.Members) {
			return fmt.Errorf("quorum threshold %d out of range for %d members",
				c.Oracle.Quorum.Threshold, len(c.Oracle.Quorum.Members))
		}
		if len(c.Oracle.Quorum.SigningKeys) == 0 {
			return errors.New("oracle.quorum.signing_keys must be set when members are configured")
		}
	}
	if _, err := slogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ProtocolConfig converts the protocol section.
func (c *Config) ProtocolConfig() (*protocol.Config, error) {
	identity, err := ParseAddress(c.Protocol.Identity)
	if err != nil {
		return nil, fmt.Errorf("protocol.identity: %w", err)
	}
	admin, err := ParseAddress(c.Protocol.Administrator)
	if err != nil {
		return nil, fmt.Errorf("protocol.administrator: %w", err)
	}

	cfg := &protocol.Config{
		Identity:         identity,
		Administrator:    admin,
		CooldownSeconds:  c.Protocol.CooldownSeconds,
		CallbackSelector: c.Protocol.CallbackSelector,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OracleWorkerConfig converts the oracle section.
func (c *Config) OracleWorkerConfig() *oracle.Config {
	return &oracle.Config{QueueSize: c.Oracle.QueueSize, Delay: c.Oracle.Delay}
}

// HTTPServerConfig converts the http section.
func (c *Config) HTTPServerConfig(log *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               c.HTTP.ListenAddr,
		MetricsAddr:              c.HTTP.MetricsAddr,
		MetricsNamespace:         c.HTTP.MetricsNamespace,
		EnablePprof:              c.HTTP.EnablePprof,
		AllowedOrigins:           c.HTTP.AllowedOrigins,
		Log:                      log,
		DrainDuration:            c.HTTP.DrainDuration,
		GracefulShutdownDuration: c.HTTP.GracefulShutdownDuration,
		ReadTimeout:              c.HTTP.ReadTimeout,
		WriteTimeout:             c.HTTP.WriteTimeout,
	}
}

// NewLogger builds the process logger.
func NewLogger(cfg *LogConfig) (*slog.Logger, error) {
	level, err := slogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func slogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// ParseAddress decodes a hex account address, rejecting the zero address.
func ParseAddress(s string) (gethcommon.Address, error) {
	if !gethcommon.IsHexAddress(s) {
		return gethcommon.Address{}, fmt.Errorf("invalid address %q", s)
	}
	addr := gethcommon.HexToAddress(s)
	if addr == (gethcommon.Address{}) {
		return addr, errors.New("zero address")
	}
	return addr, nil
}

// LoadOrGenerateActorKey loads a secp256k1 key from a hex string, or
// generates one if hexKey is empty.
func LoadOrGenerateActorKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey != "" {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid secp256k1 key: %w", err)
		}
		return key, nil
	}
	return ethcrypto.GenerateKey()
}

// LoadOrGenerateKeyholder loads the oracle's X25519 exchange key from a hex
// string, or generates one if hexKey is empty.
func LoadOrGenerateKeyholder(hexKey string) (*crypto.Keyholder, error) {
	if hexKey != "" {
		raw, err := crypto.ParseKemKey(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid exchange key: %w", err)
		}
		return crypto.NewKeyholder(crypto.KemPrivateKey(raw)), nil
	}
	return crypto.GenerateKeyholder()
}

// BuildQuorum returns the signer for the held keys and the verifier for the
// full membership. With no members configured a single fresh key forms a
// 1-of-1 quorum of the configured scheme.
func BuildQuorum(cfg *QuorumConfig) (crypto.DigestSigner, crypto.DigestVerifier, error) {
	switch cfg.Scheme {
	case SchemeEd25519, "":
		return buildEd25519Quorum(cfg)
	case SchemeBLS:
		return buildBLSQuorum(cfg)
	default:
		return nil, nil, fmt.Errorf("unknown quorum scheme %q", cfg.Scheme)
	}
}

func buildEd25519Quorum(cfg *QuorumConfig) (crypto.DigestSigner, crypto.DigestVerifier, error) {
	if len(cfg.Members) == 0 {
		pub, priv, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, nil, err
		}
		quorum, err := crypto.NewEd25519Quorum([]crypto.PublicKey{pub}, 1)
		if err != nil {
			return nil, nil, err
		}
		return &crypto.Ed25519QuorumSigner{Keys: map[uint16]crypto.PrivateKey{0: priv}}, quorum, nil
	}

	members := make([]crypto.PublicKey, len(cfg.Members))
	for i, m := range cfg.Members {
		pk, err := crypto.NewPublicKeyFromString(m)
		if err != nil {
			return nil, nil, fmt.Errorf("quorum member %d: %w", i, err)
		}
		members[i] = pk
	}

	signer := &crypto.Ed25519QuorumSigner{Keys: make(map[uint16]crypto.PrivateKey)}
	for i, k := range cfg.SigningKeys {
		sk, err := crypto.NewPrivateKeyFromString(k)
		if err != nil {
			return nil, nil, fmt.Errorf("signing key %d: %w", i, err)
		}
		pub, err := sk.PublicKey()
		if err != nil {
			return nil, nil, err
		}
		idx := -1
		for j, m := range members {
			if m.Equal(pub) {
				idx = j
				break
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("signing key %d is not a quorum member", i)
		}
		signer.Keys[uint16(idx)] = sk
	}

	quorum, err := crypto.NewEd25519Quorum(members, cfg.Threshold)
	if err != nil {
		return nil, nil, err
	}
	return signer, quorum, nil
}

func buildBLSQuorum(cfg *QuorumConfig) (crypto.DigestSigner, crypto.DigestVerifier, error) {
	if len(cfg.Members) == 0 {
		key, err := crypto.GenerateBLSKey()
		if err != nil {
			return nil, nil, err
		}
		quorum, err := crypto.NewBLSQuorum([][]byte{key.PublicKeyBytes()}, 1)
		if err != nil {
			return nil, nil, err
		}
		return &crypto.BLSQuorumSigner{Size: 1, Keys: map[int]*crypto.BLSKeyPair{0: key}}, quorum, nil
	}

	members := make([][]byte, len(cfg.Members))
	for i, m := range cfg.Members {
		raw, err := hex.DecodeString(strings.TrimPrefix(m, "0x"))
		if err != nil {
			return nil, nil, fmt.Errorf("quorum member %d: %w", i, err)
		}
		members[i] = raw
	}

	signer := &crypto.BLSQuorumSigner{Size: len(members), Keys: make(map[int]*crypto.BLSKeyPair)}
	for i, k := range cfg.SigningKeys {
		raw, err := hex.DecodeString(strings.TrimPrefix(k, "0x"))
		if err != nil {
			return nil, nil, fmt.Errorf("signing key %d: %w", i, err)
		}
		key, err := crypto.BLSKeyFromBytes(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("signing key %d: %w", i, err)
		}
		idx := -1
		for j, m := range members {
			if string(m) == string(key.PublicKeyBytes()) {
				idx = j
				break
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("signing key %d is not a quorum member", i)
		}
		signer.Keys[idx] = key
	}

	quorum, err := crypto.NewBLSQuorum(members, cfg.Threshold)
	if err != nil {
		return nil, nil, err
	}
	return signer, quorum, nil
}
