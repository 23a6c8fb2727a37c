// Command sealbatch runs a confidential batch-aggregation node and talks to
// one as an administrator or provider.
//
// # Configuration File
//
// The serve command reads a YAML file:
//
//	protocol:
//	  identity: "0x5e1ba7c4000000000000000000000000000000a1"
//	  administrator: "0x..."      # secp256k1 account of the administrator
//	  cooldown_seconds: 60
//	http:
//	  listen_addr: ":8080"
//	  metrics_addr: ":9090"     # empty disables the metrics listener
//	oracle:
//	  exchange_key: ""          # Hex X25519 key, generates if empty
//	  delay: 0s
//	  quorum:
//	    scheme: ed25519         # or bls
//	    threshold: 2
//	    members: ["...", "...", "..."]
//	    signing_keys: ["...", "..."]
//	storage:
//	  path: "./data"            # empty keeps state in memory
//	postgres:                   # optional audit store
//	  host: localhost
//	  port: 5432
//	  user: postgres
//	  password: postgres
//	  database: sealbatch
//
// # Usage
//
//	sealbatch keygen --type secp256k1
//	sealbatch serve --config=sealbatch.yaml
//	sealbatch admin --key=$ADMIN_KEY --address=0x... add-provider
//	sealbatch admin --key=$ADMIN_KEY open-batch
//	sealbatch submit --key=$PROVIDER_KEY --condition=5 --status=10
//	sealbatch admin --key=$ADMIN_KEY --batch=1 close-batch
//	sealbatch admin --key=$ADMIN_KEY --batch=1 request-batch-decryption
//	sealbatch show request 1
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/sealbatch/api/httpserver"
	"github.com/flashbots/sealbatch/cmd/common"
	"github.com/flashbots/sealbatch/crypto"
	"github.com/flashbots/sealbatch/metrics"
	"github.com/flashbots/sealbatch/protocol"
	"github.com/flashbots/sealbatch/services"
	"github.com/flashbots/sealbatch/storage"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var version = "dev"

var (
	urlFlag = &cli.StringFlag{
		Name:    "url",
		Value:   "http://localhost:8080",
		Usage:   "node API URL",
		EnvVars: []string{"SEALBATCH_URL"},
	}
	keyFlag = &cli.StringFlag{
		Name:     "key",
		Usage:    "secp256k1 private key of the acting account (hex)",
		EnvVars:  []string{"SEALBATCH_KEY"},
		Required: true,
	}
)

func main() {
	app := &cli.App{
		Name:    "sealbatch",
		Usage:   "aggregate encrypted provider submissions and decrypt only batch totals",
		Version: version,
		Commands: []*cli.Command{
			serveCommand(),
			keygenCommand(),
			encryptCommand(),
			adminCommand(),
			submitCommand(),
			showCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run a node with its API and in-process oracle",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to YAML config file", EnvVars: []string{"SEALBATCH_CONFIG"}},
			&cli.StringFlag{Name: "listen-addr", Usage: "override http.listen_addr"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "override http.metrics_addr"},
			&cli.StringFlag{Name: "data-dir", Usage: "override storage.path"},
			&cli.StringFlag{Name: "exchange-key", Usage: "override oracle.exchange_key", EnvVars: []string{"SEALBATCH_EXCHANGE_KEY"}},
		},
		Action: runServe,
	}
}

func loadServeConfig(cCtx *cli.Context) (*common.Config, error) {
	cfg := common.DefaultConfig()
	if path := cCtx.String("config"); path != "" {
		var err error
		cfg, err = common.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}

	// Command-line flags override config file
	if cCtx.IsSet("listen-addr") {
		cfg.HTTP.ListenAddr = cCtx.String("listen-addr")
	}
	if cCtx.IsSet("metrics-addr") {
		cfg.HTTP.MetricsAddr = cCtx.String("metrics-addr")
	}
	if cCtx.IsSet("data-dir") {
		cfg.Storage.Path = cCtx.String("data-dir")
	}
	if cCtx.IsSet("exchange-key") {
		cfg.Oracle.ExchangeKey = cCtx.String("exchange-key")
	}
	if cfg.HTTP.MetricsNamespace == "" {
		cfg.HTTP.MetricsNamespace = httpserver.DefaultMetricsNamespace
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func runServe(cCtx *cli.Context) error {
	cfg, err := loadServeConfig(cCtx)
	if err != nil {
		return err
	}
	log, err := common.NewLogger(&cfg.Log)
	if err != nil {
		return err
	}

	protocolCfg, err := cfg.ProtocolConfig()
	if err != nil {
		return err
	}
	keyholder, err := common.LoadOrGenerateKeyholder(cfg.Oracle.ExchangeKey)
	if err != nil {
		return err
	}
	if cfg.Oracle.ExchangeKey == "" {
		log.Warn("using a generated exchange key, ciphertexts will not survive a restart",
			"publicKey", keyholder.PublicKey().String())
	}
	signer, quorum, err := common.BuildQuorum(&cfg.Oracle.Quorum)
	if err != nil {
		return fmt.Errorf("building quorum: %w", err)
	}

	var db *storage.Storage
	if cfg.Storage.Path != "" {
		db, err = storage.New(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer db.Close()
	}

	var auditStore services.AuditStore
	if cfg.Postgres != nil {
		pg, err := services.NewPostgresStore(cfg.Postgres, protocolCfg.Identity)
		if err != nil {
			return err
		}
		defer pg.Close()
		auditStore = pg
	}

	metricsSrv, err := metrics.New(cfg.HTTP.MetricsNamespace, cfg.HTTP.MetricsAddr)
	if err != nil {
		return err
	}
	collector, err := metrics.NewCollector(metricsSrv.Namespace(), metricsSrv.Registry())
	if err != nil {
		return err
	}

	node, err := services.NewNode(&services.NodeConfig{
		Protocol:   protocolCfg,
		Oracle:     cfg.OracleWorkerConfig(),
		Keyholder:  keyholder,
		Signer:     signer,
		Quorum:     quorum,
		Storage:    db,
		AuditStore: auditStore,
		Sinks:      []protocol.EventSink{collector},
		Observers:  []protocol.Observer{collector},
		Log:        log,
	})
	if err != nil {
		return err
	}

	if err := registerOracleGauges(metricsSrv, node); err != nil {
		return err
	}

	httpCfg := cfg.HTTPServerConfig(log)
	httpCfg.Metrics = metricsSrv
	srv, err := httpserver.New(httpCfg, node)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cCtx.Context)
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	srv.RunInBackground()
	err = node.Run(ctx)

	log.Info("shutting down", "drain", cfg.HTTP.DrainDuration)
	time.Sleep(cfg.HTTP.DrainDuration)
	srv.Shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func registerOracleGauges(m *metrics.MetricsServer, node *services.Node) error {
	gauges := []struct {
		name, help string
		value      func() float64
	}{
		{"oracle_queue_depth", "Decryption requests waiting for the oracle.",
			func() float64 { return float64(node.Oracle.Stats().Pending) }},
		{"oracle_delivered", "Decryption results accepted since startup.",
			func() float64 { return float64(node.Oracle.Stats().Delivered) }},
		{"oracle_failed", "Decryption requests that could not be delivered since startup.",
			func() float64 { return float64(node.Oracle.Stats().Failed) }},
	}
	for _, g := range gauges {
		if err := metrics.RegisterGaugeFunc(m.Registry(), m.Namespace(), g.name, g.help, g.value); err != nil {
			return err
		}
	}
	return nil
}

type keyOutput struct {
	Type       string `yaml:"type"`
	PrivateKey string `yaml:"private_key"`
	PublicKey  string `yaml:"public_key"`
	Address    string `yaml:"address,omitempty"`
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "generate a key and print it as YAML",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Value: "secp256k1",
				Usage: "secp256k1 (accounts), x25519 (oracle exchange), ed25519 or bls (quorum members)",
			},
		},
		Action: func(cCtx *cli.Context) error {
			out, err := generateKey(cCtx.String("type"))
			if err != nil {
				return err
			}
			return yaml.NewEncoder(cCtx.App.Writer).Encode(out)
		},
	}
}

func generateKey(keyType string) (*keyOutput, error) {
	switch keyType {
	case "secp256k1":
		key, err := ethcrypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		return &keyOutput{
			Type:       keyType,
			PrivateKey: fmt.Sprintf("%x", ethcrypto.FromECDSA(key)),
			PublicKey:  fmt.Sprintf("%x", ethcrypto.CompressPubkey(&key.PublicKey)),
			Address:    ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		}, nil
	case "x25519":
		pub, priv, err := crypto.GenerateKemKeyPair()
		if err != nil {
			return nil, err
		}
		return &keyOutput{Type: keyType, PrivateKey: priv.String(), PublicKey: pub.String()}, nil
	case common.SchemeEd25519:
		pub, priv, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		return &keyOutput{Type: keyType, PrivateKey: priv.String(), PublicKey: pub.String()}, nil
	case common.SchemeBLS:
		key, err := crypto.GenerateBLSKey()
		if err != nil {
			return nil, err
		}
		return &keyOutput{
			Type:       keyType,
			PrivateKey: fmt.Sprintf("%x", key.SecretKeyBytes()),
			PublicKey:  fmt.Sprintf("%x", key.PublicKeyBytes()),
		}, nil
	default:
		return nil, fmt.Errorf("unknown key type %q", keyType)
	}
}

func encryptCommand() *cli.Command {
	return &cli.Command{
		Name:      "encrypt",
		Usage:     "mask a value to an oracle key and print the ciphertext JSON",
		ArgsUsage: "<value>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "oracle-key", Usage: "oracle X25519 public key (hex)", Required: true},
		},
		Action: func(cCtx *cli.Context) error {
			raw, err := crypto.ParseKemKey(cCtx.String("oracle-key"))
			if err != nil {
				return err
			}
			value, err := parseValue(cCtx.Args().First())
			if err != nil {
				return err
			}
			ct, err := crypto.Encrypt(crypto.KemPublicKey(raw), value)
			if err != nil {
				return err
			}
			return printJSON(cCtx, ct)
		},
	}
}

func parseValue(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, errors.New("value required")
	}
	if strings.HasPrefix(s, "0x") {
		return uint256.FromHex(s)
	}
	return uint256.FromDecimal(s)
}

func adminCommand() *cli.Command {
	return &cli.Command{
		Name:      "admin",
		Usage:     "send a signed administrative command",
		ArgsUsage: "<command>",
		Description: "Commands: " + strings.Join([]string{
			protocol.CommandTransferAdministrator, protocol.CommandAddProvider,
			protocol.CommandRemoveProvider, protocol.CommandSetPaused, protocol.CommandSetCooldown,
			protocol.CommandOpenBatch, protocol.CommandCloseBatch, protocol.CommandRequestBatchDecryption,
		}, ", "),
		Flags: []cli.Flag{
			urlFlag,
			keyFlag,
			&cli.StringFlag{Name: "address", Usage: "account for transfer-administrator, add-provider and remove-provider"},
			&cli.BoolFlag{Name: "paused", Usage: "value for set-paused"},
			&cli.Uint64Flag{Name: "cooldown", Usage: "seconds for set-cooldown"},
			&cli.Uint64Flag{Name: "batch", Usage: "batch id for close-batch and request-batch-decryption"},
		},
		Action: func(cCtx *cli.Context) error {
			cmd, err := buildAdminCommand(cCtx)
			if err != nil {
				return err
			}
			client, err := newClient(cCtx)
			if err != nil {
				return err
			}
			resp, err := client.Admin(cCtx.Context, cmd)
			if err != nil {
				return err
			}
			return printJSON(cCtx, resp)
		},
	}
}

func buildAdminCommand(cCtx *cli.Context) (*protocol.AdminCommand, error) {
	name := cCtx.Args().First()
	if name == "" {
		return nil, errors.New("command required")
	}
	cmd := &protocol.AdminCommand{
		Command:         name,
		CooldownSeconds: cCtx.Uint64("cooldown"),
		BatchID:         cCtx.Uint64("batch"),
	}

	switch name {
	case protocol.CommandTransferAdministrator, protocol.CommandAddProvider, protocol.CommandRemoveProvider:
		addr, err := common.ParseAddress(cCtx.String("address"))
		if err != nil {
			return nil, fmt.Errorf("--address: %w", err)
		}
		cmd.Address = &addr
	case protocol.CommandSetPaused:
		paused := cCtx.Bool("paused")
		cmd.Paused = &paused
	case protocol.CommandSetCooldown:
		if !cCtx.IsSet("cooldown") {
			return nil, errors.New("--cooldown required")
		}
	case protocol.CommandCloseBatch, protocol.CommandRequestBatchDecryption:
		if !cCtx.IsSet("batch") {
			return nil, errors.New("--batch required")
		}
	case protocol.CommandOpenBatch:
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
	return cmd, nil
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "mask two values to the node's oracle key and submit them to the current batch",
		Flags: []cli.Flag{
			urlFlag,
			keyFlag,
			&cli.StringFlag{Name: "condition", Usage: "condition value", Required: true},
			&cli.StringFlag{Name: "status", Usage: "status value", Required: true},
		},
		Action: func(cCtx *cli.Context) error {
			condition, err := parseValue(cCtx.String("condition"))
			if err != nil {
				return fmt.Errorf("--condition: %w", err)
			}
			status, err := parseValue(cCtx.String("status"))
			if err != nil {
				return fmt.Errorf("--status: %w", err)
			}

			client, err := newClient(cCtx)
			if err != nil {
				return err
			}
			key, err := client.OracleKey(cCtx.Context)
			if err != nil {
				return fmt.Errorf("fetching oracle key: %w", err)
			}
			condCT, err := crypto.Encrypt(key, condition)
			if err != nil {
				return err
			}
			statusCT, err := crypto.Encrypt(key, status)
			if err != nil {
				return err
			}

			resp, err := client.Submit(cCtx.Context, condCT, statusCT)
			if err != nil {
				return err
			}
			return printJSON(cCtx, resp)
		},
	}
}

func showCommand() *cli.Command {
	idArg := func(cCtx *cli.Context) (uint64, error) {
		var id uint64
		if _, err := fmt.Sscan(cCtx.Args().First(), &id); err != nil {
			return 0, fmt.Errorf("invalid id %q", cCtx.Args().First())
		}
		return id, nil
	}

	return &cli.Command{
		Name:  "show",
		Usage: "print node state",
		Flags: []cli.Flag{urlFlag},
		Subcommands: []*cli.Command{
			{
				Name:  "state",
				Usage: "administrator, pause flag, cooldown and counters",
				Action: func(cCtx *cli.Context) error {
					resp, err := readClient(cCtx).State(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(cCtx, resp)
				},
			},
			{
				Name:      "batch",
				Usage:     "one batch and its submitters",
				ArgsUsage: "<id>",
				Action: func(cCtx *cli.Context) error {
					id, err := idArg(cCtx)
					if err != nil {
						return err
					}
					resp, err := readClient(cCtx).Batch(cCtx.Context, id)
					if err != nil {
						return err
					}
					return printJSON(cCtx, resp)
				},
			},
			{
				Name:      "request",
				Usage:     "one decryption request and its result",
				ArgsUsage: "<id>",
				Action: func(cCtx *cli.Context) error {
					id, err := idArg(cCtx)
					if err != nil {
						return err
					}
					resp, err := readClient(cCtx).Request(cCtx.Context, id)
					if err != nil {
						return err
					}
					return printJSON(cCtx, resp)
				},
			},
		},
	}
}

func newClient(cCtx *cli.Context) (*services.Client, error) {
	key, err := common.LoadOrGenerateActorKey(cCtx.String("key"))
	if err != nil {
		return nil, err
	}
	return services.NewClient(strings.TrimSuffix(cCtx.String("url"), "/"), key), nil
}

// readClient signs nothing, so a throwaway key is enough.
func readClient(cCtx *cli.Context) *services.Client {
	key, _ := ethcrypto.GenerateKey()
	return services.NewClient(strings.TrimSuffix(cCtx.String("url"), "/"), key)
}

func printJSON(cCtx *cli.Context, v any) error {
	enc := json.NewEncoder(cCtx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
