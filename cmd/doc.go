// Package cmd holds the sealbatch command-line tools.
//
// # Commands
//
// sealbatch: Runs a node (serve) and acts against one as administrator or
// provider (admin, submit, show). Also generates keys (keygen) and masks
// values offline (encrypt).
//
//	go run ./cmd/sealbatch keygen --type=secp256k1
//	go run ./cmd/sealbatch serve --config=sealbatch.yaml
//	go run ./cmd/sealbatch submit --key=$PROVIDER_KEY --condition=1 --status=250
//	go run ./cmd/sealbatch show state
//
// # Configuration
//
// The serve command reads a YAML file via --config. Command-line flags
// override config file values. See package common for the file layout and
// defaults.
package cmd
