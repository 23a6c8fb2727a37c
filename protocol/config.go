package protocol

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultCallbackSelector names the entry point the oracle reports back to.
const DefaultCallbackSelector = "onDecryptionCallback"

// Config provides the initial parameters of a protocol instance.
type Config struct {
	// Identity distinguishes this instance. It is folded into every state
	// commitment and proof digest so callbacks cannot be replayed across
	// instances.
	Identity common.Address `json:"identity" yaml:"identity"`

	// Administrator is the initial holder of the administrator role.
	Administrator common.Address `json:"administrator" yaml:"administrator"`

	// CooldownSeconds is the minimum spacing between two rate-limited
	// actions of the same actor and class.
	CooldownSeconds uint64 `json:"cooldown_seconds" yaml:"cooldown_seconds"`

	// CallbackSelector is passed to the oracle with each request.
	CallbackSelector string `json:"callback_selector" yaml:"callback_selector"`
}

// Validate checks that the configuration can initialize a protocol.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfiguration)
	}
	if c.Identity == (common.Address{}) {
		return fmt.Errorf("%w: identity must be set", ErrInvalidConfiguration)
	}
	if c.Administrator == (common.Address{}) {
		return fmt.Errorf("%w: administrator must be set", ErrInvalidConfiguration)
	}
	if c.CooldownSeconds == 0 {
		return fmt.Errorf("%w: cooldown must be positive", ErrInvalidConfiguration)
	}
	return nil
}

func (c *Config) callbackSelector() string {
	if c.CallbackSelector == "" {
		return DefaultCallbackSelector
	}
	return c.CallbackSelector
}
