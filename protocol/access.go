package protocol

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AccessGate enforces roles, the pause switch and per-actor cooldowns.
type AccessGate struct {
	state *State
}

// NewAccessGate creates a gate over the given state.
func NewAccessGate(state *State) *AccessGate {
	return &AccessGate{state: state}
}

// RequireAdministrator fails unless actor holds the administrator role.
func (g *AccessGate) RequireAdministrator(actor common.Address) error {
	if actor != g.state.Administrator {
		return fmt.Errorf("%w: %s is not the administrator", ErrUnauthorized, actor.Hex())
	}
	return nil
}

// RequireProvider fails unless actor is a registered provider.
func (g *AccessGate) RequireProvider(actor common.Address) error {
	if !g.state.Providers[actor] {
		return fmt.Errorf("%w: %s is not a provider", ErrUnauthorized, actor.Hex())
	}
	return nil
}

// RequireNotPaused fails while the pause switch is on.
func (g *AccessGate) RequireNotPaused() error {
	if g.state.Paused {
		return ErrSystemPaused
	}
	return nil
}

// CheckAndConsumeCooldown verifies the actor's cooldown for the class has
// elapsed and advances it to now. The caller must hold the protocol lock.
func (g *AccessGate) CheckAndConsumeCooldown(actor common.Address, class ActionClass, now time.Time) error {
	if err := g.checkCooldown(actor, class, now); err != nil {
		return err
	}
	g.consumeCooldown(actor, class, now)
	return nil
}

// CooldownRemaining returns how long the actor has to wait before the next
// action of the given class is permitted.
func (g *AccessGate) CooldownRemaining(actor common.Address, class ActionClass, now time.Time) time.Duration {
	last, ok := g.state.LastAction[class][actor]
	if !ok {
		return 0
	}
	readyAt := last + g.state.CooldownSeconds
	nowSec := unixSeconds(now)
	if nowSec >= readyAt {
		return 0
	}
	return time.Duration(readyAt-nowSec) * time.Second
}

func (g *AccessGate) checkCooldown(actor common.Address, class ActionClass, now time.Time) error {
	last, ok := g.state.LastAction[class][actor]
	if !ok {
		return nil
	}
	if unixSeconds(now) < last+g.state.CooldownSeconds {
		return fmt.Errorf("%w: %s for %s, %s remaining", ErrCooldownActive, class, actor.Hex(),
			g.CooldownRemaining(actor, class, now))
	}
	return nil
}

func (g *AccessGate) consumeCooldown(actor common.Address, class ActionClass, now time.Time) {
	clocks, ok := g.state.LastAction[class]
	if !ok {
		clocks = make(map[common.Address]uint64)
		g.state.LastAction[class] = clocks
	}
	clocks[actor] = unixSeconds(now)
}

// TransferAdministrator hands the administrator role to newAdmin.
// Allowed while paused.
func (g *AccessGate) TransferAdministrator(caller, newAdmin common.Address) (*Event, error) {
	if err := g.RequireAdministrator(caller); err != nil {
		return nil, err
	}
	if newAdmin == (common.Address{}) {
		return nil, fmt.Errorf("%w: administrator cannot be the zero address", ErrInvalidConfiguration)
	}

	previous := g.state.Administrator
	g.state.Administrator = newAdmin
	return &Event{Kind: EventAdministratorTransferred, Actor: previous, Subject: addressPtr(newAdmin)}, nil
}

// AddProvider grants the provider role.
func (g *AccessGate) AddProvider(caller, provider common.Address) (*Event, error) {
	if err := g.RequireAdministrator(caller); err != nil {
		return nil, err
	}
	if provider == (common.Address{}) {
		return nil, fmt.Errorf("%w: provider cannot be the zero address", ErrInvalidConfiguration)
	}

	g.state.Providers[provider] = true
	return &Event{Kind: EventProviderAdded, Actor: caller, Subject: addressPtr(provider)}, nil
}

// RemoveProvider revokes the provider role. Removing an unknown address is
// not an error.
func (g *AccessGate) RemoveProvider(caller, provider common.Address) (*Event, error) {
	if err := g.RequireAdministrator(caller); err != nil {
		return nil, err
	}

	delete(g.state.Providers, provider)
	return &Event{Kind: EventProviderRemoved, Actor: caller, Subject: addressPtr(provider)}, nil
}

// SetPaused flips the global pause switch.
func (g *AccessGate) SetPaused(caller common.Address, paused bool) (*Event, error) {
	if err := g.RequireAdministrator(caller); err != nil {
		return nil, err
	}

	g.state.Paused = paused
	return &Event{Kind: EventPauseChanged, Actor: caller, Paused: &paused}, nil
}

// SetCooldown changes the cooldown shared by both action classes.
func (g *AccessGate) SetCooldown(caller common.Address, seconds uint64) (*Event, error) {
	if err := g.RequireAdministrator(caller); err != nil {
		return nil, err
	}
	if seconds == 0 {
		return nil, fmt.Errorf("%w: cooldown must be positive", ErrInvalidConfiguration)
	}

	g.state.CooldownSeconds = seconds
	return &Event{Kind: EventCooldownChanged, Actor: caller, CooldownSeconds: seconds}, nil
}

func unixSeconds(t time.Time) uint64 {
	sec := t.Unix()
	if sec < 0 {
		return 0
	}
	return uint64(sec)
}
