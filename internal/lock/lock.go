// Package lock implements the vault's authentication gate.
//
// The Controller is a two-state machine (Locked, Unlocked). It starts Locked,
// unlocks on a successful authenticator challenge (or by policy when
// biometrics are disabled or unavailable) and relocks when the host reports
// that the application left the foreground while auto-lock is enabled.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// State is the lock state of the vault.
type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// Signal is a lifecycle notification from the host application.
type Signal string

const (
	SignalActive     Signal = "active"
	SignalInactive   Signal = "inactive"
	SignalBackground Signal = "background"
)

// ParseSignal converts a host lifecycle string into a Signal.
func ParseSignal(s string) (Signal, error) {
	switch Signal(strings.ToLower(strings.TrimSpace(s))) {
	case SignalActive:
		return SignalActive, nil
	case SignalInactive:
		return SignalInactive, nil
	case SignalBackground:
		return SignalBackground, nil
	}
	return "", fmt.Errorf("unknown lifecycle signal %q", s)
}

// Relocks reports whether the signal means the app left the foreground.
func (s Signal) Relocks() bool {
	return s == SignalInactive || s == SignalBackground
}

// Authenticator is the biometric (or equivalent) challenge provider.
type Authenticator interface {
	HasHardware(ctx context.Context) (bool, error)
	IsEnrolled(ctx context.Context) (bool, error)
	// Challenge prompts the user once. A dismissed prompt returns false.
	Challenge(ctx context.Context) (bool, error)
}

// MissingHardwarePolicy decides what happens when the authenticator reports
// no hardware or no enrollment.
type MissingHardwarePolicy string

const (
	// PolicyAllow unlocks without a challenge (fail open).
	PolicyAllow MissingHardwarePolicy = "allow"
	// PolicyDeny keeps the vault locked (fail closed).
	PolicyDeny MissingHardwarePolicy = "deny"
)

// ParsePolicy accepts "allow" or "deny"; empty means allow.
func ParsePolicy(s string) (MissingHardwarePolicy, error) {
	switch MissingHardwarePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAllow:
		return PolicyAllow, nil
	case PolicyDeny:
		return PolicyDeny, nil
	}
	return "", fmt.Errorf("invalid missing-hardware policy %q (want allow or deny)", s)
}

// Reason explains why a transition happened.
type Reason string

const (
	ReasonAuthenticated Reason = "authenticated"
	ReasonBiometricOff  Reason = "biometric_disabled"
	ReasonNoHardware    Reason = "no_hardware"
	ReasonNotEnrolled   Reason = "not_enrolled"
	ReasonLifecycle     Reason = "lifecycle"
	ReasonManual        Reason = "manual"
)

// Transition describes one state change.
type Transition struct {
	From   State
	To     State
	Reason Reason
	Signal Signal // set for lifecycle relocks
}

// ErrNoAuthenticator is returned by AttemptUnlock when no usable biometric
// is available and the policy is PolicyDeny.
var ErrNoAuthenticator = errors.New("no enrolled authenticator available")

// Controller owns the lock state and the two policy preferences.
type Controller struct {
	auth   Authenticator
	logger *slog.Logger

	// attemptMu serializes unlock attempts; mu guards the fields below.
	attemptMu sync.Mutex
	mu        sync.RWMutex
	state     State
	biometric bool
	autoLock  bool
	policy    MissingHardwarePolicy
	observers []func(Transition)
}

// Option configures a Controller.
type Option func(*Controller)

// WithBiometricEnabled sets the initial biometricEnabled preference.
func WithBiometricEnabled(enabled bool) Option {
	return func(c *Controller) {
		c.biometric = enabled
	}
}

// WithAutoLockEnabled sets the initial autoLockEnabled preference.
func WithAutoLockEnabled(enabled bool) Option {
	return func(c *Controller) {
		c.autoLock = enabled
	}
}

// WithMissingHardwarePolicy sets the policy applied when no biometric is available.
func WithMissingHardwarePolicy(p MissingHardwarePolicy) Option {
	return func(c *Controller) {
		c.policy = p
	}
}

// NewController creates a Locked controller. Both preferences default to
// enabled and missing hardware fails open. A nil authenticator behaves as
// one without hardware.
func NewController(auth Authenticator, opts ...Option) *Controller {
	c := &Controller{
		auth:      auth,
		logger:    slog.With("component", "lock"),
		state:     Locked,
		biometric: true,
		autoLock:  true,
		policy:    PolicyAllow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Observe registers fn to run after every state transition.
func (c *Controller) Observe(fn func(Transition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// State returns the current lock state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsUnlocked is the guard every vault entry point checks.
func (c *Controller) IsUnlocked() bool {
	return c.State() == Unlocked
}

// AttemptUnlock runs one unlock attempt and reports whether the vault is
// unlocked afterwards. A failed or dismissed challenge leaves the vault
// Locked and may be retried without limit. Authenticator errors and context
// cancellation are returned alongside false.
func (c *Controller) AttemptUnlock(ctx context.Context) (bool, error) {
	c.attemptMu.Lock()
	defer c.attemptMu.Unlock()

	if c.IsUnlocked() {
		return true, nil
	}

	c.mu.RLock()
	biometric, policy := c.biometric, c.policy
	c.mu.RUnlock()

	if !biometric {
		c.transition(Unlocked, ReasonBiometricOff, "")
		return true, nil
	}

	if reason, err := c.unavailable(ctx); err != nil {
		c.logger.Warn("authenticator capability query failed", "error", err)
		return false, fmt.Errorf("querying authenticator: %w", err)
	} else if reason != "" {
		if policy == PolicyDeny {
			c.logger.Warn("no usable biometric, unlock denied by policy", "reason", reason)
			return false, fmt.Errorf("%w (%s)", ErrNoAuthenticator, reason)
		}
		c.transition(Unlocked, reason, "")
		return true, nil
	}

	ok, err := c.auth.Challenge(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		c.logger.Info("authentication challenge abandoned", "error", err)
		return false, fmt.Errorf("authentication challenge: %w", err)
	}
	if !ok {
		c.logger.Info("authentication failed")
		return false, nil
	}

	c.transition(Unlocked, ReasonAuthenticated, "")
	return true, nil
}

// unavailable returns a non-empty reason when no challenge can be issued.
func (c *Controller) unavailable(ctx context.Context) (Reason, error) {
	if c.auth == nil {
		return ReasonNoHardware, nil
	}
	hw, err := c.auth.HasHardware(ctx)
	if err != nil {
		return "", err
	}
	if !hw {
		return ReasonNoHardware, nil
	}
	enrolled, err := c.auth.IsEnrolled(ctx)
	if err != nil {
		return "", err
	}
	if !enrolled {
		return ReasonNotEnrolled, nil
	}
	return "", nil
}

// OnLifecycleChange applies a host lifecycle signal. It reports whether the
// signal locked the vault.
func (c *Controller) OnLifecycleChange(sig Signal) bool {
	if !sig.Relocks() {
		return false
	}
	c.mu.RLock()
	autoLock := c.autoLock
	c.mu.RUnlock()
	if !autoLock {
		return false
	}
	return c.transition(Locked, ReasonLifecycle, sig)
}

// Lock locks the vault regardless of preferences.
func (c *Controller) Lock() bool {
	return c.transition(Locked, ReasonManual, "")
}

// SetBiometricEnabled changes the preference without changing the state.
func (c *Controller) SetBiometricEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.biometric = enabled
}

// SetAutoLockEnabled changes the preference without changing the state.
func (c *Controller) SetAutoLockEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoLock = enabled
}

// BiometricEnabled returns the biometricEnabled preference.
func (c *Controller) BiometricEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.biometric
}

// AutoLockEnabled returns the autoLockEnabled preference.
func (c *Controller) AutoLockEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.autoLock
}

// transition moves to state to and notifies observers. It reports whether
// the state changed.
func (c *Controller) transition(to State, reason Reason, sig Signal) bool {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return false
	}
	c.state = to
	observers := slices.Clone(c.observers)
	c.mu.Unlock()

	c.logger.Info("vault "+to.String(), "reason", reason)

	t := Transition{From: from, To: to, Reason: reason, Signal: sig}
	for _, fn := range observers {
		fn(t)
	}
	return true
}
