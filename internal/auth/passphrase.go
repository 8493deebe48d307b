// Package auth provides the terminal authenticator used to unlock the vault.
//
// The passphrase authenticator stands in for a biometric sensor: the
// "hardware" is an interactive terminal and "enrollment" is a stored
// argon2id hash of the passphrase.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/benaskins/aivault/internal/keychain"
)

// HashKey is the secret-store key holding the passphrase hash.
const HashKey = "auth.passphrase"

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

var (
	// ErrEmptyPassphrase is returned by Enroll for an empty passphrase.
	ErrEmptyPassphrase = errors.New("passphrase must not be empty")
	// ErrWrongPassphrase is returned by Change when the current passphrase
	// does not match.
	ErrWrongPassphrase = errors.New("current passphrase does not match")
)

// Passphrase challenges the user for a passphrase on a terminal.
type Passphrase struct {
	store   keychain.Store
	fd      int
	out     io.Writer
	logger  *slog.Logger
	limiter *rate.Limiter

	// test seams for the terminal
	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)
	getState     func(fd int) (*term.State, error)
	restoreState func(fd int, state *term.State) error
}

// Option configures a Passphrase authenticator.
type Option func(*Passphrase)

// WithTerminal sets the terminal to read from and the writer for prompts.
func WithTerminal(fd int, out io.Writer) Option {
	return func(p *Passphrase) {
		p.fd = fd
		p.out = out
	}
}

// WithAttemptRate paces challenges to r per second after an initial burst.
// Attempts are never refused, only delayed.
func WithAttemptRate(r rate.Limit, burst int) Option {
	return func(p *Passphrase) {
		p.limiter = rate.NewLimiter(r, burst)
	}
}

// NewPassphrase creates an authenticator that keeps its hash in store.
// It reads from stdin and prompts on stderr unless WithTerminal is given.
func NewPassphrase(store keychain.Store, opts ...Option) *Passphrase {
	p := &Passphrase{
		store:        store,
		fd:           int(os.Stdin.Fd()),
		out:          os.Stderr,
		logger:       slog.With("component", "auth"),
		limiter:      rate.NewLimiter(rate.Every(2*time.Second), 3),
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
		getState:     term.GetState,
		restoreState: term.Restore,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HasHardware reports whether an interactive terminal is attached.
func (p *Passphrase) HasHardware(ctx context.Context) (bool, error) {
	return p.isTerminal(p.fd), nil
}

// IsEnrolled reports whether a passphrase has been set.
func (p *Passphrase) IsEnrolled(ctx context.Context) (bool, error) {
	_, err := p.store.Get(HashKey)
	if errors.Is(err, keychain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading passphrase hash: %w", err)
	}
	return true, nil
}

// Challenge prompts once and reports whether the passphrase matches. An
// empty entry counts as a dismissed prompt.
func (p *Passphrase) Challenge(ctx context.Context) (bool, error) {
	stored, err := p.store.Get(HashKey)
	if err != nil {
		return false, fmt.Errorf("reading passphrase hash: %w", err)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return false, err
	}

	pass, err := p.Prompt(ctx, "Vault passphrase: ")
	if err != nil {
		return false, err
	}
	defer clear(pass)
	if len(pass) == 0 {
		return false, nil
	}

	ok, err := verify(string(stored), pass)
	if err != nil {
		return false, fmt.Errorf("checking passphrase: %w", err)
	}
	if !ok {
		p.logger.Info("passphrase rejected")
	}
	return ok, nil
}

// Prompt writes prompt and reads one line without echo. If ctx ends first
// the prompt is abandoned, the terminal mode is restored and ctx's error
// returned.
func (p *Passphrase) Prompt(ctx context.Context, prompt string) ([]byte, error) {
	// nil when fd is not a terminal; nothing to restore then.
	state, _ := p.getState(p.fd)

	if _, err := fmt.Fprint(p.out, prompt); err != nil {
		return nil, err
	}

	type result struct {
		b   []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		b, err := p.readPassword(p.fd)
		done <- result{b, err}
	}()

	select {
	case <-ctx.Done():
		if state != nil {
			if err := p.restoreState(p.fd, state); err != nil {
				p.logger.Warn("restoring terminal failed", "error", err)
			}
		}
		fmt.Fprintln(p.out)
		return nil, ctx.Err()
	case r := <-done:
		fmt.Fprintln(p.out)
		if r.err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", r.err)
		}
		return r.b, nil
	}
}

// Enroll stores a new passphrase hash, replacing any previous one.
func (p *Passphrase) Enroll(passphrase []byte) error {
	if len(passphrase) == 0 {
		return ErrEmptyPassphrase
	}
	encoded, err := hash(passphrase)
	if err != nil {
		return err
	}
	if err := p.store.Set(HashKey, []byte(encoded)); err != nil {
		return fmt.Errorf("storing passphrase hash: %w", err)
	}
	p.logger.Info("passphrase enrolled")
	return nil
}

// Change replaces the enrolled passphrase with next after checking current
// against the stored hash. keychain.ErrNotFound is returned when nothing is
// enrolled.
func (p *Passphrase) Change(current, next []byte) error {
	if len(next) == 0 {
		return ErrEmptyPassphrase
	}
	err := keychain.Rotate(p.store, HashKey, func(stored []byte) ([]byte, error) {
		ok, err := verify(string(stored), current)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrWrongPassphrase
		}
		encoded, err := hash(next)
		if err != nil {
			return nil, err
		}
		return []byte(encoded), nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("passphrase changed")
	return nil
}

// Unenroll removes the stored passphrase hash.
func (p *Passphrase) Unenroll() error {
	if err := p.store.Delete(HashKey); err != nil && !errors.Is(err, keychain.ErrNotFound) {
		return fmt.Errorf("removing passphrase hash: %w", err)
	}
	return nil
}

// hash encodes passphrase as argon2id$v=<ver>$m=<mem>,t=<time>,p=<threads>$<salt>$<key>.
func hash(passphrase []byte) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

func verify(encoded string, passphrase []byte) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return false, errors.New("malformed passphrase hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &version); err != nil {
		return false, fmt.Errorf("malformed passphrase hash: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("malformed passphrase hash: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false, fmt.Errorf("malformed passphrase salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("malformed passphrase key: %w", err)
	}

	got := argon2.IDKey(passphrase, salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
