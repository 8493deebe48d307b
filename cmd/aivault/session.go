package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/aivault/internal/audit"
	"github.com/benaskins/aivault/internal/auth"
	"github.com/benaskins/aivault/internal/config"
	"github.com/benaskins/aivault/internal/keychain"
	"github.com/benaskins/aivault/internal/lock"
	"github.com/benaskins/aivault/internal/persist"
	"github.com/benaskins/aivault/internal/vault"
)

// session is an opened vault plus the resources backing it.
type session struct {
	cfgPath string
	cfg     *config.Config
	secrets keychain.Store
	auth    *auth.Passphrase
	audit   *audit.Logger
	vault   *vault.Vault
}

// shared is the session of a running shell. One-shot commands open their
// own session when it is nil.
var shared *session

// fileSettings persists lock preferences to the config file.
type fileSettings struct {
	path string
}

func (s fileSettings) SaveLockSettings(biometricEnabled, autoLockEnabled bool) error {
	_, err := config.Update(s.path, func(c *config.Config) {
		c.BiometricEnabled = biometricEnabled
		c.AutoLockEnabled = autoLockEnabled
	})
	return err
}

func openSession(actor string) (*session, error) {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Home(), 0700); err != nil {
		return nil, fmt.Errorf("creating vault home: %w", err)
	}
	auditLog, err := audit.NewLogger(cfg.AuditPath())
	if err != nil {
		return nil, err
	}

	raw, err := keychain.NewSystemStore(cfg.StorePath())
	if err != nil {
		auditLog.Close()
		return nil, fmt.Errorf("opening secret store: %w", err)
	}
	secrets := keychain.NewAuditedStore(raw, auditLog, actor)
	pass := auth.NewPassphrase(raw)

	ctrl := lock.NewController(pass,
		lock.WithBiometricEnabled(cfg.BiometricEnabled),
		lock.WithAutoLockEnabled(cfg.AutoLockEnabled),
		lock.WithMissingHardwarePolicy(policy))

	v := vault.New(ctrl, secrets,
		vault.WithAudit(auditLog, actor),
		vault.WithSettings(fileSettings{path: path}),
		vault.WithSyncWrites(cfg.Sync()))

	return &session{
		cfgPath: path,
		cfg:     cfg,
		secrets: raw,
		auth:    pass,
		audit:   auditLog,
		vault:   v,
	}, nil
}

// unlock unlocks the vault if needed. Corrupt stored collections are
// reported as warnings; the vault stays usable.
func (s *session) unlock(ctx context.Context, w io.Writer) error {
	ok, err := s.vault.Unlock(ctx)
	if !ok {
		if err != nil {
			return fmt.Errorf("unlock failed: %w", err)
		}
		return errors.New("unlock failed: authentication rejected")
	}
	var corrupt *persist.CorruptionError
	if errors.As(err, &corrupt) {
		fmt.Fprintln(w, warnStyle.Render("warning:"), err)
		fmt.Fprintln(w, warnStyle.Render("warning:"), "unreadable collections were reset to empty; they will be overwritten on the next change")
		return nil
	}
	return err
}

func (s *session) close(ctx context.Context) error {
	err := s.vault.Close(ctx)
	if c, ok := s.secrets.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return errors.Join(err, s.audit.Close())
}

// withSession runs fn against the shell's session, or a fresh one closed
// afterwards.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s := shared
	if s == nil {
		s, err = openSession("cli")
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, s.close(ctx))
		}()
	}
	return fn(ctx, s)
}

// withVault is withSession with the vault unlocked first.
func withVault(cmd *cobra.Command, fn func(ctx context.Context, v *vault.Vault) error) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		if err := s.unlock(ctx, cmd.ErrOrStderr()); err != nil {
			return err
		}
		return fn(ctx, s.vault)
	})
}
