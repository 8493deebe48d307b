package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/benaskins/aivault/internal/lock"
)

// WriteMode selects how mutations reach the secret store.
type WriteMode string

const (
	// WriteAsync flushes in the background after each mutation.
	WriteAsync WriteMode = "async"
	// WriteSync flushes before the mutation returns.
	WriteSync WriteMode = "sync"
)

// Config holds vault settings loaded from ~/.ai-vault/config.yaml.
type Config struct {
	BiometricEnabled bool      `yaml:"biometric_enabled"`
	AutoLockEnabled  bool      `yaml:"auto_lock_enabled"`
	MissingHardware  string    `yaml:"missing_hardware,omitempty"`
	WriteMode        WriteMode `yaml:"write_mode,omitempty"`
	ExportDir        string    `yaml:"export_dir,omitempty"`
	StoreDir         string    `yaml:"store_dir,omitempty"`
	AuditLog         string    `yaml:"audit_log,omitempty"`

	// home is the directory the file was loaded from; empty paths default
	// to entries inside it.
	home string
}

// DefaultHome returns ~/.ai-vault.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ai-vault"
	}
	return filepath.Join(home, ".ai-vault")
}

// DefaultPath returns the default config file path: ~/.ai-vault/config.yaml.
func DefaultPath() string {
	return PathIn(DefaultHome())
}

// PathIn returns the config file path inside a vault home directory.
func PathIn(home string) string {
	return filepath.Join(home, "config.yaml")
}

// Default returns the settings used when no file exists.
func Default() *Config {
	return &Config{
		BiometricEnabled: true,
		AutoLockEnabled:  true,
		MissingHardware:  string(lock.PolicyAllow),
		WriteMode:        WriteAsync,
	}
}

// Load reads a YAML config file from path. A missing, empty or
// all-comment file yields the defaults; keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.home = filepath.Dir(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	if _, err := c.Policy(); err != nil {
		return err
	}
	switch c.WriteMode {
	case "", WriteAsync, WriteSync:
	default:
		return fmt.Errorf("invalid write_mode %q (want async or sync)", c.WriteMode)
	}
	return nil
}

// Policy returns the parsed missing-hardware policy.
func (c *Config) Policy() (lock.MissingHardwarePolicy, error) {
	return lock.ParsePolicy(c.MissingHardware)
}

// Sync reports whether mutations flush before returning.
func (c *Config) Sync() bool {
	return c.WriteMode == WriteSync
}

// Home returns the directory relative paths resolve against.
func (c *Config) Home() string {
	if c.home == "" {
		return DefaultHome()
	}
	return c.home
}

// ExportPath returns the directory backups are written to.
func (c *Config) ExportPath() string {
	return c.resolve(c.ExportDir, "exports")
}

// StorePath returns the directory of the encrypted file store.
func (c *Config) StorePath() string {
	return c.resolve(c.StoreDir, "store")
}

// AuditPath returns the audit log file.
func (c *Config) AuditPath() string {
	return c.resolve(c.AuditLog, "audit.log")
}

func (c *Config) resolve(p, fallback string) string {
	switch {
	case p == "":
		return filepath.Join(c.Home(), fallback)
	case p == "~" || strings.HasPrefix(p, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
		return p
	case filepath.IsAbs(p):
		return p
	default:
		return filepath.Join(c.Home(), p)
	}
}

// Save writes cfg to path atomically, readable by the owner only.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Update loads the file at path, applies fn and saves the result.
func Update(path string, fn func(*Config)) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fn(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := Save(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
