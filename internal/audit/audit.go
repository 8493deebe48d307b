// Package audit provides append-only structured logging for vault operations.
//
// Every unlock attempt, relock, secret-store access, snapshot export/import
// and erase is recorded to an audit log at ~/.ai-vault/audit.log as
// newline-delimited JSON. Entries never contain record contents.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Action describes what happened.
type Action string

const (
	ActionSecretRead   Action = "secret_read"
	ActionSecretWrite  Action = "secret_write"
	ActionSecretDelete Action = "secret_delete"
	ActionUnlock       Action = "vault_unlock"
	ActionUnlockFailed Action = "vault_unlock_failed"
	ActionLock         Action = "vault_lock"
	ActionExport       Action = "snapshot_export"
	ActionImport       Action = "snapshot_import"
	ActionErase        Action = "vault_erase"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Key       string    `json:"key,omitempty"`
	Actor     string    `json:"actor,omitempty"`   // "cli", "shell"
	Trigger   string    `json:"trigger,omitempty"` // "authenticated", "no_hardware", "lifecycle", ...
	Path      string    `json:"path,omitempty"`    // snapshot file if applicable
	Count     int       `json:"count,omitempty"`   // records exported or imported
	Error     string    `json:"error,omitempty"`
}

// Logger writes audit entries to an append-only file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger creates or opens an audit log file for appending.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Log writes an audit entry. Logging to a nil Logger is a no-op.
func (l *Logger) Log(entry Entry) error {
	if l == nil {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Path returns the file the logger appends to.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.file.Close()
}
