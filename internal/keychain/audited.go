package keychain

import (
	"errors"
	"fmt"

	"github.com/benaskins/aivault/internal/audit"
)

// AuditedStore wraps a Store and records every access in the audit log.
type AuditedStore struct {
	inner Store
	audit *audit.Logger
	actor string // "cli" or "shell"
}

// NewAuditedStore wraps an existing store with audit logging.
func NewAuditedStore(inner Store, auditLog *audit.Logger, actor string) *AuditedStore {
	return &AuditedStore{
		inner: inner,
		audit: auditLog,
		actor: actor,
	}
}

func (s *AuditedStore) Set(key string, value []byte) error {
	if err := s.inner.Set(key, value); err != nil {
		s.log(audit.ActionSecretWrite, key, err)
		return fmt.Errorf("audited store set: %w", err)
	}
	s.log(audit.ActionSecretWrite, key, nil)
	return nil
}

func (s *AuditedStore) Get(key string) ([]byte, error) {
	val, err := s.inner.Get(key)
	if err != nil {
		// An absent key is the normal first-run case, not a failure.
		if !errors.Is(err, ErrNotFound) {
			s.log(audit.ActionSecretRead, key, err)
		}
		return nil, fmt.Errorf("audited store get: %w", err)
	}
	s.log(audit.ActionSecretRead, key, nil)
	return val, nil
}

func (s *AuditedStore) List() ([]string, error) {
	return s.inner.List()
}

func (s *AuditedStore) Delete(key string) error {
	if err := s.inner.Delete(key); err != nil {
		s.log(audit.ActionSecretDelete, key, err)
		return fmt.Errorf("audited store delete: %w", err)
	}
	s.log(audit.ActionSecretDelete, key, nil)
	return nil
}

// log is best-effort: a failure to write the audit log never blocks the operation.
func (s *AuditedStore) log(action audit.Action, key string, opErr error) {
	e := audit.Entry{Action: action, Key: key, Actor: s.actor}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	_ = s.audit.Log(e)
}
