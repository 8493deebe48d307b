// Package vault ties the lock controller, record store, persistence
// coordinator and snapshot codec into one session object.
//
// Unlock, relock, import, erase and every mutation run as mutually
// exclusive critical sections, so no caller observes the collections
// half-way through a load or flush.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benaskins/aivault/internal/audit"
	"github.com/benaskins/aivault/internal/keychain"
	"github.com/benaskins/aivault/internal/lock"
	"github.com/benaskins/aivault/internal/persist"
	"github.com/benaskins/aivault/internal/record"
	"github.com/benaskins/aivault/internal/snapshot"
)

// Settings persists the two lock preferences.
type Settings interface {
	SaveLockSettings(biometricEnabled, autoLockEnabled bool) error
}

// Vault is a single-user vault session.
type Vault struct {
	ctrl    *lock.Controller
	records *record.Store
	coord   *persist.Coordinator
	logger  *slog.Logger

	audit    *audit.Logger
	actor    string
	settings Settings
	sync     bool
	now      func() time.Time

	mu    sync.RWMutex
	query string

	errMu     sync.Mutex
	flushErrs []error
}

// Option configures a Vault.
type Option func(*Vault)

// WithAudit records unlocks, locks, exports, imports and erases to l.
func WithAudit(l *audit.Logger, actor string) Option {
	return func(v *Vault) {
		v.audit = l
		v.actor = actor
	}
}

// WithSettings persists preference changes through s.
func WithSettings(s Settings) Option {
	return func(v *Vault) {
		v.settings = s
	}
}

// WithSyncWrites makes every mutation flush before returning, so storage
// failures are reported to the caller. By default flushes run in the
// background.
func WithSyncWrites(enabled bool) Option {
	return func(v *Vault) {
		v.sync = enabled
	}
}

// WithClock sets the time source for records and exports.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		v.now = now
	}
}

// New creates a locked vault over ctrl and secrets. Close must be called
// to stop the background flusher.
func New(ctrl *lock.Controller, secrets keychain.Store, opts ...Option) *Vault {
	v := &Vault{
		ctrl:   ctrl,
		logger: slog.With("component", "vault"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	v.records = record.NewStore(ctrl, record.WithClock(v.now))
	v.coord = persist.New(secrets, v.records, persist.WithErrorHandler(v.backgroundError))
	v.records.OnChange(func(record.Kind) { v.coord.MarkDirty() })
	if !v.sync {
		v.coord.Start(context.Background())
	}
	ctrl.Observe(v.auditTransition)
	return v
}

// State returns the current lock state.
func (v *Vault) State() lock.State {
	return v.ctrl.State()
}

// Unlock attempts to unlock and, on success, loads the stored collections
// before any other operation can observe them. The bool reports whether
// the vault is unlocked. Corrupt stored collections are returned as
// joined *persist.CorruptionError values alongside true.
func (v *Vault) Unlock(ctx context.Context) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.ctrl.IsUnlocked() {
		return true, nil
	}

	ok, err := v.ctrl.AttemptUnlock(ctx)
	if !ok {
		entry := audit.Entry{Action: audit.ActionUnlockFailed, Actor: v.actor}
		if err != nil {
			entry.Error = err.Error()
		}
		v.logAudit(entry)
		return false, err
	}

	if err := v.coord.Load(ctx); err != nil {
		return true, fmt.Errorf("loading vault: %w", err)
	}
	return true, nil
}

// Lock writes pending changes and locks the vault. The vault is locked
// even if the final flush fails.
func (v *Vault) Lock(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.drain(ctx)
	v.ctrl.Lock()
	v.query = ""
	return err
}

// OnLifecycleChange forwards a host lifecycle signal. When the signal
// relocks the vault, pending changes are written first. It reports
// whether the vault was locked by this signal.
func (v *Vault) OnLifecycleChange(ctx context.Context, sig lock.Signal) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var err error
	if sig.Relocks() && v.ctrl.AutoLockEnabled() && v.ctrl.IsUnlocked() {
		err = v.drain(ctx)
	}
	locked := v.ctrl.OnLifecycleChange(sig)
	if locked {
		v.query = ""
	}
	return locked, err
}

// drain writes changes the background flusher has not written yet.
func (v *Vault) drain(ctx context.Context) error {
	if !v.ctrl.IsUnlocked() {
		return nil
	}
	if err := v.coord.Sync(ctx); err != nil {
		return fmt.Errorf("flushing before lock: %w", err)
	}
	return nil
}

// Create adds a record. In sync write mode a storage failure is returned
// together with the created record; the record is kept either way.
func (v *Vault) Create(ctx context.Context, f record.Fields) (record.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.records.Create(f)
	if err != nil {
		return nil, err
	}
	return r, v.afterMutation(ctx)
}

// Update replaces the fields of the record with the given id.
func (v *Vault) Update(ctx context.Context, id string, f record.Fields) (record.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.records.Update(id, f)
	if err != nil {
		return nil, err
	}
	return r, v.afterMutation(ctx)
}

// Delete removes the record of kind k with the given id.
func (v *Vault) Delete(ctx context.Context, k record.Kind, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.records.Delete(k, id); err != nil {
		return err
	}
	return v.afterMutation(ctx)
}

func (v *Vault) afterMutation(ctx context.Context) error {
	if !v.sync {
		return nil
	}
	return v.coord.Flush(ctx)
}

// Get returns one record.
func (v *Vault) Get(k record.Kind, id string) (record.Record, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.records.Get(k, id)
}

// List returns the records of kind k in order.
func (v *Vault) List(k record.Kind) ([]record.Record, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.records.List(k)
}

// Search filters kind k by a case-insensitive substring query.
func (v *Vault) Search(k record.Kind, query string) ([]record.Record, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.records.Search(k, query)
}

// SetSearchQuery stores the session's current search text. It is cleared
// whenever the vault locks.
func (v *Vault) SetSearchQuery(query string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.ctrl.IsUnlocked() {
		return record.ErrNotUnlocked
	}
	v.query = query
	return nil
}

// SearchQuery returns the session's current search text.
func (v *Vault) SearchQuery() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.query
}

// Results filters kind k by the session's current search text.
func (v *Vault) Results(k record.Kind) ([]record.Record, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.records.Search(k, v.query)
}

// Stats counts records per kind.
func (v *Vault) Stats() (record.Stats, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.records.Stats()
}

// Export captures every collection as a snapshot document.
func (v *Vault) Export() (snapshot.Document, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return snapshot.Export(v.records, v.now())
}

// ExportFile writes a backup into dir and returns its path.
func (v *Vault) ExportFile(dir string) (string, error) {
	doc, err := v.Export()
	if err != nil {
		return "", err
	}
	path, err := snapshot.WriteFile(dir, doc)
	if err != nil {
		return "", err
	}
	count := doc.Len()
	v.logger.Info("vault exported", "path", path, "records", count)
	v.logAudit(audit.Entry{Action: audit.ActionExport, Actor: v.actor, Path: path, Count: count})
	return path, nil
}

// Import replaces every collection with the document's and writes the
// result. A collection absent from the document becomes empty.
func (v *Vault) Import(ctx context.Context, doc snapshot.Document) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.records.ReplaceAll(doc.Collections); err != nil {
		return err
	}
	count := doc.Len()
	v.logger.Info("vault imported", "records", count)

	err := v.coord.Flush(ctx)
	entry := audit.Entry{Action: audit.ActionImport, Actor: v.actor, Count: count}
	if err != nil {
		entry.Error = err.Error()
	}
	v.logAudit(entry)
	return err
}

// ImportFile parses the backup at path and imports it. A file that does
// not parse is reported as a *snapshot.FormatError and nothing changes.
func (v *Vault) ImportFile(ctx context.Context, path string) error {
	if !v.ctrl.IsUnlocked() {
		return record.ErrNotUnlocked
	}
	doc, err := snapshot.ReadFile(path)
	if err != nil {
		v.logAudit(audit.Entry{Action: audit.ActionImport, Actor: v.actor, Path: path, Error: err.Error()})
		return err
	}
	return v.Import(ctx, doc)
}

// Erase deletes every record from memory and from the secret store.
func (v *Vault) Erase(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.coord.Clear(ctx)
	if errors.Is(err, record.ErrNotUnlocked) {
		return err
	}
	entry := audit.Entry{Action: audit.ActionErase, Actor: v.actor}
	if err != nil {
		entry.Error = err.Error()
	}
	v.logAudit(entry)
	v.query = ""
	return err
}

// BiometricEnabled returns the biometric preference.
func (v *Vault) BiometricEnabled() bool { return v.ctrl.BiometricEnabled() }

// AutoLockEnabled returns the auto-lock preference.
func (v *Vault) AutoLockEnabled() bool { return v.ctrl.AutoLockEnabled() }

// SetBiometricEnabled changes and persists the biometric preference. The
// lock state is not affected.
func (v *Vault) SetBiometricEnabled(enabled bool) error {
	v.ctrl.SetBiometricEnabled(enabled)
	return v.saveSettings()
}

// SetAutoLockEnabled changes and persists the auto-lock preference. The
// lock state is not affected.
func (v *Vault) SetAutoLockEnabled(enabled bool) error {
	v.ctrl.SetAutoLockEnabled(enabled)
	return v.saveSettings()
}

// ApplySettings updates both preferences without persisting them, for
// settings that were changed on disk.
func (v *Vault) ApplySettings(biometricEnabled, autoLockEnabled bool) {
	v.ctrl.SetBiometricEnabled(biometricEnabled)
	v.ctrl.SetAutoLockEnabled(autoLockEnabled)
}

func (v *Vault) saveSettings() error {
	if v.settings == nil {
		return nil
	}
	if err := v.settings.SaveLockSettings(v.ctrl.BiometricEnabled(), v.ctrl.AutoLockEnabled()); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// FlushErrors returns and resets the failures of background flushes.
func (v *Vault) FlushErrors() error {
	v.errMu.Lock()
	defer v.errMu.Unlock()
	err := errors.Join(v.flushErrs...)
	v.flushErrs = nil
	return err
}

func (v *Vault) backgroundError(err error) {
	v.errMu.Lock()
	defer v.errMu.Unlock()
	v.flushErrs = append(v.flushErrs, err)
}

// Close writes pending changes, stops the background flusher and returns
// any storage failures not yet reported.
func (v *Vault) Close(ctx context.Context) error {
	v.mu.Lock()
	err := v.drain(ctx)
	v.mu.Unlock()

	v.coord.Stop()
	return errors.Join(err, v.FlushErrors())
}

func (v *Vault) auditTransition(t lock.Transition) {
	entry := audit.Entry{Actor: v.actor, Trigger: string(t.Reason)}
	if t.To == lock.Unlocked {
		entry.Action = audit.ActionUnlock
	} else {
		entry.Action = audit.ActionLock
		if t.Signal != "" {
			entry.Trigger = string(t.Reason) + ":" + string(t.Signal)
		}
	}
	v.logAudit(entry)
}

func (v *Vault) logAudit(entry audit.Entry) {
	if err := v.audit.Log(entry); err != nil {
		v.logger.Warn("audit log write failed", "error", err)
	}
}
