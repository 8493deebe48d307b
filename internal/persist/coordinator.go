// Package persist keeps the secret store's three collection keys in sync
// with the in-memory record store.
//
// Load replaces the record store from the secret store, key by key. Flush
// writes every collection back. Mutations mark the coordinator dirty; a
// background flusher (Start) coalesces those signals into flushes so the
// mutating caller never waits on storage I/O.
package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/benaskins/aivault/internal/keychain"
	"github.com/benaskins/aivault/internal/record"
)

// Coordinator synchronizes a record.Store with a keychain.Store.
type Coordinator struct {
	secrets keychain.Store
	records *record.Store
	logger  *slog.Logger
	onError func(error)

	// mu makes Load, Flush and Clear mutually exclusive.
	mu sync.Mutex

	// stateMu guards the dirty generation counters. It is separate from mu
	// because MarkDirty is called from inside Clear.
	stateMu   sync.Mutex
	requested uint64
	completed uint64

	dirty  chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithErrorHandler sets a callback for failures of background flushes.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Coordinator) {
		c.onError = fn
	}
}

// New creates a coordinator. Call Start to enable background flushing.
func New(secrets keychain.Store, records *record.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		secrets: secrets,
		records: records,
		logger:  slog.With("component", "persist"),
		dirty:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load reads the three collection keys and replaces the record store with
// their contents. An absent key is an empty collection. An unreadable or
// unparsable key also becomes empty and is reported as a *CorruptionError;
// the other keys still load. All corruption errors are joined.
func (c *Coordinator) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		loaded  record.Collections
		corrupt []error
	)
	for _, k := range record.Kinds() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rs, err := c.loadKind(k)
		if err != nil {
			c.logger.Error("stored collection is corrupt, starting it empty", "key", k.Key(), "error", err)
			corrupt = append(corrupt, &CorruptionError{Key: k.Key(), Err: err})
			continue
		}
		loaded.Set(k, rs)
	}

	if err := c.records.ReplaceAll(loaded); err != nil {
		return err
	}
	c.logger.Info("vault loaded",
		"websites", len(loaded.Websites),
		"api_keys", len(loaded.APIKeys),
		"mfa_tokens", len(loaded.MFATokens))
	return errors.Join(corrupt...)
}

func (c *Coordinator) loadKind(k record.Kind) ([]record.Record, error) {
	data, err := c.secrets.Get(k.Key())
	if err != nil {
		if errors.Is(err, keychain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return record.Unmarshal(k, data)
}

// MarkDirty records that the record store changed. It never blocks.
func (c *Coordinator) MarkDirty() {
	c.stateMu.Lock()
	c.requested++
	c.stateMu.Unlock()

	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

// Pending reports whether changes are waiting to be flushed.
func (c *Coordinator) Pending() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.requested > c.completed
}

// Flush writes all three collections to the secret store. Each failed key
// is reported as a *PersistenceError; the other keys are still written.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen := c.generation()
	if err := c.flushLocked(ctx); err != nil {
		return err
	}
	c.markCompleted(gen)
	return nil
}

// Sync flushes only if changes are pending.
func (c *Coordinator) Sync(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen := c.generation()
	if !c.Pending() {
		return nil
	}
	if err := c.flushLocked(ctx); err != nil {
		return err
	}
	c.markCompleted(gen)
	return nil
}

func (c *Coordinator) flushLocked(ctx context.Context) error {
	all, err := c.records.Collections()
	if err != nil {
		return err
	}

	var errs []error
	for _, k := range record.Kinds() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		data, err := record.Marshal(all.Get(k))
		if err == nil {
			err = c.secrets.Set(k.Key(), data)
		}
		if err != nil {
			c.logger.Error("failed to persist collection", "key", k.Key(), "error", err)
			errs = append(errs, &PersistenceError{Key: k.Key(), Op: "write", Err: err})
		}
	}
	if len(errs) == 0 {
		c.logger.Debug("vault flushed", "records", all.Len())
	}
	return errors.Join(errs...)
}

// Clear empties the record store and deletes the three keys. Pending
// changes are considered written, so a background flush does not recreate
// the keys afterwards.
func (c *Coordinator) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.records.Clear(); err != nil {
		return err
	}
	gen := c.generation()

	var errs []error
	for _, k := range record.Kinds() {
		if err := c.secrets.Delete(k.Key()); err != nil {
			errs = append(errs, &PersistenceError{Key: k.Key(), Op: "delete", Err: err})
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	c.markCompleted(gen)
	c.logger.Info("vault erased")
	return nil
}

func (c *Coordinator) generation() uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.requested
}

func (c *Coordinator) markCompleted(gen uint64) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if gen > c.completed {
		c.completed = gen
	}
}

// Start runs the background flusher until Stop is called or ctx is done.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.dirty:
				if err := c.Sync(ctx); err != nil && !errors.Is(err, record.ErrNotUnlocked) && ctx.Err() == nil {
					if c.onError != nil {
						c.onError(err)
					}
				}
			}
		}
	})
}

// Stop ends the background flusher and waits for an in-flight flush.
// Pending changes are not written; call Sync first.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
