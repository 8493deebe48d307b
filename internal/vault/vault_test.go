package vault

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benaskins/aivault/internal/audit"
	"github.com/benaskins/aivault/internal/keychain"
	"github.com/benaskins/aivault/internal/lock"
	"github.com/benaskins/aivault/internal/persist"
	"github.com/benaskins/aivault/internal/record"
	"github.com/benaskins/aivault/internal/snapshot"
)

type fakeAuth struct {
	results []bool
}

func (f *fakeAuth) HasHardware(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeAuth) IsEnrolled(ctx context.Context) (bool, error)  { return true, nil }

func (f *fakeAuth) Challenge(ctx context.Context) (bool, error) {
	if len(f.results) == 0 {
		return false, nil
	}
	ok := f.results[0]
	f.results = f.results[1:]
	return ok, nil
}

// brokenStore fails every write once broken is set.
type brokenStore struct {
	*keychain.MemoryStore
	mu     sync.Mutex
	broken bool
}

func (s *brokenStore) Set(key string, value []byte) error {
	s.mu.Lock()
	broken := s.broken
	s.mu.Unlock()
	if broken {
		return errors.New("secure storage unavailable")
	}
	return s.MemoryStore.Set(key, value)
}

func (s *brokenStore) breakWrites() {
	s.mu.Lock()
	s.broken = true
	s.mu.Unlock()
}

type savedSettings struct {
	biometric, autoLock bool
	calls               int
}

func (s *savedSettings) SaveLockSettings(biometric, autoLock bool) error {
	s.biometric, s.autoLock = biometric, autoLock
	s.calls++
	return nil
}

func newVault(t *testing.T, secrets keychain.Store, opts ...Option) *Vault {
	t.Helper()
	v := New(lock.NewController(nil), secrets, opts...)
	t.Cleanup(func() { v.Close(context.Background()) })
	return v
}

func unlocked(t *testing.T, secrets keychain.Store, opts ...Option) *Vault {
	t.Helper()
	v := newVault(t, secrets, opts...)
	if ok, err := v.Unlock(context.Background()); !ok || err != nil {
		t.Fatalf("Unlock = %v, %v", ok, err)
	}
	return v
}

func names(t *testing.T, v *Vault, k record.Kind) []string {
	t.Helper()
	rs, err := v.List(k)
	if err != nil {
		t.Fatalf("List(%s): %v", k, err)
	}
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Base().Name
	}
	return out
}

func TestCreateWebsiteScenario(t *testing.T) {
	v := unlocked(t, keychain.NewMemoryStore())

	r, err := v.Create(context.Background(), record.WebsiteFields{Name: "OpenAI", URL: "https://openai.com", Category: "LLM"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rs, _ := v.List(record.KindWebsite)
	if len(rs) != 1 {
		t.Fatalf("expected 1 website, got %d", len(rs))
	}
	base := rs[0].Base()
	if base.ID != r.Base().ID || !base.UpdatedAt.Equal(base.CreatedAt) {
		t.Errorf("unexpected record %+v", rs[0])
	}
}

func TestEverythingRefusedWhileLocked(t *testing.T) {
	v := newVault(t, keychain.NewMemoryStore())
	ctx := context.Background()

	if _, err := v.Create(ctx, record.MFAFields{Name: "x"}); !errors.Is(err, record.ErrNotUnlocked) {
		t.Errorf("Create: %v", err)
	}
	if _, err := v.List(record.KindMFA); !errors.Is(err, record.ErrNotUnlocked) {
		t.Errorf("List: %v", err)
	}
	if _, err := v.Export(); !errors.Is(err, record.ErrNotUnlocked) {
		t.Errorf("Export: %v", err)
	}
	if err := v.Import(ctx, snapshot.Document{}); !errors.Is(err, record.ErrNotUnlocked) {
		t.Errorf("Import: %v", err)
	}
	if err := v.Erase(ctx); !errors.Is(err, record.ErrNotUnlocked) {
		t.Errorf("Erase: %v", err)
	}
	if err := v.SetSearchQuery("x"); !errors.Is(err, record.ErrNotUnlocked) {
		t.Errorf("SetSearchQuery: %v", err)
	}
}

func TestBackgroundSignalRelocksScenario(t *testing.T) {
	v := unlocked(t, keychain.NewMemoryStore())

	locked, err := v.OnLifecycleChange(context.Background(), lock.SignalBackground)
	if err != nil || !locked {
		t.Fatalf("OnLifecycleChange = %v, %v", locked, err)
	}
	if v.State() != lock.Locked {
		t.Errorf("expected Locked, got %v", v.State())
	}
	if _, err := v.List(record.KindWebsite); !errors.Is(err, record.ErrNotUnlocked) {
		t.Errorf("expected ErrNotUnlocked, got %v", err)
	}
}

func TestActiveSignalAndAutoLockOff(t *testing.T) {
	v := unlocked(t, keychain.NewMemoryStore())
	ctx := context.Background()

	if locked, _ := v.OnLifecycleChange(ctx, lock.SignalActive); locked {
		t.Error("active must not lock")
	}
	v.SetAutoLockEnabled(false)
	if locked, _ := v.OnLifecycleChange(ctx, lock.SignalBackground); locked {
		t.Error("background must not lock with auto-lock disabled")
	}
	if v.State() != lock.Unlocked {
		t.Error("expected Unlocked")
	}
}

func TestRelockWritesPendingChanges(t *testing.T) {
	secrets := keychain.NewMemoryStore()
	v := unlocked(t, secrets)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if _, err := v.Create(ctx, record.APIKeyFields{Name: name, Secret: "sk-" + name}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := v.OnLifecycleChange(ctx, lock.SignalInactive); err != nil {
		t.Fatalf("OnLifecycleChange: %v", err)
	}

	raw, err := secrets.Get("apiKeys")
	if err != nil {
		t.Fatalf("expected apiKeys written before lock: %v", err)
	}
	rs, _ := record.Unmarshal(record.KindAPIKey, raw)
	if len(rs) != 3 {
		t.Errorf("expected 3 stored keys, got %d", len(rs))
	}
}

func TestUnlockLoadsStoredCollections(t *testing.T) {
	secrets := keychain.NewMemoryStore()
	first := unlocked(t, secrets)
	first.Create(context.Background(), record.WebsiteFields{Name: "OpenAI"})
	first.Create(context.Background(), record.MFAFields{Name: "github"})
	if err := first.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := unlocked(t, secrets)
	if got := names(t, second, record.KindWebsite); len(got) != 1 || got[0] != "OpenAI" {
		t.Errorf("unexpected websites %v", got)
	}
	if got := names(t, second, record.KindMFA); len(got) != 1 || got[0] != "github" {
		t.Errorf("unexpected mfa %v", got)
	}
}

func TestUnlockWithCorruptMFAScenario(t *testing.T) {
	secrets := keychain.NewMemoryStore()
	secrets.Set("websites", []byte(`[{"id":"w1","name":"OpenAI"}]`))
	secrets.Set("apiKeys", []byte(`[{"id":"k1","name":"prod","apiKey":"sk"}]`))
	secrets.Set("mfaTokens", []byte(`garbage`))

	v := newVault(t, secrets)
	ok, err := v.Unlock(context.Background())
	if !ok {
		t.Fatal("expected unlock despite corruption")
	}
	var corrupt *persist.CorruptionError
	if !errors.As(err, &corrupt) || corrupt.Key != "mfaTokens" {
		t.Fatalf("expected CorruptionError for mfaTokens, got %v", err)
	}
	if got := names(t, v, record.KindMFA); len(got) != 0 {
		t.Errorf("expected empty mfa, got %v", got)
	}
	if got := names(t, v, record.KindWebsite); len(got) != 1 {
		t.Errorf("expected websites loaded, got %v", got)
	}
	if got := names(t, v, record.KindAPIKey); len(got) != 1 {
		t.Errorf("expected apiKeys loaded, got %v", got)
	}
}

func TestFailedUnlockStaysLocked(t *testing.T) {
	auth := &fakeAuth{results: []bool{false, true}}
	v := New(lock.NewController(auth), keychain.NewMemoryStore())
	defer v.Close(context.Background())

	if ok, err := v.Unlock(context.Background()); ok || err != nil {
		t.Fatalf("expected plain failure, got %v, %v", ok, err)
	}
	if v.State() != lock.Locked {
		t.Fatal("expected Locked")
	}
	if ok, _ := v.Unlock(context.Background()); !ok {
		t.Fatal("expected retry to unlock")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	v := unlocked(t, keychain.NewMemoryStore())
	ctx := context.Background()
	v.Create(ctx, record.WebsiteFields{Name: "OpenAI", URL: "https://openai.com"})
	v.Create(ctx, record.WebsiteFields{Name: "Anthropic"})
	v.Create(ctx, record.APIKeyFields{Name: "prod", Secret: "sk-1", Notes: "billing"})
	v.Create(ctx, record.MFAFields{Name: "github", Secret: "1 2 3"})

	doc, err := v.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	before, _ := json.Marshal(doc.Collections)

	v.Create(ctx, record.WebsiteFields{Name: "added after export"})
	if err := v.Import(ctx, doc); err != nil {
		t.Fatalf("Import: %v", err)
	}

	after, _ := v.Export()
	got, _ := json.Marshal(after.Collections)
	if string(got) != string(before) {
		t.Errorf("collections differ after round trip:\n got %s\nwant %s", got, before)
	}
}

func TestImportMissingCollectionScenario(t *testing.T) {
	secrets := keychain.NewMemoryStore()
	v := unlocked(t, secrets)
	ctx := context.Background()
	v.Create(ctx, record.APIKeyFields{Name: "old key"})
	v.Create(ctx, record.WebsiteFields{Name: "old site"})

	doc, err := snapshot.Decode([]byte(`{
		"websites": [{"id": "w1", "name": "Imported site"}],
		"mfaTokens": [{"id": "m1", "name": "Imported mfa"}],
		"version": "1.0"
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Import(ctx, doc); err != nil {
		t.Fatalf("Import: %v", err)
	}

	if got := names(t, v, record.KindAPIKey); len(got) != 0 {
		t.Errorf("expected apiKeys emptied, got %v", got)
	}
	if got := names(t, v, record.KindWebsite); len(got) != 1 || got[0] != "Imported site" {
		t.Errorf("unexpected websites %v", got)
	}
	if got := names(t, v, record.KindMFA); len(got) != 1 || got[0] != "Imported mfa" {
		t.Errorf("unexpected mfa %v", got)
	}

	// Import flushes immediately.
	raw, _ := secrets.Get("apiKeys")
	if string(raw) != "[]" {
		t.Errorf("expected stored apiKeys to be [], got %s", raw)
	}
}

func TestImportFileFormatErrorLeavesState(t *testing.T) {
	v := unlocked(t, keychain.NewMemoryStore())
	v.Create(context.Background(), record.WebsiteFields{Name: "keep me"})

	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte(`{"websites": "nope"}`), 0600)

	err := v.ImportFile(context.Background(), path)
	if !snapshot.IsFormatError(err) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if got := names(t, v, record.KindWebsite); len(got) != 1 || got[0] != "keep me" {
		t.Errorf("state changed after failed import: %v", got)
	}
}

func TestExportFileAndImportFile(t *testing.T) {
	now := time.UnixMilli(1717000000000).UTC()
	dir := t.TempDir()
	v := unlocked(t, keychain.NewMemoryStore(), WithClock(func() time.Time { return now }))
	ctx := context.Background()
	v.Create(ctx, record.MFAFields{Name: "github"})

	path, err := v.ExportFile(dir)
	if err != nil {
		t.Fatalf("ExportFile: %v", err)
	}
	if filepath.Base(path) != "ai-vault-backup-1717000000000.json" {
		t.Errorf("unexpected file name %s", path)
	}

	v.Erase(ctx)
	if err := v.ImportFile(ctx, path); err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if got := names(t, v, record.KindMFA); len(got) != 1 {
		t.Errorf("expected restored mfa, got %v", got)
	}
}

func TestSyncWriteFailureKeepsRecord(t *testing.T) {
	secrets := &brokenStore{MemoryStore: keychain.NewMemoryStore()}
	v := unlocked(t, secrets, WithSyncWrites(true))
	secrets.breakWrites()

	r, err := v.Create(context.Background(), record.WebsiteFields{Name: "unsaved"})
	var perr *persist.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if r == nil || r.Base().Name != "unsaved" {
		t.Errorf("expected created record alongside error, got %v", r)
	}
	if got := names(t, v, record.KindWebsite); len(got) != 1 {
		t.Errorf("expected in-memory record kept, got %v", got)
	}
}

func TestBackgroundWriteFailureReported(t *testing.T) {
	secrets := &brokenStore{MemoryStore: keychain.NewMemoryStore()}
	v := unlocked(t, secrets)
	secrets.breakWrites()

	if _, err := v.Create(context.Background(), record.WebsiteFields{Name: "x"}); err != nil {
		t.Fatalf("async Create should not report storage errors: %v", err)
	}

	err := v.Close(context.Background())
	var perr *persist.PersistenceError
	if !errors.As(err, &perr) {
		t.Errorf("expected PersistenceError from Close, got %v", err)
	}
}

func TestEraseDeletesEverything(t *testing.T) {
	secrets := keychain.NewMemoryStore()
	v := unlocked(t, secrets)
	ctx := context.Background()
	v.Create(ctx, record.WebsiteFields{Name: "a"})
	v.Lock(ctx)
	v.Unlock(ctx)

	if err := v.Erase(ctx); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	stats, _ := v.Stats()
	if stats.Total != 0 {
		t.Errorf("expected empty vault, got %+v", stats)
	}
	if err := v.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	keys, _ := secrets.List()
	if len(keys) != 0 {
		t.Errorf("expected no stored keys, got %v", keys)
	}
}

func TestSearchQueryClearedOnRelock(t *testing.T) {
	v := unlocked(t, keychain.NewMemoryStore())
	ctx := context.Background()
	v.Create(ctx, record.WebsiteFields{Name: "OpenAI"})
	v.Create(ctx, record.WebsiteFields{Name: "Anthropic"})

	v.SetSearchQuery("openai")
	rs, _ := v.Results(record.KindWebsite)
	if len(rs) != 1 {
		t.Errorf("expected 1 result, got %d", len(rs))
	}

	v.OnLifecycleChange(ctx, lock.SignalBackground)
	v.Unlock(ctx)
	if v.SearchQuery() != "" {
		t.Errorf("expected query cleared, got %q", v.SearchQuery())
	}
	rs, _ = v.Results(record.KindWebsite)
	if len(rs) != 2 {
		t.Errorf("expected all results with empty query, got %d", len(rs))
	}
}

func TestSettingsPersisted(t *testing.T) {
	saved := &savedSettings{}
	v := unlocked(t, keychain.NewMemoryStore(), WithSettings(saved))

	if err := v.SetBiometricEnabled(false); err != nil {
		t.Fatal(err)
	}
	if err := v.SetAutoLockEnabled(false); err != nil {
		t.Fatal(err)
	}
	if saved.calls != 2 || saved.biometric || saved.autoLock {
		t.Errorf("unexpected saved settings %+v", saved)
	}
	if v.State() != lock.Unlocked {
		t.Error("settings changed the lock state")
	}

	v.ApplySettings(true, true)
	if !v.BiometricEnabled() || !v.AutoLockEnabled() || saved.calls != 2 {
		t.Error("ApplySettings should update without saving")
	}
}

func TestAuditTrail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := audit.NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	auth := &fakeAuth{results: []bool{false, true}}
	v := New(lock.NewController(auth), keychain.NewMemoryStore(), WithAudit(logger, "test"))
	defer v.Close(context.Background())
	ctx := context.Background()

	v.Unlock(ctx)
	v.Unlock(ctx)
	v.ExportFile(t.TempDir())
	v.OnLifecycleChange(ctx, lock.SignalBackground)

	f, _ := os.Open(path)
	defer f.Close()
	var actions []audit.Action
	var lockTrigger string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e audit.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad audit line: %v", err)
		}
		if e.Actor != "test" {
			t.Errorf("unexpected actor %q", e.Actor)
		}
		if e.Action == audit.ActionLock {
			lockTrigger = e.Trigger
		}
		actions = append(actions, e.Action)
	}

	want := []audit.Action{audit.ActionUnlockFailed, audit.ActionUnlock, audit.ActionExport, audit.ActionLock}
	if len(actions) != len(want) {
		t.Fatalf("expected %v, got %v", want, actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], actions[i])
		}
	}
	if lockTrigger != "lifecycle:background" {
		t.Errorf("unexpected lock trigger %q", lockTrigger)
	}
}
