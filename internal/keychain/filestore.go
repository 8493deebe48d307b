package keychain

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"filippo.io/age"
)

const (
	identityFile = "identity.txt"
	lockFile     = ".lock"
	valueExt     = ".age"
)

// ErrStoreBusy is returned when another process holds the store directory.
var ErrStoreBusy = errors.New("secret store is in use by another process")

// FileStore keeps each key in its own age-encrypted file. The X25519
// identity used to encrypt is generated on first use and stored with 0600
// permissions in the same directory. An advisory lock on the directory
// keeps a second process from opening the same store.
type FileStore struct {
	mu       sync.Mutex
	dir      string
	identity *age.X25519Identity
	lock     *os.File
}

// NewFileStore opens (or initializes) a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	lock, err := lockDir(filepath.Join(dir, lockFile))
	if err != nil {
		return nil, err
	}

	identity, err := loadOrCreateIdentity(filepath.Join(dir, identityFile))
	if err != nil {
		unlockDir(lock)
		return nil, err
	}

	return &FileStore{dir: dir, identity: identity, lock: lock}, nil
}

func loadOrCreateIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("parsing store identity %s: %w", path, err)
		}
		return identity, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading store identity: %w", err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating store identity: %w", err)
	}
	if err := writeFile(path, []byte(identity.String()+"\n")); err != nil {
		return nil, fmt.Errorf("writing store identity: %w", err)
	}
	return identity, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+valueExt)
}

// Set encrypts value and atomically replaces the key's file.
func (s *FileStore) Set(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.identity.Recipient())
	if err != nil {
		return fmt.Errorf("encrypting %q: %w", key, err)
	}
	if _, err := w.Write(value); err != nil {
		return fmt.Errorf("encrypting %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("encrypting %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFile(s.path(key), buf.Bytes()); err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return nil
}

// Get decrypts the key's file. A file that fails to decrypt (tampered or
// encrypted to another identity) is an error, not ErrNotFound.
func (s *FileStore) Get(key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(s.path(key))
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("reading %q: %w", key, err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), s.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting %q: %w", key, err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypting %q: %w", key, err)
	}
	return plain, nil
}

// List returns the stored keys in sorted order.
func (s *FileStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing store: %w", err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, valueExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, valueExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the key's file. Deleting an absent key succeeds.
func (s *FileStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}

// Close releases the directory lock.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return nil
	}
	err := unlockDir(s.lock)
	s.lock = nil
	return err
}

// writeFile writes bytes via a temp file, then atomically replaces the target.
func writeFile(path string, b []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	// Best-effort cleanup if anything fails before rename.
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(0600); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
