// Package keychain provides the encrypted key-value store the vault persists
// its collections to.
//
// On macOS values are stored in the Keychain as generic passwords with:
//   - Service: "com.aivault" (all vault keys share this service)
//   - Account: the key (e.g. "websites")
//   - Label: "aivault: <key>" (for Keychain Access.app visibility)
//
// Items are scoped with kSecAttrAccessibleWhenUnlockedThisDeviceOnly:
// never synced to iCloud, never available when the machine is locked.
//
// Elsewhere values are age-encrypted files under the store directory,
// encrypted to a per-device X25519 identity kept next to them.
package keychain

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("secret not found")

var keyRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// Store is the interface for secret storage operations. Values are opaque
// bytes; Get returns ErrNotFound for an absent key and Delete of an absent
// key succeeds.
type Store interface {
	Set(key string, value []byte) error
	Get(key string) ([]byte, error)
	List() ([]string, error)
	Delete(key string) error
}

// ValidateKey rejects keys that cannot be used as Keychain accounts or file names.
func ValidateKey(key string) error {
	if !keyRe.MatchString(key) {
		return fmt.Errorf("invalid secret key %q", key)
	}
	return nil
}
