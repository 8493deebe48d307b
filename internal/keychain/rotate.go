package keychain

import (
	"fmt"
)

// Rotate replaces the value under key with the one next derives from it.
// The key must exist; ErrNotFound is returned otherwise. If next fails the
// stored value is left as it was.
func Rotate(s Store, key string, next func(current []byte) ([]byte, error)) error {
	current, err := s.Get(key)
	if err != nil {
		return err
	}
	defer clear(current)

	value, err := next(current)
	if err != nil {
		return fmt.Errorf("rotating %s: %w", key, err)
	}
	if err := s.Set(key, value); err != nil {
		return fmt.Errorf("rotating %s: %w", key, err)
	}
	return nil
}
