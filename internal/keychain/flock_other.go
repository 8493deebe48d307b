//go:build !unix

package keychain

import (
	"fmt"
	"os"
)

// lockDir only creates the lock file; advisory locking is unix-only.
func lockDir(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening store lock: %w", err)
	}
	return f, nil
}

func unlockDir(f *os.File) error {
	return f.Close()
}
