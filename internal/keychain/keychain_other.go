//go:build !darwin

package keychain

// NewSystemStore returns an age-encrypted FileStore rooted at dir on
// non-darwin platforms, where the macOS Keychain is not available.
func NewSystemStore(dir string) (Store, error) {
	store, err := NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	return store, nil
}
