package persist

import "fmt"

// CorruptionError reports a stored collection that could not be read or
// parsed during Load. The collection is left empty and loading continues.
type CorruptionError struct {
	Key string
	Err error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("stored %q is unreadable: %v", e.Key, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// PersistenceError reports a failed write or delete against the secret
// store. The in-memory change that triggered it is kept.
type PersistenceError struct {
	Key string
	Op  string // "write" or "delete"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
