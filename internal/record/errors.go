package record

import "errors"

var (
	// ErrValidation is returned when required fields are missing. Nothing is mutated.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when an operation targets an id that is not in the collection.
	ErrNotFound = errors.New("record not found")

	// ErrNotUnlocked is returned by every Store operation while the vault is locked.
	ErrNotUnlocked = errors.New("vault is locked")
)
