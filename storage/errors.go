package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned when a patch keeps losing the revision race.
	ErrConflict = errors.New("document changed concurrently")

	// ErrInvalidKey is returned for paths or scopes the KV key space rejects.
	ErrInvalidKey = errors.New("invalid storage key")
)
