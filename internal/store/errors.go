package store

import "errors"

// Sentinel errors. Callers match them with errors.Is.
var (
	// ErrValidation marks bad input: count or dimension mismatches, reserved
	// metadata keys, unknown distance functions.
	ErrValidation = errors.New("validation failed")

	// ErrStoreInit is returned when the backing store cannot be opened or migrated.
	ErrStoreInit = errors.New("store initialization failed")

	// ErrStoreOperation wraps write failures against the backing store.
	ErrStoreOperation = errors.New("store operation failed")

	// ErrCollectionNotFound is returned when a named collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")
)
