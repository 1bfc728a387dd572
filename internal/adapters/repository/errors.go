package repository

import "errors"

// Sentinel kinds for rating store errors.
var (
	ErrNotFound      = errors.New("item not found")
	ErrInvalidUpdate = errors.New("invalid item update")
	ErrClosed        = errors.New("store closed")
	// ErrStoreUnavailable marks a store call that kept failing after retries.
	ErrStoreUnavailable = errors.New("rating store unavailable")
)
