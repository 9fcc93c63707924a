package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a request that failed business validation.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition indicates a state change not legal from the
	// document's current status. Recoverable: the caller can pick a
	// different action.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrExpired indicates the quote's validity window has passed.
	ErrExpired = errors.New("validity expired")
	// ErrConcurrentModification indicates the document changed between
	// read and write. The caller should re-fetch and retry.
	ErrConcurrentModification = errors.New("concurrent modification")
)
