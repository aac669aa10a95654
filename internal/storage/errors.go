package storage

import "errors"

// Storage errors shared by every backend.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCapacityExceeded is returned when a durable store has no room for a write.
	// Callers may free space and retry.
	ErrCapacityExceeded = errors.New("storage capacity exceeded")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
