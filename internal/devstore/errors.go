package devstore

import "errors"

// Common devstore errors
var (
	// ErrNotFound indicates the record doesn't exist or is soft-deleted
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates the write was based on a stale version; the
	// caller receives the current record alongside this error
	ErrConflict = errors.New("version conflict")
)
