package storage

import "errors"

// Common client storage errors
var (
	// ErrMutationNotFound indicates that no mutation exists for the id
	ErrMutationNotFound = errors.New("mutation not found")

	// ErrRecordNotFound indicates that the snapshot has no such record
	ErrRecordNotFound = errors.New("record not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
