package storage

import (
	"context"
	"time"
)

//go:generate moq -out metadatastore_mock.go . MetadataStore

// MetadataStore defines the interface for per-device sync metadata.
type MetadataStore interface {
	// SaveWatermark persists the timestamp of the last fully merged pull
	SaveWatermark(ctx context.Context, t time.Time) error

	// GetWatermark retrieves the last persisted watermark
	// Returns the zero time if no pull has ever been merged
	GetWatermark(ctx context.Context) (time.Time, error)

	// NodeID returns this device's stable identifier, generating and
	// persisting one on first call
	NodeID(ctx context.Context) (string, error)
}
