package storage

import (
	"context"

	"github.com/tillsync/tillsync/internal/models"
)

//go:generate moq -out snapshotstore_mock.go . SnapshotStore

// SnapshotStore defines the interface for the cached entity snapshot.
// One logical collection per table, keyed by entity id.
type SnapshotStore interface {
	// ApplyDelta merges a delta batch into the snapshot in a single
	// transaction: changed records upsert, tombstones remove, events
	// upsert by id (re-applying an overlapping window is a no-op).
	// Either the whole batch commits or the snapshot is unchanged.
	ApplyDelta(ctx context.Context, batch *models.DeltaBatch) (*models.MergeStats, error)

	// PutRecord upserts a single record into a table's snapshot.
	// Used to reflect confirmed local writes without a full pull.
	PutRecord(ctx context.Context, table string, rec models.Record) error

	// GetRecord retrieves one record by id
	// Returns ErrRecordNotFound if the table or record is unknown
	GetRecord(ctx context.Context, table, id string) (models.Record, error)

	// ListRecords returns all records cached for a table
	ListRecords(ctx context.Context, table string) ([]models.Record, error)

	// CountRecords returns the number of records cached for a table
	CountRecords(ctx context.Context, table string) (int, error)
}
