package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/tillsync/internal/client/storage"
	"github.com/tillsync/tillsync/internal/models"
)

func TestApplyDeltaUpsertsAndDeletes(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, "products", models.Record{"id": "p1", "product_name": "Old"}))

	batch := &models.DeltaBatch{
		ServerTime: time.Now().UTC(),
		Tables: []models.TableDelta{{
			Table: "products",
			Changed: []models.Record{
				{"id": "p1", "product_name": "New"},
				{"id": "p2", "product_name": "Fresh"},
			},
			Deleted: []models.Record{
				{"id": "p3"}, // never existed; tombstone replay is a no-op
			},
		}},
	}

	stats, err := s.ApplyDelta(ctx, batch)
	require.NoError(t, err)

	ts := stats.Tables["products"]
	assert.Equal(t, 1, ts.Added)
	assert.Equal(t, 1, ts.Updated)
	assert.Equal(t, 0, ts.Deleted)

	got, err := s.GetRecord(ctx, "products", "p1")
	require.NoError(t, err)
	assert.Equal(t, "New", got["product_name"])
}

func TestApplyDeltaTombstoneRemoves(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, "products", models.Record{"id": "p1"}))

	batch := &models.DeltaBatch{
		Tables: []models.TableDelta{{
			Table:   "products",
			Deleted: []models.Record{{"id": "p1", "deleted_at": "2026-01-01T00:00:00Z"}},
		}},
	}

	stats, err := s.ApplyDelta(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tables["products"].Deleted)

	_, err = s.GetRecord(ctx, "products", "p1")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestApplyDeltaIdempotent(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	batch := &models.DeltaBatch{
		Tables: []models.TableDelta{{
			Table:   "products",
			Changed: []models.Record{{"id": "p1", "product_name": "Same"}},
			Deleted: []models.Record{{"id": "p2"}},
		}},
		Events: []models.EventDelta{{
			Table:  "stock_movements",
			Events: []models.Record{{"id": "e1", "qty": 5.0}},
		}},
	}

	_, err := s.ApplyDelta(ctx, batch)
	require.NoError(t, err)

	first, err := s.ListRecords(ctx, "products")
	require.NoError(t, err)

	// Replaying the same window must not change the snapshot
	_, err = s.ApplyDelta(ctx, batch)
	require.NoError(t, err)

	second, err := s.ListRecords(ctx, "products")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	count, err := s.CountRecords(ctx, "stock_movements")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestApplyDeltaEventDedup(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	first := &models.DeltaBatch{
		Events: []models.EventDelta{{
			Table:  "stock_movements",
			Events: []models.Record{{"id": "e1"}, {"id": "e2"}},
		}},
	}
	_, err := s.ApplyDelta(ctx, first)
	require.NoError(t, err)

	// Overlapping pull window re-delivers e2 alongside a new event
	overlap := &models.DeltaBatch{
		Events: []models.EventDelta{{
			Table:  "stock_movements",
			Events: []models.Record{{"id": "e2"}, {"id": "e3"}},
		}},
	}
	stats, err := s.ApplyDelta(ctx, overlap)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tables["stock_movements"].Added)

	count, err := s.CountRecords(ctx, "stock_movements")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestApplyDeltaRollsBackOnBadRecord(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	batch := &models.DeltaBatch{
		Tables: []models.TableDelta{{
			Table: "products",
			Changed: []models.Record{
				{"id": "p1", "product_name": "Good"},
				{"product_name": "No ID"},
			},
		}},
	}

	_, err := s.ApplyDelta(ctx, batch)
	require.Error(t, err)

	// The whole batch rolled back, including the valid record before the bad one
	count, err := s.CountRecords(ctx, "products")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestGetRecordNotFound(t *testing.T) {
	s, _ := newTestStorage(t)

	_, err := s.GetRecord(context.Background(), "products", "missing")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestListRecordsEmptyTable(t *testing.T) {
	s, _ := newTestStorage(t)

	records, err := s.ListRecords(context.Background(), "never-pulled")
	require.NoError(t, err)
	assert.Empty(t, records)
}
