// Package pull fetches remote changes since the watermark and merges them
// into the local snapshot. The watermark only advances after a batch has
// fully merged; a failed pull leaves it untouched so the next attempt
// re-requests the same window (at-least-once semantics, made safe by the
// id-keyed merge in the snapshot store).
package pull

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tillsync/tillsync/internal/client/storage"
	"github.com/tillsync/tillsync/internal/models"
)

//go:generate moq -out remotereader_mock.go . RemoteReader

// RemoteReader is the slice of the remote store the pull phase needs.
// Each query also reports the server's response time, which becomes the
// next watermark candidate.
type RemoteReader interface {
	Changed(ctx context.Context, table string, since time.Time, limit int) ([]models.Record, time.Time, error)
	Tombstones(ctx context.Context, table string, since time.Time, limit int) ([]models.Record, time.Time, error)
	Events(ctx context.Context, table string, since time.Time, limit int) ([]models.Record, time.Time, error)
}

// Table describes one synced table
type Table struct {
	Name string
	Mode models.TableMode
}

// Puller runs the pull phase of a sync cycle
type Puller struct {
	remote    RemoteReader
	snapshots storage.SnapshotStore
	meta      storage.MetadataStore
	logger    *slog.Logger
	tables    []Table
	batchSize int
}

// NewPuller creates a delta puller for the given tables. batchSize bounds
// every delta query; a short page simply leaves the watermark behind the
// remote head, so the next cycle picks up the remainder.
func NewPuller(remote RemoteReader, snapshots storage.SnapshotStore, meta storage.MetadataStore, tables []Table, batchSize int, logger *slog.Logger) *Puller {
	return &Puller{
		remote:    remote,
		snapshots: snapshots,
		meta:      meta,
		tables:    tables,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run pulls one delta batch and merges it. The new watermark is the
// server-reported time of the first query, captured before any rows were
// read, so a slow merge can never open a gap; when the server reports no
// time, the client's clock just before the queries stands in.
func (p *Puller) Run(ctx context.Context) (*models.MergeStats, error) {
	watermark, err := p.meta.GetWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load watermark: %w", err)
	}

	fallback := time.Now().UTC()

	batch, err := p.fetch(ctx, watermark)
	if err != nil {
		return nil, err
	}
	if batch.ServerTime.IsZero() {
		batch.ServerTime = fallback
	}

	stats, err := p.snapshots.ApplyDelta(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to merge delta batch: %w", err)
	}

	if err := p.meta.SaveWatermark(ctx, batch.ServerTime); err != nil {
		return nil, fmt.Errorf("failed to advance watermark: %w", err)
	}

	total := stats.Total()
	p.logger.Info("Pull cycle completed",
		"watermark", watermark,
		"new_watermark", batch.ServerTime,
		"added", total.Added,
		"updated", total.Updated,
		"deleted", total.Deleted,
		"duration_ms", stats.Duration.Milliseconds())

	return stats, nil
}

// fetch assembles the delta batch for one watermark window. Any query
// failure fails the whole pull; partial batches are never merged.
func (p *Puller) fetch(ctx context.Context, watermark time.Time) (*models.DeltaBatch, error) {
	batch := &models.DeltaBatch{}

	for _, t := range p.tables {
		switch t.Mode {
		case models.ModeEvents:
			events, serverTime, err := p.remote.Events(ctx, t.Name, watermark, p.batchSize)
			if err != nil {
				return nil, fmt.Errorf("events query for %q failed: %w", t.Name, err)
			}
			noteServerTime(batch, serverTime)
			batch.Events = append(batch.Events, models.EventDelta{Table: t.Name, Events: events})

		default:
			changed, serverTime, err := p.remote.Changed(ctx, t.Name, watermark, p.batchSize)
			if err != nil {
				return nil, fmt.Errorf("changed query for %q failed: %w", t.Name, err)
			}
			noteServerTime(batch, serverTime)

			deleted, serverTime, err := p.remote.Tombstones(ctx, t.Name, watermark, p.batchSize)
			if err != nil {
				return nil, fmt.Errorf("tombstone query for %q failed: %w", t.Name, err)
			}
			noteServerTime(batch, serverTime)

			batch.Tables = append(batch.Tables, models.TableDelta{
				Table:   t.Name,
				Changed: changed,
				Deleted: deleted,
			})
		}
	}

	return batch, nil
}

// noteServerTime keeps the earliest server-reported time seen in this
// batch: advancing past a later query's time could skip rows written while
// the earlier queries ran.
func noteServerTime(batch *models.DeltaBatch, t time.Time) {
	if t.IsZero() {
		return
	}
	if batch.ServerTime.IsZero() || t.Before(batch.ServerTime) {
		batch.ServerTime = t
	}
}
