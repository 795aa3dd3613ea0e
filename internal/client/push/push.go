// Package push drains the mutation queue against the remote entity store.
// Draining is strictly sequential: later mutations may depend on earlier
// writes to the same record, and conflict attribution must map one remote
// response to exactly one mutation.
package push

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tillsync/tillsync/internal/client/conflict"
	"github.com/tillsync/tillsync/internal/client/queue"
	"github.com/tillsync/tillsync/internal/models"
	"github.com/tillsync/tillsync/internal/remote"
)

//go:generate moq -out remotewriter_mock.go . RemoteWriter

// RemoteWriter is the slice of the remote store the push phase needs
type RemoteWriter interface {
	Insert(ctx context.Context, table string, data models.Record) (models.Record, error)
	Update(ctx context.Context, table, id string, data models.Record) (models.Record, error)
	Delete(ctx context.Context, table, id string) error
}

// Result aggregates one push cycle's outcome
type Result struct {
	Conflicts []*models.Conflict
	Synced    int
	Failed    int
}

// Executor runs the push phase of a sync cycle
type Executor struct {
	queue      *queue.Queue
	remote     RemoteWriter
	logger     *slog.Logger
	maxRetries int
}

// NewExecutor creates a push executor. maxRetries bounds how many times a
// failed mutation is requeued before it stays failed for good.
func NewExecutor(q *queue.Queue, rw RemoteWriter, maxRetries int, logger *slog.Logger) *Executor {
	return &Executor{
		queue:      q,
		remote:     rw,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Run pushes every pending mutation, oldest first. Each mutation's outcome
// is independent: a failure or conflict never aborts the cycle, so partial
// progress is preserved and the caller gets aggregate counts. Conflicted
// mutations are marked failed with the conflict reason, counted in Failed,
// and reported in the result; they are never retried automatically.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	// Give previously failed mutations another chance, within the cap
	requeued, err := e.queue.RequeueFailed(ctx, e.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue failed mutations: %w", err)
	}
	if requeued > 0 {
		e.logger.Debug("Requeued failed mutations", "count", requeued)
	}

	pending, err := e.queue.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending mutations: %w", err)
	}

	result := &Result{}

	for _, m := range pending {
		if err := e.queue.MarkStatus(ctx, m.ID, models.StatusSyncing, ""); err != nil {
			return result, fmt.Errorf("failed to mark mutation %s syncing: %w", m.ID, err)
		}

		pushErr := e.pushOne(ctx, m)

		switch {
		case pushErr == nil:
			if err := e.queue.MarkStatus(ctx, m.ID, models.StatusSynced, ""); err != nil {
				return result, fmt.Errorf("failed to mark mutation %s synced: %w", m.ID, err)
			}
			result.Synced++

		default:
			if ce, ok := remote.AsConflict(pushErr); ok {
				c := conflict.New(m, m.Data, ce.Remote)
				result.Conflicts = append(result.Conflicts, c)

				if err := e.queue.MarkStatus(ctx, m.ID, models.StatusFailed, queue.ConflictReason); err != nil {
					return result, fmt.Errorf("failed to mark mutation %s failed: %w", m.ID, err)
				}
				result.Failed++

				e.logger.Warn("Mutation conflicted",
					"id", m.ID,
					"table", m.Table,
					"record_id", m.RecordID,
					"fields", len(c.Fields))
				continue
			}

			if err := e.queue.MarkStatus(ctx, m.ID, models.StatusFailed, pushErr.Error()); err != nil {
				return result, fmt.Errorf("failed to mark mutation %s failed: %w", m.ID, err)
			}
			result.Failed++

			e.logger.Warn("Mutation push failed",
				"id", m.ID,
				"table", m.Table,
				"error", pushErr)
		}
	}

	e.logger.Info("Push cycle completed",
		"synced", result.Synced,
		"failed", result.Failed,
		"conflicts", len(result.Conflicts))

	return result, nil
}

// pushOne issues the remote write corresponding to one mutation
func (e *Executor) pushOne(ctx context.Context, m *models.Mutation) error {
	switch m.Type {
	case models.MutationInsert:
		_, err := e.remote.Insert(ctx, m.Table, m.Data)
		return err
	case models.MutationUpdate:
		_, err := e.remote.Update(ctx, m.Table, m.RecordID, m.Data)
		return err
	case models.MutationDelete:
		return e.remote.Delete(ctx, m.Table, m.RecordID)
	default:
		return fmt.Errorf("unknown mutation type %q", m.Type)
	}
}
