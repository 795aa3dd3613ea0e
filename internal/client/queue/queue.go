// Package queue implements the durable FIFO log of pending local writes.
// The queue exclusively owns mutation records until they reach synced, at
// which point they become eligible for its own garbage collection.
package queue

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tillsync/tillsync/internal/client/storage"
	"github.com/tillsync/tillsync/internal/models"
)

// ErrValidation indicates a malformed mutation payload rejected at enqueue
// time. Nothing is queued when it is returned.
var ErrValidation = errors.New("invalid mutation")

// ConflictReason is the failure reason recorded on mutations that were
// rejected by the remote store with a version conflict. Conflicted
// mutations are never requeued automatically.
const ConflictReason = "conflict"

// Stats are the aggregate queue counts.
type Stats struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// Queue is the durable mutation queue. Enqueue persists before returning:
// a mutation that survived Enqueue reappears from ListPending after a
// process restart.
type Queue struct {
	store   storage.MutationStore
	logger  *slog.Logger
	entropy *ulid.MonotonicEntropy
	mu      sync.Mutex
}

// New creates a new mutation queue over the given store
func New(store storage.MutationStore, logger *slog.Logger) *Queue {
	return &Queue{
		store:   store,
		logger:  logger,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Enqueue validates and persists a new pending mutation, returning it with
// its generated id. The id is a ULID, so ids created by concurrent devices
// never collide and sort by creation time.
func (q *Queue) Enqueue(ctx context.Context, typ models.MutationType, table, recordID string, data models.Record) (*models.Mutation, error) {
	if err := validate(typ, table, recordID, data); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	m := &models.Mutation{
		ID:        q.newID(now),
		Timestamp: now,
		Type:      typ,
		Table:     table,
		RecordID:  recordID,
		Data:      models.CloneRecord(data),
		Status:    models.StatusPending,
	}

	if err := q.store.SaveMutation(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to enqueue mutation: %w", err)
	}

	q.logger.Debug("Mutation enqueued",
		"id", m.ID,
		"type", m.Type,
		"table", m.Table,
		"record_id", m.RecordID)

	return m, nil
}

// ListPending returns pending mutations sorted ascending by timestamp,
// oldest first. FIFO order is a hard guarantee so dependent writes replay
// in causal order.
func (q *Queue) ListPending(ctx context.Context) ([]*models.Mutation, error) {
	mutations, err := q.store.ListMutationsByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending mutations: %w", err)
	}

	sort.Slice(mutations, func(i, j int) bool {
		if mutations[i].Timestamp.Equal(mutations[j].Timestamp) {
			return mutations[i].ID < mutations[j].ID
		}
		return mutations[i].Timestamp.Before(mutations[j].Timestamp)
	})

	return mutations, nil
}

// MarkStatus updates a mutation's lifecycle state. Setting StatusFailed
// records the reason and increments the retry counter; any other status
// clears the recorded error.
func (q *Queue) MarkStatus(ctx context.Context, id string, status models.MutationStatus, reason string) error {
	m, err := q.store.GetMutation(ctx, id)
	if err != nil {
		return err
	}

	m.Status = status
	if status == models.StatusFailed {
		m.RetryCount++
		m.Error = reason
	} else {
		m.Error = ""
	}

	if err := q.store.SaveMutation(ctx, m); err != nil {
		return fmt.Errorf("failed to update mutation status: %w", err)
	}

	return nil
}

// ClearSynced deletes all and only mutations with status synced, returning
// how many were removed. Pending, syncing, and failed mutations are never
// touched.
func (q *Queue) ClearSynced(ctx context.Context) (int, error) {
	count, err := q.store.DeleteMutationsByStatus(ctx, models.StatusSynced)
	if err != nil {
		return 0, fmt.Errorf("failed to clear synced mutations: %w", err)
	}

	if count > 0 {
		q.logger.Debug("Cleared synced mutations", "count", count)
	}

	return count, nil
}

// RequeueFailed resets failed mutations back to pending so the next push
// cycle retries them. Mutations at or past maxRetries stay failed, and
// conflicted mutations are excluded entirely: those wait for explicit
// resolution.
func (q *Queue) RequeueFailed(ctx context.Context, maxRetries int) (int, error) {
	failed, err := q.store.ListMutationsByStatus(ctx, models.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to list failed mutations: %w", err)
	}

	requeued := 0
	for _, m := range failed {
		if m.Error == ConflictReason || m.RetryCount >= maxRetries {
			continue
		}

		m.Status = models.StatusPending
		if err := q.store.SaveMutation(ctx, m); err != nil {
			return requeued, fmt.Errorf("failed to requeue mutation %s: %w", m.ID, err)
		}
		requeued++
	}

	return requeued, nil
}

// Stats returns aggregate queue counts. Read-only, no side effects.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	mutations, err := q.store.ListMutations(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list mutations: %w", err)
	}

	stats := Stats{Total: len(mutations)}
	for _, m := range mutations {
		switch m.Status {
		case models.StatusPending:
			stats.Pending++
		case models.StatusSyncing:
			stats.Syncing++
		case models.StatusFailed:
			stats.Failed++
		}
	}

	return stats, nil
}

// newID generates a monotonic ULID for the given creation time
func (q *Queue) newID(t time.Time) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), q.entropy).String()
}

// validate checks a mutation payload before anything is persisted
func validate(typ models.MutationType, table, recordID string, data models.Record) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown mutation type %q", ErrValidation, typ)
	}

	if table == "" {
		return fmt.Errorf("%w: table is required", ErrValidation)
	}

	switch typ {
	case models.MutationInsert:
		if len(data) == 0 {
			return fmt.Errorf("%w: INSERT requires data", ErrValidation)
		}
	case models.MutationUpdate:
		if recordID == "" {
			return fmt.Errorf("%w: UPDATE requires a record id", ErrValidation)
		}
		if len(data) == 0 {
			return fmt.Errorf("%w: UPDATE requires data", ErrValidation)
		}
	case models.MutationDelete:
		if recordID == "" {
			return fmt.Errorf("%w: DELETE requires a record id", ErrValidation)
		}
	}

	return nil
}
