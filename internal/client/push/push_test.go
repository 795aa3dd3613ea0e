package push

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/tillsync/internal/client/queue"
	"github.com/tillsync/tillsync/internal/client/storage/boltdb"
	"github.com/tillsync/tillsync/internal/models"
	"github.com/tillsync/tillsync/internal/remote"
)

// remoteWriterMock is a hand-rolled RemoteWriter test double
type remoteWriterMock struct {
	InsertFunc func(ctx context.Context, table string, data models.Record) (models.Record, error)
	UpdateFunc func(ctx context.Context, table, id string, data models.Record) (models.Record, error)
	DeleteFunc func(ctx context.Context, table, id string) error
}

func (m *remoteWriterMock) Insert(ctx context.Context, table string, data models.Record) (models.Record, error) {
	return m.InsertFunc(ctx, table, data)
}

func (m *remoteWriterMock) Update(ctx context.Context, table, id string, data models.Record) (models.Record, error) {
	return m.UpdateFunc(ctx, table, id, data)
}

func (m *remoteWriterMock) Delete(ctx context.Context, table, id string) error {
	return m.DeleteFunc(ctx, table, id)
}

func okWriter() *remoteWriterMock {
	return &remoteWriterMock{
		InsertFunc: func(_ context.Context, _ string, data models.Record) (models.Record, error) {
			return data, nil
		},
		UpdateFunc: func(_ context.Context, _ string, _ string, data models.Record) (models.Record, error) {
			return data, nil
		},
		DeleteFunc: func(_ context.Context, _ string, _ string) error {
			return nil
		},
	}
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "push-test.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return queue.New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunDrainsQueueInOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.MutationInsert, "products", "", models.Record{"product_name": "v1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, models.MutationUpdate, "products", "p1", models.Record{"product_name": "v2"})
	require.NoError(t, err)

	var pushed []string
	rw := okWriter()
	rw.InsertFunc = func(_ context.Context, _ string, data models.Record) (models.Record, error) {
		pushed = append(pushed, data["product_name"].(string))
		return data, nil
	}
	rw.UpdateFunc = func(_ context.Context, _ string, _ string, data models.Record) (models.Record, error) {
		pushed = append(pushed, data["product_name"].(string))
		return data, nil
	}

	result, err := NewExecutor(q, rw, 5, discardLogger()).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, result.Conflicts)
	// Oldest first: the insert precedes the dependent update
	assert.Equal(t, []string{"v1", "v2"}, pushed)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
}

func TestRunReportsConflict(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	m, err := q.Enqueue(ctx, models.MutationUpdate, "products", "p1", models.Record{
		"product_name": "Local Name",
		"updated_at":   "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)

	remoteRecord := models.Record{
		"id":           "p1",
		"product_name": "Remote Name",
		"updated_at":   "2026-01-02T00:00:00Z",
	}

	rw := okWriter()
	rw.UpdateFunc = func(_ context.Context, table, id string, _ models.Record) (models.Record, error) {
		return nil, &remote.ConflictError{Table: table, RecordID: id, Remote: remoteRecord}
	}

	result, err := NewExecutor(q, rw, 5, discardLogger()).Run(ctx)
	require.NoError(t, err)

	// A conflicted mutation counts as failed and is reported separately
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Conflicts, 1)

	c := result.Conflicts[0]
	assert.Equal(t, m.ID, c.Mutation.ID)
	assert.Equal(t, "Remote Name", c.RemoteData["product_name"])
	require.NotEmpty(t, c.Fields)

	// Conflicted mutations stay failed with the conflict reason and are
	// excluded from automatic requeue
	got, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Failed)

	requeued, err := q.RequeueFailed(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, requeued)
}

func TestRunContinuesPastFailures(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.MutationInsert, "products", "", models.Record{"n": 1})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, models.MutationDelete, "products", "p1", nil)
	require.NoError(t, err)

	rw := okWriter()
	rw.InsertFunc = func(_ context.Context, _ string, _ models.Record) (models.Record, error) {
		return nil, errors.New("connection reset")
	}

	result, err := NewExecutor(q, rw, 5, discardLogger()).Run(ctx)
	require.NoError(t, err)

	// The delete after the failed insert was still attempted and synced
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Failed)
}

func TestRunRequeuesFailedFirst(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	m, err := q.Enqueue(ctx, models.MutationInsert, "products", "", models.Record{"n": 1})
	require.NoError(t, err)
	require.NoError(t, q.MarkStatus(ctx, m.ID, models.StatusFailed, "timeout"))

	result, err := NewExecutor(q, okWriter(), 5, discardLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
}

func TestRunEmptyQueue(t *testing.T) {
	q := newTestQueue(t)

	result, err := NewExecutor(q, okWriter(), 5, discardLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Result{}, result)
}
