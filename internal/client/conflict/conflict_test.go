package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/tillsync/internal/models"
)

func TestDetectExcludesSystemFields(t *testing.T) {
	local := models.Record{
		"id":           "p1",
		"created_at":   "2026-01-01T00:00:00Z",
		"updated_at":   "2026-01-02T00:00:00Z",
		"deleted_at":   nil,
		"product_name": "Local Name",
	}
	remote := models.Record{
		"id":           "p1",
		"created_at":   "2026-01-01T00:00:01Z",
		"updated_at":   "2026-01-03T00:00:00Z",
		"deleted_at":   "2026-01-04T00:00:00Z",
		"product_name": "Remote Name",
	}

	fields := Detect(local, remote)

	require.Len(t, fields, 1)
	assert.Equal(t, "product_name", fields[0].Field)
	assert.True(t, fields[0].IsDifferent)
	assert.Equal(t, "Local Name", fields[0].LocalValue)
	assert.Equal(t, "Remote Name", fields[0].RemoteValue)
}

func TestDetectUnionsFieldNames(t *testing.T) {
	local := models.Record{"a": 1, "shared": "x"}
	remote := models.Record{"b": 2, "shared": "x"}

	fields := Detect(local, remote)

	require.Len(t, fields, 2)
	// Deterministic alphabetical order
	assert.Equal(t, "a", fields[0].Field)
	assert.Equal(t, "b", fields[1].Field)
	assert.Nil(t, fields[0].RemoteValue)
	assert.Nil(t, fields[1].LocalValue)
}

func TestDetectDeepEquality(t *testing.T) {
	local := models.Record{
		"variants": []any{map[string]any{"size": "S", "price": 2}},
		"price":    2, // Go int
	}
	remote := models.Record{
		"variants": []any{map[string]any{"size": "S", "price": 2.0}},
		"price":    2.0, // JSON-decoded float64
	}

	// Numeric representation differences are not conflicts
	assert.Empty(t, Detect(local, remote))

	remote["variants"] = []any{map[string]any{"size": "M", "price": 2.0}}
	fields := Detect(local, remote)
	require.Len(t, fields, 1)
	assert.Equal(t, "variants", fields[0].Field)
}

func TestDetectEqualRecords(t *testing.T) {
	rec := models.Record{"name": "x", "qty": 3}
	assert.Empty(t, Detect(rec, rec))
}

func newTestConflict(localAt, remoteAt string) *models.Conflict {
	m := &models.Mutation{
		ID:       "01TEST",
		Type:     models.MutationUpdate,
		Table:    "products",
		RecordID: "p1",
	}
	local := models.Record{
		"id":           "p1",
		"product_name": "Local Name",
		"price":        9.5,
		"updated_at":   localAt,
	}
	remote := models.Record{
		"id":           "p1",
		"product_name": "Remote Name",
		"price":        9.5,
		"updated_at":   remoteAt,
	}
	return New(m, local, remote)
}

func TestResolveKeepLocal(t *testing.T) {
	c := newTestConflict("2026-01-02T00:00:00Z", "2026-01-01T00:00:00Z")

	resolved, err := Resolve(c, models.ResolutionKeepLocal, nil)
	require.NoError(t, err)
	assert.Equal(t, c.LocalData, resolved)

	// Resolution output is a copy, not an alias
	resolved["product_name"] = "Tampered"
	assert.Equal(t, "Local Name", c.LocalData["product_name"])
}

func TestResolveKeepRemote(t *testing.T) {
	c := newTestConflict("2026-01-02T00:00:00Z", "2026-01-01T00:00:00Z")

	resolved, err := Resolve(c, models.ResolutionKeepRemote, nil)
	require.NoError(t, err)
	assert.Equal(t, c.RemoteData, resolved)
}

func TestResolveCustomMerge(t *testing.T) {
	c := newTestConflict("2026-01-02T00:00:00Z", "2026-01-01T00:00:00Z")
	custom := models.Record{"product_name": "Chosen By Hand"}

	resolved, err := Resolve(c, models.ResolutionMerge, custom)
	require.NoError(t, err)
	assert.Equal(t, custom, resolved)

	// The output is a copy; later writes must not leak into the
	// caller's merge payload
	resolved["updated_at"] = "2026-01-03T00:00:00Z"
	assert.NotContains(t, custom, "updated_at")
}

func TestResolveUnknownResolution(t *testing.T) {
	c := newTestConflict("2026-01-02T00:00:00Z", "2026-01-01T00:00:00Z")

	_, err := Resolve(c, models.Resolution("coin-flip"), nil)
	assert.Error(t, err)
}

func TestAutoMergeLocalNewer(t *testing.T) {
	c := newTestConflict("2026-01-02T00:00:00Z", "2026-01-01T00:00:00Z")

	resolved, err := Resolve(c, models.ResolutionMerge, nil)
	require.NoError(t, err)

	// Every differing field takes the local value; base stays remote
	assert.Equal(t, "Local Name", resolved["product_name"])
	assert.Equal(t, "2026-01-01T00:00:00Z", resolved["updated_at"])
}

func TestAutoMergeRemoteNewer(t *testing.T) {
	c := newTestConflict("2026-01-01T00:00:00Z", "2026-01-02T00:00:00Z")

	resolved, err := Resolve(c, models.ResolutionMerge, nil)
	require.NoError(t, err)

	assert.Equal(t, "Remote Name", resolved["product_name"])
}

func TestAutoMergeNilRemote(t *testing.T) {
	m := &models.Mutation{ID: "01T", Type: models.MutationUpdate, Table: "products", RecordID: "p1"}
	local := models.Record{
		"product_name": "Local Name",
		"updated_at":   "2026-01-02T00:00:00Z",
	}

	// A rejection whose body could not be decoded leaves no remote record
	c := New(m, local, nil)

	resolved, err := Resolve(c, models.ResolutionMerge, nil)
	require.NoError(t, err)
	assert.Equal(t, "Local Name", resolved["product_name"])
}

func TestAutoMergeUnparsableTimestamps(t *testing.T) {
	c := newTestConflict("not-a-time", "also-not-a-time")

	resolved, err := Resolve(c, models.ResolutionMerge, nil)
	require.NoError(t, err)

	// Without a usable local timestamp the remote side stands
	assert.Equal(t, "Remote Name", resolved["product_name"])
}

func TestSuggest(t *testing.T) {
	tests := []struct {
		name     string
		localAt  string
		remoteAt string
		want     models.Resolution
	}{
		{"local newer", "2026-01-02T00:00:00Z", "2026-01-01T00:00:00Z", models.ResolutionKeepLocal},
		{"remote newer", "2026-01-01T00:00:00Z", "2026-01-02T00:00:00Z", models.ResolutionKeepRemote},
		{"tie", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z", models.ResolutionMerge},
		{"unparsable", "garbage", "garbage", models.ResolutionMerge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConflict(tt.localAt, tt.remoteAt)
			assert.Equal(t, tt.want, Suggest(c))
		})
	}
}

func TestSuggestWithTimeValues(t *testing.T) {
	m := &models.Mutation{ID: "01T", Type: models.MutationUpdate, Table: "products", RecordID: "p1"}
	later := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c := New(m,
		models.Record{"name": "a", "updated_at": later},
		models.Record{"name": "b", "updated_at": earlier})

	assert.Equal(t, models.ResolutionKeepLocal, Suggest(c))
}
