package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutationTypeValid(t *testing.T) {
	assert.True(t, MutationInsert.Valid())
	assert.True(t, MutationUpdate.Valid())
	assert.True(t, MutationDelete.Valid())
	assert.False(t, MutationType("UPSERT").Valid())
	assert.False(t, MutationType("").Valid())
}

func TestMutationClone(t *testing.T) {
	original := &Mutation{
		ID:        "01ABC",
		Timestamp: time.Now().UTC(),
		Type:      MutationUpdate,
		Table:     "products",
		RecordID:  "p1",
		Status:    StatusPending,
		Data: Record{
			"product_name": "Espresso",
			"price":        2.5,
			"tags":         []any{"coffee", "hot"},
			"meta":         map[string]any{"sku": "ESP-01"},
		},
	}

	clone := original.Clone()
	require.Equal(t, original, clone)

	// Mutating nested clone data must not leak into the original
	clone.Data["product_name"] = "Lungo"
	clone.Data["meta"].(map[string]any)["sku"] = "LUN-01"
	clone.Data["tags"].([]any)[0] = "tea"

	assert.Equal(t, "Espresso", original.Data["product_name"])
	assert.Equal(t, "ESP-01", original.Data["meta"].(map[string]any)["sku"])
	assert.Equal(t, "coffee", original.Data["tags"].([]any)[0])
}

func TestCloneRecordNil(t *testing.T) {
	assert.Nil(t, CloneRecord(nil))
}

func TestDeltaBatchEmpty(t *testing.T) {
	batch := &DeltaBatch{
		Tables: []TableDelta{{Table: "products"}},
		Events: []EventDelta{{Table: "stock_movements"}},
	}
	assert.True(t, batch.Empty())

	batch.Tables[0].Changed = []Record{{"id": "p1"}}
	assert.False(t, batch.Empty())
}

func TestMergeStatsTotal(t *testing.T) {
	stats := &MergeStats{
		Tables: map[string]TableMergeStats{
			"products":  {Added: 2, Updated: 1, Deleted: 1},
			"customers": {Added: 1},
		},
	}

	total := stats.Total()
	assert.Equal(t, 3, total.Added)
	assert.Equal(t, 1, total.Updated)
	assert.Equal(t, 1, total.Deleted)
}
