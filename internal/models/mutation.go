// Package models holds the shared domain types of the sync engine: the
// mutation log entry, conflict descriptions, delta batches, and the
// engine's status surface.
package models

import "time"

// MutationType identifies the kind of local write being replayed
type MutationType string

const (
	// MutationInsert creates a record
	MutationInsert MutationType = "INSERT"
	// MutationUpdate partially updates a record
	MutationUpdate MutationType = "UPDATE"
	// MutationDelete soft-deletes a record
	MutationDelete MutationType = "DELETE"
)

// Valid reports whether the type is one of the known mutation types
func (t MutationType) Valid() bool {
	switch t {
	case MutationInsert, MutationUpdate, MutationDelete:
		return true
	}
	return false
}

// MutationStatus is a mutation's lifecycle state in the queue
type MutationStatus string

const (
	// StatusPending means the mutation awaits its first (or next) push
	StatusPending MutationStatus = "pending"
	// StatusSyncing means a push attempt is in flight
	StatusSyncing MutationStatus = "syncing"
	// StatusSynced means the remote store accepted the write
	StatusSynced MutationStatus = "synced"
	// StatusFailed means the last push attempt was rejected or errored
	StatusFailed MutationStatus = "failed"
)

// Record is an entity payload: arbitrary JSON-shaped fields keyed by name
type Record = map[string]any

// Mutation is one durable entry in the local write log
type Mutation struct {
	Timestamp  time.Time      `json:"timestamp"`
	ID         string         `json:"id"`
	Table      string         `json:"table"`
	RecordID   string         `json:"record_id,omitempty"`
	Error      string         `json:"error,omitempty"`
	Type       MutationType   `json:"type"`
	Status     MutationStatus `json:"status"`
	Data       Record         `json:"data,omitempty"`
	RetryCount int            `json:"retry_count"`
}

// Clone returns a deep copy; mutating the copy never touches the original
func (m *Mutation) Clone() *Mutation {
	if m == nil {
		return nil
	}
	out := *m
	out.Data = CloneRecord(m.Data)
	return &out
}

// CloneRecord deep-copies a record, including nested maps and slices
func CloneRecord(rec Record) Record {
	if rec == nil {
		return nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
