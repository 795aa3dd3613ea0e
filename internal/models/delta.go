package models

import "time"

// TableMode selects how a table participates in delta sync
type TableMode string

const (
	// ModeEntities syncs by updated_at with deleted_at tombstones
	ModeEntities TableMode = "entities"
	// ModeEvents syncs append-only rows forward by created_at
	ModeEvents TableMode = "events"
)

// TableDelta is one entity table's slice of a delta batch
type TableDelta struct {
	Table   string   `json:"table"`
	Changed []Record `json:"changed,omitempty"`
	Deleted []Record `json:"deleted,omitempty"`
}

// EventDelta is one append-only table's slice of a delta batch
type EventDelta struct {
	Table  string   `json:"table"`
	Events []Record `json:"events,omitempty"`
}

// DeltaBatch is everything one pull fetched for a watermark window.
// ServerTime is the remote store's clock when the window was read; it
// becomes the next watermark once the batch has merged.
type DeltaBatch struct {
	ServerTime time.Time    `json:"server_time"`
	Tables     []TableDelta `json:"tables,omitempty"`
	Events     []EventDelta `json:"events,omitempty"`
}

// Empty reports whether the batch carries no records at all
func (b *DeltaBatch) Empty() bool {
	for _, td := range b.Tables {
		if len(td.Changed) > 0 || len(td.Deleted) > 0 {
			return false
		}
	}
	for _, ed := range b.Events {
		if len(ed.Events) > 0 {
			return false
		}
	}
	return true
}

// TableMergeStats counts one table's merge outcome
type TableMergeStats struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// MergeStats aggregates a whole batch's merge outcome per table
type MergeStats struct {
	Tables   map[string]TableMergeStats `json:"tables"`
	Duration time.Duration              `json:"duration"`
}

// Total sums the per-table counts
func (s *MergeStats) Total() TableMergeStats {
	var total TableMergeStats
	for _, ts := range s.Tables {
		total.Added += ts.Added
		total.Updated += ts.Updated
		total.Deleted += ts.Deleted
	}
	return total
}
