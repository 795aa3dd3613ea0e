package models

// Resolution names a conflict resolution strategy
type Resolution string

const (
	// ResolutionKeepLocal discards the remote version
	ResolutionKeepLocal Resolution = "keep-local"
	// ResolutionKeepRemote discards the local version
	ResolutionKeepRemote Resolution = "keep-remote"
	// ResolutionMerge combines both sides, automatically or per-field
	ResolutionMerge Resolution = "merge"
)

// ConflictField describes one field whose local and remote values diverged
type ConflictField struct {
	LocalValue  any    `json:"local_value"`
	RemoteValue any    `json:"remote_value"`
	Field       string `json:"field"`
	IsDifferent bool   `json:"is_different"`
}

// Conflict captures a mutation rejected by the remote store because its
// base version diverged, together with both sides of the divergence.
type Conflict struct {
	Mutation   *Mutation       `json:"mutation"`
	LocalData  Record          `json:"local_data"`
	RemoteData Record          `json:"remote_data"`
	Table      string          `json:"table"`
	RecordID   string          `json:"record_id"`
	Fields     []ConflictField `json:"fields"`
}
