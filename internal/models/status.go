package models

// SyncState is the orchestrator's machine state
type SyncState string

const (
	// StateOffline means no network presence; syncing is suspended
	StateOffline SyncState = "offline"
	// StateOnline means connected and idle between sync cycles
	StateOnline SyncState = "online"
	// StateSyncing means a push/pull cycle is in flight
	StateSyncing SyncState = "syncing"
	// StateError means the last cycle or the change feed failed
	StateError SyncState = "error"
)

// SyncStatus is the user-facing indicator: machine state plus the number
// of local writes still waiting to reach the remote store.
type SyncStatus struct {
	State   SyncState `json:"state"`
	Pending int       `json:"pending"`
}
