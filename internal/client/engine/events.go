package engine

import "github.com/tillsync/tillsync/internal/models"

// EventKind identifies an inbound orchestrator event
type EventKind int

const (
	// EventNetworkUp signals host network presence restored
	EventNetworkUp EventKind = iota
	// EventNetworkDown signals host network presence lost
	EventNetworkDown
	// EventSyncRequested is a manual sync trigger
	EventSyncRequested
	// EventFeedConnected signals the change-feed subscription was acknowledged
	EventFeedConnected
	// EventFeedError signals the change-feed subscription failed
	EventFeedError
	// EventFeedChange signals a remote change on a subscribed table
	EventFeedChange

	// eventSyncDone is posted internally when a sync cycle finishes
	eventSyncDone
)

// Event is one inbound event for the orchestrator's state machine. All
// trigger sources (manual, timer, change feed, network watcher) funnel
// through a single channel so the machine consumes them one at a time.
type Event struct {
	Err       error
	Table     string
	conflicts []*models.Conflict
	Kind      EventKind
}

func (k EventKind) String() string {
	switch k {
	case EventNetworkUp:
		return "network-up"
	case EventNetworkDown:
		return "network-down"
	case EventSyncRequested:
		return "sync-requested"
	case EventFeedConnected:
		return "feed-connected"
	case EventFeedError:
		return "feed-error"
	case EventFeedChange:
		return "feed-change"
	case eventSyncDone:
		return "sync-done"
	default:
		return "unknown"
	}
}
