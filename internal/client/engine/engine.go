// Package engine implements the realtime sync orchestrator: a state
// machine over {offline, online, syncing, error} that sequences the push
// and pull phases against network presence, change-feed notifications,
// periodic timers, and manual triggers.
//
// The engine is an explicit instance owning its collaborators; it carries
// no presentation concerns and no ambient globals. Any front end drives it
// through Notify/TriggerSync and observes it through Status/Subscribe.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tillsync/tillsync/internal/client/conflict"
	"github.com/tillsync/tillsync/internal/client/push"
	"github.com/tillsync/tillsync/internal/client/queue"
	"github.com/tillsync/tillsync/internal/models"
)

//go:generate moq -out phases_mock.go . Pusher Puller

// Pusher runs the push phase of a cycle
type Pusher interface {
	Run(ctx context.Context) (*push.Result, error)
}

// Puller runs the pull phase of a cycle
type Puller interface {
	Run(ctx context.Context) (*models.MergeStats, error)
}

// Options tunes the orchestrator
type Options struct {
	// SyncInterval is the periodic trigger; it only fires while online
	SyncInterval time.Duration
	// AutoClear garbage-collects synced mutations after a clean cycle
	AutoClear bool
}

// Engine is the realtime sync orchestrator
type Engine struct {
	queue  *queue.Queue
	pusher Pusher
	puller Puller
	logger *slog.Logger
	opts   Options

	events chan Event

	// busy guards the sync cycle: concurrent triggers (manual, timer,
	// change feed) are coalesced so at most one cycle runs at a time.
	busy atomic.Bool

	mu        sync.Mutex
	state     models.SyncState
	conflicts []*models.Conflict
	subs      []chan models.SyncStatus
}

// New creates an orchestrator in the offline state
func New(q *queue.Queue, pusher Pusher, puller Puller, opts Options, logger *slog.Logger) *Engine {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 30 * time.Second
	}

	return &Engine{
		queue:  q,
		pusher: pusher,
		puller: puller,
		opts:   opts,
		logger: logger,
		state:  models.StateOffline,
		events: make(chan Event, 32),
	}
}

// Run consumes events until the context is canceled. Events are handled
// strictly one at a time, which keeps every transition deterministic.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-e.events:
			e.handle(ctx, ev)

		case <-ticker.C:
			// The timer is self-throttling: it only triggers while
			// online, never while offline, syncing, or errored
			if e.State() == models.StateOnline {
				e.startSync(ctx)
			}
		}
	}
}

// Notify injects an external event. It never blocks: if the engine's
// buffer is full the event is dropped, which is safe for triggers (the
// periodic timer covers them) and logged for everything else.
func (e *Engine) Notify(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("Dropping engine event", "kind", ev.Kind)
	}
}

// TriggerSync requests a sync cycle (manual trigger)
func (e *Engine) TriggerSync() {
	e.Notify(Event{Kind: EventSyncRequested})
}

// State returns the current machine state
func (e *Engine) State() models.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns the user-facing indicator: state plus pending count
func (e *Engine) Status(ctx context.Context) (models.SyncStatus, error) {
	stats, err := e.queue.Stats(ctx)
	if err != nil {
		return models.SyncStatus{}, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return models.SyncStatus{State: e.State(), Pending: stats.Pending}, nil
}

// Subscribe returns a channel receiving a status update on every state
// transition. Slow subscribers miss intermediate updates rather than
// blocking the state machine.
func (e *Engine) Subscribe() <-chan models.SyncStatus {
	ch := make(chan models.SyncStatus, 8)

	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()

	return ch
}

// Conflicts returns the conflicts awaiting resolution
func (e *Engine) Conflicts() []*models.Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*models.Conflict, len(e.conflicts))
	copy(out, e.conflicts)
	return out
}

// Resolve applies a resolution to a pending conflict and re-submits the
// resolved payload as a fresh UPDATE mutation through the normal queue
// path. The resolved write is based on the remote version it was resolved
// against, so it cannot re-raise the same divergence.
func (e *Engine) Resolve(ctx context.Context, mutationID string, resolution models.Resolution, customMerge models.Record) (*models.Mutation, error) {
	c := e.takeConflict(mutationID)
	if c == nil {
		return nil, fmt.Errorf("no pending conflict for mutation %q", mutationID)
	}

	resolved, err := conflict.Resolve(c, resolution, customMerge)
	if err != nil {
		e.restoreConflict(c)
		return nil, err
	}
	if resolved == nil {
		// A DELETE conflict has no local payload, so keep-local can
		// resolve to nothing
		resolved = models.Record{}
	}

	if base, ok := c.RemoteData["updated_at"]; ok {
		resolved["updated_at"] = base
	}

	m, err := e.queue.Enqueue(ctx, models.MutationUpdate, c.Table, c.RecordID, resolved)
	if err != nil {
		e.restoreConflict(c)
		return nil, fmt.Errorf("failed to enqueue resolved write: %w", err)
	}

	e.logger.Info("Conflict resolved",
		"mutation_id", mutationID,
		"resolution", resolution,
		"table", c.Table,
		"record_id", c.RecordID,
		"requeued_as", m.ID)

	return m, nil
}

// handle applies one event to the state machine
func (e *Engine) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventNetworkDown:
		// Offline from any state. An in-flight push/pull is not aborted;
		// it completes or fails on its own and its completion event finds
		// the machine offline.
		e.setState(ctx, models.StateOffline)

	case EventNetworkUp:
		if e.State() == models.StateOffline {
			e.setState(ctx, models.StateOnline)
		}

	case EventFeedConnected:
		if e.State() != models.StateSyncing {
			e.setState(ctx, models.StateOnline)
		}

	case EventFeedError:
		e.logger.Warn("Change feed error", "error", ev.Err)
		e.setState(ctx, models.StateError)

	case EventSyncRequested:
		e.startSync(ctx)

	case EventFeedChange:
		// A remote write by another client is itself a sync trigger, so
		// it is absorbed promptly instead of waiting for the next tick
		e.logger.Debug("Change feed notification", "table", ev.Table)
		e.startSync(ctx)

	case eventSyncDone:
		e.finishSync(ctx, ev)
	}
}

// startSync begins a sync cycle unless offline or one is already running
func (e *Engine) startSync(ctx context.Context) {
	if e.State() == models.StateOffline {
		e.logger.Debug("Skipping sync while offline")
		return
	}

	if !e.busy.CompareAndSwap(false, true) {
		e.logger.Debug("Sync already in progress, coalescing trigger")
		return
	}

	e.setState(ctx, models.StateSyncing)

	go e.runCycle(ctx)
}

// runCycle executes push then pull off the event loop and reports back
// through an internal event. The pull phase only runs when the push phase
// raised no conflicts: merging stale pulled data over a record whose
// resolution is pending would overwrite the local side of the conflict.
func (e *Engine) runCycle(ctx context.Context) {
	result, err := e.pusher.Run(ctx)
	if err != nil {
		e.Notify(Event{Kind: eventSyncDone, Err: fmt.Errorf("push phase failed: %w", err)})
		return
	}

	if len(result.Conflicts) > 0 {
		e.logger.Warn("Pausing pull phase until conflicts are resolved",
			"conflicts", len(result.Conflicts))
		e.Notify(Event{Kind: eventSyncDone, conflicts: result.Conflicts})
		return
	}

	if _, err := e.puller.Run(ctx); err != nil {
		e.Notify(Event{Kind: eventSyncDone, Err: fmt.Errorf("pull phase failed: %w", err)})
		return
	}

	if e.opts.AutoClear {
		if _, err := e.queue.ClearSynced(ctx); err != nil {
			e.logger.Warn("Failed to clear synced mutations", "error", err)
		}
	}

	e.Notify(Event{Kind: eventSyncDone})
}

// finishSync records a cycle's outcome and leaves the syncing state
func (e *Engine) finishSync(ctx context.Context, ev Event) {
	e.busy.Store(false)

	if len(ev.conflicts) > 0 {
		e.addConflicts(ev.conflicts)
	}

	current := e.State()

	switch {
	case ev.Err != nil:
		e.logger.Error("Sync cycle failed", "error", ev.Err)
		if current != models.StateOffline {
			e.setState(ctx, models.StateError)
		}
	case current == models.StateOffline:
		// Network was lost while the cycle ran; stay offline
	default:
		e.setState(ctx, models.StateOnline)
	}
}

// setState transitions the machine and broadcasts the new status
func (e *Engine) setState(ctx context.Context, state models.SyncState) {
	e.mu.Lock()
	if e.state == state {
		e.mu.Unlock()
		return
	}
	old := e.state
	e.state = state
	subs := make([]chan models.SyncStatus, len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	e.logger.Info("Sync state changed", "from", old, "to", state)

	pending := 0
	if stats, err := e.queue.Stats(ctx); err == nil {
		pending = stats.Pending
	}

	status := models.SyncStatus{State: state, Pending: pending}
	for _, ch := range subs {
		select {
		case ch <- status:
		default:
		}
	}
}

// addConflicts appends newly raised conflicts, deduped by mutation id
func (e *Engine) addConflicts(conflicts []*models.Conflict) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool, len(e.conflicts))
	for _, c := range e.conflicts {
		seen[c.Mutation.ID] = true
	}

	for _, c := range conflicts {
		if !seen[c.Mutation.ID] {
			e.conflicts = append(e.conflicts, c)
			seen[c.Mutation.ID] = true
		}
	}
}

// takeConflict removes and returns the conflict for a mutation id
func (e *Engine) takeConflict(mutationID string) *models.Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, c := range e.conflicts {
		if c.Mutation.ID == mutationID {
			e.conflicts = append(e.conflicts[:i], e.conflicts[i+1:]...)
			return c
		}
	}
	return nil
}

func (e *Engine) restoreConflict(c *models.Conflict) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conflicts = append(e.conflicts, c)
}
