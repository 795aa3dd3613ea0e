package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tillsync/tillsync/internal/client/engine"
	"github.com/tillsync/tillsync/internal/client/pull"
	"github.com/tillsync/tillsync/internal/client/push"
	"github.com/tillsync/tillsync/internal/feed"
	"github.com/tillsync/tillsync/internal/netcheck"
)

const feedReconnectDelay = 5 * time.Second

// RunWatch runs the realtime sync engine until the context is canceled.
// The network watcher, the change-feed subscriber, and the periodic timer
// all feed the engine's single event channel.
func (c *Cli) RunWatch(ctx context.Context) error {
	pusher := push.NewExecutor(c.queue, c.remote, c.cfg.Sync.MaxRetries, c.logger)
	puller := pull.NewPuller(c.remote, c.store, c.store, c.pullTables(), c.cfg.Sync.BatchSize, c.logger)

	eng := engine.New(c.queue, pusher, puller, engine.Options{
		SyncInterval: time.Duration(c.cfg.Sync.Interval),
		AutoClear:    c.cfg.Sync.AutoClear,
	}, c.logger)

	// Print status transitions as they happen
	go func() {
		for status := range eng.Subscribe() {
			fmt.Printf("[%s] state=%s pending=%d\n",
				time.Now().Format("15:04:05"), status.State, status.Pending)
		}
	}()

	watcher := netcheck.NewWatcher(c.cfg.Remote.URL+"/health", 10*time.Second, c.logger)
	go watcher.Run(ctx)
	go c.bridgeNetwork(ctx, watcher, eng)

	if c.cfg.Feed.Enabled {
		go c.runFeed(ctx, eng)
	}

	fmt.Println("Watching for changes (Ctrl-C to stop)...")

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// bridgeNetwork converts presence transitions into engine events
func (c *Cli) bridgeNetwork(ctx context.Context, watcher *netcheck.Watcher, eng *engine.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case online := <-watcher.Changes():
			if online {
				eng.Notify(engine.Event{Kind: engine.EventNetworkUp})
				// Coming online is a natural moment to drain the queue
				eng.TriggerSync()
			} else {
				eng.Notify(engine.Event{Kind: engine.EventNetworkDown})
			}
		}
	}
}

// runFeed keeps a change-feed subscription alive, re-establishing it after
// failures. Subscription state and change events flow into the engine.
func (c *Cli) runFeed(ctx context.Context, eng *engine.Engine) {
	tables := make([]string, 0, len(c.cfg.Sync.Tables))
	for _, t := range c.cfg.Sync.Tables {
		tables = append(tables, t.Name)
	}

	for {
		sub := feed.NewSubscriber(c.cfg.Feed.URL, c.cfg.Remote.Token, tables, c.logger)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for n := range subNotifications(ctx, sub) {
				switch n.Kind {
				case feed.KindConnected:
					eng.Notify(engine.Event{Kind: engine.EventFeedConnected})
				case feed.KindError:
					eng.Notify(engine.Event{Kind: engine.EventFeedError, Err: n.Err})
				case feed.KindChange:
					eng.Notify(engine.Event{Kind: engine.EventFeedChange, Table: n.Event.Table})
				}
			}
		}()

		_ = sub.Run(ctx)
		<-done

		select {
		case <-ctx.Done():
			return
		case <-time.After(feedReconnectDelay):
		}
	}
}

// subNotifications adapts the subscriber channel to respect cancellation
func subNotifications(ctx context.Context, sub *feed.Subscriber) <-chan feed.Notification {
	out := make(chan feed.Notification)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-sub.Notifications():
				if !ok {
					return
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
