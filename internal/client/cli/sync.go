package cli

import (
	"context"
	"fmt"

	"github.com/tillsync/tillsync/internal/client/conflict"
	"github.com/tillsync/tillsync/internal/client/pull"
	"github.com/tillsync/tillsync/internal/client/push"
	"github.com/tillsync/tillsync/internal/models"
)

// RunSync executes one manual push+pull cycle and reports the outcome.
// The pull phase is skipped when the push raised conflicts; those are
// printed with their suggested resolution for `resolve` to act on.
func (c *Cli) RunSync(ctx context.Context) error {
	fmt.Println("=== Synchronization ===")
	fmt.Println()

	pusher := push.NewExecutor(c.queue, c.remote, c.cfg.Sync.MaxRetries, c.logger)

	result, err := pusher.Run(ctx)
	if err != nil {
		return fmt.Errorf("push phase failed: %w", err)
	}

	fmt.Printf("Pushed to server:  %d mutations\n", result.Synced)
	if result.Failed > 0 {
		fmt.Printf("Failed:            %d mutations\n", result.Failed)
	}

	if len(result.Conflicts) > 0 {
		fmt.Println()
		fmt.Printf("✗ %d conflict(s) — pull skipped until resolved:\n", len(result.Conflicts))
		for _, cf := range result.Conflicts {
			printConflict(cf)
		}
		fmt.Println()
		fmt.Println("Resolve with: tillsync resolve <mutation-id> <keep-local|keep-remote|merge>")
		return nil
	}

	puller := pull.NewPuller(c.remote, c.store, c.store, c.pullTables(), c.cfg.Sync.BatchSize, c.logger)

	stats, err := puller.Run(ctx)
	if err != nil {
		return fmt.Errorf("pull phase failed: %w", err)
	}

	total := stats.Total()
	fmt.Printf("Pulled from server: %d added, %d updated, %d deleted (%.2fs)\n",
		total.Added, total.Updated, total.Deleted, stats.Duration.Seconds())

	if c.cfg.Sync.AutoClear {
		if _, err := c.queue.ClearSynced(ctx); err != nil {
			return fmt.Errorf("failed to clear synced mutations: %w", err)
		}
	}

	fmt.Println()
	fmt.Println("✓ Synchronization completed successfully!")
	return nil
}

func (c *Cli) pullTables() []pull.Table {
	tables := make([]pull.Table, 0, len(c.cfg.Sync.Tables))
	for _, t := range c.cfg.Sync.Tables {
		tables = append(tables, pull.Table{Name: t.Name, Mode: t.TableMode()})
	}
	return tables
}

func printConflict(cf *models.Conflict) {
	fmt.Printf("  mutation %s on %s/%s (suggested: %s)\n",
		cf.Mutation.ID, cf.Table, cf.RecordID, conflict.Suggest(cf))
	for _, f := range cf.Fields {
		fmt.Printf("    %-20s local=%v remote=%v\n", f.Field, f.LocalValue, f.RemoteValue)
	}
}
