package cli

import (
	"context"
	"fmt"
)

// RunStatus prints the queue counts, watermark, and snapshot sizes
func (c *Cli) RunStatus(ctx context.Context) error {
	stats, err := c.queue.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue stats: %w", err)
	}

	watermark, err := c.store.GetWatermark(ctx)
	if err != nil {
		return fmt.Errorf("failed to read watermark: %w", err)
	}

	fmt.Println("=== Sync Status ===")
	fmt.Println()
	fmt.Printf("Pending mutations: %d\n", stats.Pending)
	fmt.Printf("Syncing mutations: %d\n", stats.Syncing)
	fmt.Printf("Failed mutations:  %d\n", stats.Failed)
	fmt.Printf("Total queued:      %d\n", stats.Total)
	fmt.Println()

	if watermark.IsZero() {
		fmt.Println("Watermark: never synced")
	} else {
		fmt.Printf("Watermark: %s\n", watermark.Format("2006-01-02 15:04:05 MST"))
	}

	fmt.Println()
	fmt.Println("Cached records:")
	for _, t := range c.cfg.Sync.Tables {
		count, err := c.store.CountRecords(ctx, t.Name)
		if err != nil {
			return fmt.Errorf("failed to count %s records: %w", t.Name, err)
		}
		fmt.Printf("  %-20s %d\n", t.Name, count)
	}

	return nil
}

// RunClearSynced garbage-collects synced mutations
func (c *Cli) RunClearSynced(ctx context.Context) error {
	count, err := c.queue.ClearSynced(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d synced mutations\n", count)
	return nil
}
