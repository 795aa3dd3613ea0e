package cli

import (
	"context"
	"fmt"

	"github.com/tillsync/tillsync/internal/client/conflict"
	"github.com/tillsync/tillsync/internal/client/queue"
	"github.com/tillsync/tillsync/internal/models"
)

// RunResolve resolves a conflicted mutation from a previous cycle. The
// current remote record is re-fetched so resolution always runs against
// the freshest divergence, then the resolved payload is queued as a new
// UPDATE based on the remote version.
func (c *Cli) RunResolve(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: resolve <mutation-id> <keep-local|keep-remote|merge>")
	}

	mutationID := args[0]
	resolution := models.Resolution(args[1])

	m, err := c.store.GetMutation(ctx, mutationID)
	if err != nil {
		return err
	}

	if m.Status != models.StatusFailed || m.Error != queue.ConflictReason {
		return fmt.Errorf("mutation %s is not conflicted (status=%s)", mutationID, m.Status)
	}

	remoteData, err := c.remote.Get(ctx, m.Table, m.RecordID)
	if err != nil {
		return fmt.Errorf("failed to fetch remote record: %w", err)
	}

	cf := conflict.New(m, m.Data, remoteData)

	if len(cf.Fields) == 0 {
		fmt.Println("No remaining divergence; nothing to resolve.")
		return nil
	}

	printConflict(cf)

	resolved, err := conflict.Resolve(cf, resolution, nil)
	if err != nil {
		return err
	}

	// Base the re-submitted write on the remote version so it cannot
	// re-raise the same divergence
	if base, ok := remoteData["updated_at"]; ok {
		resolved["updated_at"] = base
	}

	requeued, err := c.queue.Enqueue(ctx, models.MutationUpdate, m.Table, m.RecordID, resolved)
	if err != nil {
		return fmt.Errorf("failed to enqueue resolved write: %w", err)
	}

	fmt.Println()
	fmt.Printf("✓ Resolved with %s; queued as %s. Run `tillsync sync` to apply.\n", resolution, requeued.ID)
	return nil
}
