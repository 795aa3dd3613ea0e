package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tillsync/tillsync/internal/models"
)

// RunEnqueue queues a local write:
//
//	enqueue INSERT <table> <json>
//	enqueue UPDATE <table> <record-id> <json>
//	enqueue DELETE <table> <record-id>
func (c *Cli) RunEnqueue(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: enqueue <INSERT|UPDATE|DELETE> <table> [record-id] [json]")
	}

	typ := models.MutationType(args[0])
	table := args[1]

	var recordID, payload string

	switch typ {
	case models.MutationInsert:
		if len(args) != 3 {
			return fmt.Errorf("usage: enqueue INSERT <table> <json>")
		}
		payload = args[2]
	case models.MutationUpdate:
		if len(args) != 4 {
			return fmt.Errorf("usage: enqueue UPDATE <table> <record-id> <json>")
		}
		recordID, payload = args[2], args[3]
	case models.MutationDelete:
		if len(args) != 3 {
			return fmt.Errorf("usage: enqueue DELETE <table> <record-id>")
		}
		recordID = args[2]
	default:
		return fmt.Errorf("unknown mutation type %q", args[0])
	}

	var data models.Record
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &data); err != nil {
			return fmt.Errorf("invalid JSON payload: %w", err)
		}
	}

	m, err := c.queue.Enqueue(ctx, typ, table, recordID, data)
	if err != nil {
		return err
	}

	fmt.Printf("Queued %s on %s as %s\n", m.Type, m.Table, m.ID)
	return nil
}
