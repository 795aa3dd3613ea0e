// Package cli implements the tillsync command line client.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/tillsync/tillsync/internal/client/queue"
	"github.com/tillsync/tillsync/internal/client/storage/boltdb"
	"github.com/tillsync/tillsync/internal/config"
	"github.com/tillsync/tillsync/internal/remote"
)

// Cli carries the collaborators every command needs
type Cli struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *boltdb.Storage
	queue  *queue.Queue
	remote *remote.Client
}

// New creates a CLI over an opened local store
func New(cfg *config.Config, store *boltdb.Storage, logger *slog.Logger) *Cli {
	return &Cli{
		cfg:    cfg,
		logger: logger,
		store:  store,
		queue:  queue.New(store, logger),
		remote: remote.NewClient(cfg.Remote.URL, cfg.Remote.Token),
	}
}

// PrintUsage prints the command summary
func PrintUsage() {
	fmt.Println("Usage: tillsync [flags] <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status                                     Show sync status and queue counts")
	fmt.Println("  enqueue <INSERT|UPDATE|DELETE> <table> [record-id] [json]")
	fmt.Println("                                             Queue a local write")
	fmt.Println("  sync                                       Run one push+pull cycle")
	fmt.Println("  resolve <mutation-id> <keep-local|keep-remote|merge>")
	fmt.Println("                                             Resolve a conflicted mutation")
	fmt.Println("  clear-synced                               Garbage-collect synced mutations")
	fmt.Println("  watch                                      Run the realtime sync engine")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config <path>   Config file (default tillsync.yaml)")
	fmt.Println("  -db <path>       Local database path override")
	fmt.Println("  -server <url>    Remote store URL override")
}
