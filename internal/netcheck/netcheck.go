// Package netcheck derives a binary online/offline signal by probing the
// remote store's health endpoint. It stands in for a host-platform
// presence API: consumers receive an event only when presence changes.
package netcheck

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Watcher polls a health URL and reports presence transitions
type Watcher struct {
	client   *http.Client
	logger   *slog.Logger
	changes  chan bool
	url      string
	interval time.Duration
}

// NewWatcher creates a presence watcher for the given health URL
func NewWatcher(url string, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &Watcher{
		url:      url,
		interval: interval,
		logger:   logger,
		changes:  make(chan bool, 4),
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Changes delivers true on online transitions and false on offline ones
func (w *Watcher) Changes() <-chan bool {
	return w.changes
}

// Run probes until the context is canceled. The first probe always
// reports, so consumers learn the initial presence promptly.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	known := false
	online := false

	probe := func() {
		up := w.probe(ctx)
		if known && up == online {
			return
		}
		known = true
		online = up

		w.logger.Debug("Network presence changed", "online", up)

		select {
		case w.changes <- up:
		case <-ctx.Done():
		}
	}

	probe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

func (w *Watcher) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, nil)
	if err != nil {
		return false
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}
