package netcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReportsInitialPresence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(server.URL+"/health", time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go w.Run(ctx)

	select {
	case online := <-w.Changes():
		assert.True(t, online)
	case <-time.After(5 * time.Second):
		t.Fatal("no initial presence report")
	}
}

func TestWatcherReportsTransitionsOnly(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(server.URL+"/health", 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go w.Run(ctx)

	require.True(t, <-w.Changes())

	// Steady healthy probes produce no further reports
	select {
	case v := <-w.Changes():
		t.Fatalf("unexpected presence report %v while steady", v)
	case <-time.After(100 * time.Millisecond):
	}

	healthy.Store(false)
	select {
	case online := <-w.Changes():
		assert.False(t, online)
	case <-time.After(5 * time.Second):
		t.Fatal("no offline transition reported")
	}

	healthy.Store(true)
	select {
	case online := <-w.Changes():
		assert.True(t, online)
	case <-time.After(5 * time.Second):
		t.Fatal("no online transition reported")
	}
}

func TestWatcherUnreachableHostIsOffline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher("http://127.0.0.1:1/health", time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go w.Run(ctx)

	select {
	case online := <-w.Changes():
		assert.False(t, online)
	case <-time.After(10 * time.Second):
		t.Fatal("no initial presence report")
	}
}
