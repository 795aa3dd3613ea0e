package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermarkRoundTrip(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	mark := time.Date(2026, 2, 14, 12, 30, 45, 123456789, time.UTC)
	require.NoError(t, s.SaveWatermark(ctx, mark))

	got, err := s.GetWatermark(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(mark))
}

func TestWatermarkDefaultsToZero(t *testing.T) {
	s, _ := newTestStorage(t)

	got, err := s.GetWatermark(context.Background())
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestNodeIDStable(t *testing.T) {
	ctx := context.Background()
	s, dbPath := newTestStorage(t)

	first, err := s.NodeID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := s.NodeID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Identity survives a restart
	require.NoError(t, s.Close())
	reopened, err := New(ctx, dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	third, err := reopened.NodeID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}
