package boltdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/tillsync/tillsync/internal/client/storage"
)

const (
	keyWatermark = "watermark"
	keyNodeID    = "node_id"
)

// SaveWatermark persists the timestamp of the last fully merged pull.
// Stored as RFC 3339 so the value is usable directly in delta queries.
func (s *Storage) SaveWatermark(ctx context.Context, t time.Time) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return storage.ErrStorageClosed
		}

		value := t.UTC().Format(time.RFC3339Nano)
		if err := bucket.Put([]byte(keyWatermark), []byte(value)); err != nil {
			return fmt.Errorf("failed to save watermark: %w", err)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetWatermark retrieves the last persisted watermark.
// Returns the zero time if no pull has ever been merged.
func (s *Storage) GetWatermark(ctx context.Context) (time.Time, error) {
	if s.db == nil {
		return time.Time{}, storage.ErrStorageClosed
	}

	var watermark time.Time

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return storage.ErrStorageClosed
		}

		data := bucket.Get([]byte(keyWatermark))
		if data == nil {
			// First sync: zero watermark pulls everything
			return nil
		}

		parsed, err := time.Parse(time.RFC3339Nano, string(data))
		if err != nil {
			return fmt.Errorf("failed to parse watermark: %w", err)
		}

		watermark = parsed
		return nil
	})

	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get watermark: %w", err)
	}

	return watermark, nil
}

// NodeID returns this device's stable identifier, generating and persisting
// a UUID on first call.
func (s *Storage) NodeID(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", storage.ErrStorageClosed
	}

	var nodeID string

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return storage.ErrStorageClosed
		}

		if data := bucket.Get([]byte(keyNodeID)); data != nil {
			nodeID = string(data)
			return nil
		}

		nodeID = uuid.New().String()
		if err := bucket.Put([]byte(keyNodeID), []byte(nodeID)); err != nil {
			return fmt.Errorf("failed to save node id: %w", err)
		}

		return nil
	})

	if err != nil {
		return "", fmt.Errorf("failed to get node id: %w", err)
	}

	return nodeID, nil
}
