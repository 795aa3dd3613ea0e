package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/tillsync/tillsync/internal/client/storage"
	"github.com/tillsync/tillsync/internal/models"
)

// ApplyDelta merges a delta batch into the snapshot cache in a single
// transaction. Changed records upsert by id, tombstones remove by id, and
// append-only events upsert by id so re-applying an overlapping window does
// not duplicate anything. If any record in the batch is malformed the whole
// transaction rolls back and the snapshot is left unchanged.
func (s *Storage) ApplyDelta(ctx context.Context, batch *models.DeltaBatch) (*models.MergeStats, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	start := time.Now()
	stats := &models.MergeStats{Tables: make(map[string]models.TableMergeStats)}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketSnapshot)
		if root == nil {
			return storage.ErrStorageClosed
		}

		for _, td := range batch.Tables {
			bucket, err := root.CreateBucketIfNotExists([]byte(td.Table))
			if err != nil {
				return fmt.Errorf("failed to create table bucket %q: %w", td.Table, err)
			}

			ts := stats.Tables[td.Table]

			for _, rec := range td.Changed {
				id, err := recordID(rec)
				if err != nil {
					return fmt.Errorf("changed record in %q: %w", td.Table, err)
				}

				existing := bucket.Get([]byte(id)) != nil
				if err := putRecord(bucket, id, rec); err != nil {
					return err
				}

				if existing {
					ts.Updated++
				} else {
					ts.Added++
				}
			}

			for _, rec := range td.Deleted {
				id, err := recordID(rec)
				if err != nil {
					return fmt.Errorf("tombstone in %q: %w", td.Table, err)
				}

				if bucket.Get([]byte(id)) == nil {
					// Already gone; tombstone replays are no-ops
					continue
				}

				if err := bucket.Delete([]byte(id)); err != nil {
					return fmt.Errorf("failed to delete record: %w", err)
				}
				ts.Deleted++
			}

			stats.Tables[td.Table] = ts
		}

		for _, ed := range batch.Events {
			bucket, err := root.CreateBucketIfNotExists([]byte(ed.Table))
			if err != nil {
				return fmt.Errorf("failed to create table bucket %q: %w", ed.Table, err)
			}

			ts := stats.Tables[ed.Table]

			for _, rec := range ed.Events {
				id, err := recordID(rec)
				if err != nil {
					return fmt.Errorf("event in %q: %w", ed.Table, err)
				}

				// Dedupe by id: overlapping pull windows replay events
				if bucket.Get([]byte(id)) != nil {
					continue
				}

				if err := putRecord(bucket, id, rec); err != nil {
					return err
				}
				ts.Added++
			}

			stats.Tables[ed.Table] = ts
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("merge transaction failed: %w", err)
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// PutRecord upserts a single record into a table's snapshot
func (s *Storage) PutRecord(ctx context.Context, table string, rec models.Record) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	id, err := recordID(rec)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketSnapshot)
		if root == nil {
			return storage.ErrStorageClosed
		}

		bucket, err := root.CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return fmt.Errorf("failed to create table bucket %q: %w", table, err)
		}

		return putRecord(bucket, id, rec)
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetRecord retrieves one cached record by id
func (s *Storage) GetRecord(ctx context.Context, table, id string) (models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var rec models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tableBucket(tx, table)
		if bucket == nil {
			return storage.ErrRecordNotFound
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrRecordNotFound
		}

		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return rec, nil
}

// ListRecords returns all records cached for a table
func (s *Storage) ListRecords(ctx context.Context, table string) ([]models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var records []models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tableBucket(tx, table)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var rec models.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			records = append(records, rec)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	return records, nil
}

// CountRecords returns the number of records cached for a table
func (s *Storage) CountRecords(ctx context.Context, table string) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	count := 0

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tableBucket(tx, table)
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	return count, nil
}

func tableBucket(tx *bbolt.Tx, table string) *bbolt.Bucket {
	root := tx.Bucket(bucketSnapshot)
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(table))
}

func putRecord(bucket *bbolt.Bucket, id string, rec models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := bucket.Put([]byte(id), data); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	return nil
}

func recordID(rec models.Record) (string, error) {
	id, ok := rec["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("record has no string id field")
	}
	return id, nil
}
