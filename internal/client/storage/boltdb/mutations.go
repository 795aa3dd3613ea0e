package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/tillsync/tillsync/internal/client/storage"
	"github.com/tillsync/tillsync/internal/models"
)

// SaveMutation stores or updates a mutation in the durable log
func (s *Storage) SaveMutation(ctx context.Context, m *models.Mutation) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMutations)
		if bucket == nil {
			return storage.ErrStorageClosed
		}

		if err := bucket.Put([]byte(m.ID), data); err != nil {
			return fmt.Errorf("failed to save mutation: %w", err)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetMutation retrieves a mutation by id
func (s *Storage) GetMutation(ctx context.Context, id string) (*models.Mutation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var m *models.Mutation

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMutations)
		if bucket == nil {
			return storage.ErrMutationNotFound
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrMutationNotFound
		}

		m = &models.Mutation{}
		if err := json.Unmarshal(data, m); err != nil {
			return fmt.Errorf("failed to unmarshal mutation: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return m, nil
}

// ListMutations returns all mutations regardless of status
func (s *Storage) ListMutations(ctx context.Context) ([]*models.Mutation, error) {
	return s.listMutations(func(*models.Mutation) bool { return true })
}

// ListMutationsByStatus returns all mutations with the given status
func (s *Storage) ListMutationsByStatus(ctx context.Context, status models.MutationStatus) ([]*models.Mutation, error) {
	return s.listMutations(func(m *models.Mutation) bool { return m.Status == status })
}

func (s *Storage) listMutations(keep func(*models.Mutation) bool) ([]*models.Mutation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var mutations []*models.Mutation

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMutations)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var m models.Mutation
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("failed to unmarshal mutation: %w", err)
			}

			if keep(&m) {
				mutations = append(mutations, &m)
			}

			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}

	return mutations, nil
}

// DeleteMutationsByStatus removes every mutation with the given status
func (s *Storage) DeleteMutationsByStatus(ctx context.Context, status models.MutationStatus) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	deleted := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMutations)
		if bucket == nil {
			return nil
		}

		// Collect keys first; deleting inside ForEach invalidates the cursor
		var keys [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var m models.Mutation
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("failed to unmarshal mutation: %w", err)
			}
			if m.Status == status {
				key := make([]byte, len(k))
				copy(key, k)
				keys = append(keys, key)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete mutation: %w", err)
			}
			deleted++
		}

		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("delete transaction failed: %w", err)
	}

	return deleted, nil
}
