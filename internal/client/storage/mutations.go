package storage

import (
	"context"

	"github.com/tillsync/tillsync/internal/models"
)

//go:generate moq -out mutationstore_mock.go . MutationStore

// MutationStore defines the interface for the durable mutation log.
// A write is either fully applied or not visible at all.
type MutationStore interface {
	// SaveMutation stores or updates a mutation keyed by its id
	SaveMutation(ctx context.Context, m *models.Mutation) error

	// GetMutation retrieves a mutation by id
	// Returns ErrMutationNotFound if it doesn't exist
	GetMutation(ctx context.Context, id string) (*models.Mutation, error)

	// ListMutations returns all mutations regardless of status
	ListMutations(ctx context.Context) ([]*models.Mutation, error)

	// ListMutationsByStatus returns all mutations with the given status
	ListMutationsByStatus(ctx context.Context, status models.MutationStatus) ([]*models.Mutation, error)

	// DeleteMutationsByStatus removes every mutation with the given status
	// and returns how many were removed
	DeleteMutationsByStatus(ctx context.Context, status models.MutationStatus) (int, error)
}
