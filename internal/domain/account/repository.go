package account

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists accounts. Only the health registry writes through it.
type Repository interface {
	// FindByID finds an account by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// FindAll returns every account in the pool
	FindAll(ctx context.Context) ([]Account, error)

	// FindByStatus returns accounts in any of the given statuses
	FindByStatus(ctx context.Context, statuses ...Status) ([]Account, error)

	// Save inserts or updates an account
	Save(ctx context.Context, a *Account) error
}
