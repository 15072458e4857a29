package listing

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists listing records
type Repository interface {
	// FindByID finds a listing by its local ID
	FindByID(ctx context.Context, id uuid.UUID) (*Listing, error)

	// FindByRemoteID finds a listing by its remote ID
	FindByRemoteID(ctx context.Context, remoteID string) (*Listing, error)

	// FindAll returns all listings
	FindAll(ctx context.Context) ([]Listing, error)

	// FindPublished returns listings that exist remotely
	FindPublished(ctx context.Context) ([]Listing, error)

	// Save inserts or updates a listing
	Save(ctx context.Context, l *Listing) error
}

// ConflictRepository persists sync conflicts. Only unresolved conflicts are
// interesting to callers; resolved ones are kept for audit.
type ConflictRepository interface {
	// FindByID finds a conflict by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Conflict, error)

	// FindUnresolved returns all unresolved conflicts
	FindUnresolved(ctx context.Context) ([]Conflict, error)

	// FindOpenByListing returns the unresolved conflict for a listing, if any
	FindOpenByListing(ctx context.Context, listingID uuid.UUID) (*Conflict, error)

	// Save inserts or updates a conflict
	Save(ctx context.Context, c *Conflict) error
}
