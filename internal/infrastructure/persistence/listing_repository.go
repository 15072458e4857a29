package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/relister/backend/internal/domain/listing"
	"github.com/relister/backend/internal/infrastructure/persistence/models"
)

// GormListingRepository implements listing.Repository using GORM
type GormListingRepository struct {
	db *gorm.DB
}

// NewGormListingRepository creates a new GormListingRepository
func NewGormListingRepository(db *gorm.DB) *GormListingRepository {
	return &GormListingRepository{db: db}
}

// FindByID finds a listing by its local ID
func (r *GormListingRepository) FindByID(ctx context.Context, id uuid.UUID) (*listing.Listing, error) {
	var model models.ListingModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, listing.ErrListingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByRemoteID finds a listing by its remote ID
func (r *GormListingRepository) FindByRemoteID(ctx context.Context, remoteID string) (*listing.Listing, error) {
	var model models.ListingModel
	if err := r.db.WithContext(ctx).
		Where("remote_id = ?", remoteID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, listing.ErrListingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll returns all listings
func (r *GormListingRepository) FindAll(ctx context.Context) ([]listing.Listing, error) {
	var listingModels []models.ListingModel
	if err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&listingModels).Error; err != nil {
		return nil, err
	}

	listings := make([]listing.Listing, len(listingModels))
	for i, model := range listingModels {
		listings[i] = *model.ToDomain()
	}
	return listings, nil
}

// FindPublished returns listings that exist remotely
func (r *GormListingRepository) FindPublished(ctx context.Context) ([]listing.Listing, error) {
	var listingModels []models.ListingModel
	if err := r.db.WithContext(ctx).
		Where("remote_id <> ''").
		Order("created_at ASC").
		Find(&listingModels).Error; err != nil {
		return nil, err
	}

	listings := make([]listing.Listing, len(listingModels))
	for i, model := range listingModels {
		listings[i] = *model.ToDomain()
	}
	return listings, nil
}

// Save inserts or updates a listing
func (r *GormListingRepository) Save(ctx context.Context, l *listing.Listing) error {
	model := models.ListingModelFromDomain(l)
	return r.db.WithContext(ctx).Save(model).Error
}

var _ listing.Repository = (*GormListingRepository)(nil)

// GormConflictRepository implements listing.ConflictRepository using GORM
type GormConflictRepository struct {
	db *gorm.DB
}

// NewGormConflictRepository creates a new GormConflictRepository
func NewGormConflictRepository(db *gorm.DB) *GormConflictRepository {
	return &GormConflictRepository{db: db}
}

// FindByID finds a conflict by its ID
func (r *GormConflictRepository) FindByID(ctx context.Context, id uuid.UUID) (*listing.Conflict, error) {
	var model models.SyncConflictModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, listing.ErrConflictNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindUnresolved returns all unresolved conflicts, oldest first
func (r *GormConflictRepository) FindUnresolved(ctx context.Context) ([]listing.Conflict, error) {
	var conflictModels []models.SyncConflictModel
	if err := r.db.WithContext(ctx).
		Where("resolution = ?", string(listing.ResolutionUnresolved)).
		Order("detected_at ASC").
		Find(&conflictModels).Error; err != nil {
		return nil, err
	}

	conflicts := make([]listing.Conflict, len(conflictModels))
	for i, model := range conflictModels {
		conflicts[i] = *model.ToDomain()
	}
	return conflicts, nil
}

// FindOpenByListing returns the unresolved conflict for a listing, if any
func (r *GormConflictRepository) FindOpenByListing(ctx context.Context, listingID uuid.UUID) (*listing.Conflict, error) {
	var model models.SyncConflictModel
	if err := r.db.WithContext(ctx).
		Where("listing_id = ? AND resolution = ?", listingID, string(listing.ResolutionUnresolved)).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, listing.ErrConflictNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save inserts or updates a conflict
func (r *GormConflictRepository) Save(ctx context.Context, c *listing.Conflict) error {
	model := models.SyncConflictModelFromDomain(c)
	return r.db.WithContext(ctx).Save(model).Error
}

var _ listing.ConflictRepository = (*GormConflictRepository)(nil)
