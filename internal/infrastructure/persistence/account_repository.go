package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/relister/backend/internal/domain/account"
	"github.com/relister/backend/internal/infrastructure/persistence/models"
)

// GormAccountRepository implements account.Repository using GORM
type GormAccountRepository struct {
	db *gorm.DB
}

// NewGormAccountRepository creates a new GormAccountRepository
func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// FindByID finds an account by ID
func (r *GormAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	var model models.AccountModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, account.ErrAccountNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll returns every account in the pool
func (r *GormAccountRepository) FindAll(ctx context.Context) ([]account.Account, error) {
	var accountModels []models.AccountModel
	if err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&accountModels).Error; err != nil {
		return nil, err
	}

	accounts := make([]account.Account, len(accountModels))
	for i, model := range accountModels {
		accounts[i] = *model.ToDomain()
	}
	return accounts, nil
}

// FindByStatus returns accounts in any of the given statuses
func (r *GormAccountRepository) FindByStatus(ctx context.Context, statuses ...account.Status) ([]account.Account, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	var accountModels []models.AccountModel
	if err := r.db.WithContext(ctx).
		Where("status IN ?", values).
		Order("score DESC").
		Find(&accountModels).Error; err != nil {
		return nil, err
	}

	accounts := make([]account.Account, len(accountModels))
	for i, model := range accountModels {
		accounts[i] = *model.ToDomain()
	}
	return accounts, nil
}

// Save inserts or updates an account
func (r *GormAccountRepository) Save(ctx context.Context, a *account.Account) error {
	model := models.AccountModelFromDomain(a)
	return r.db.WithContext(ctx).Save(model).Error
}

var _ account.Repository = (*GormAccountRepository)(nil)
