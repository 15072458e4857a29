package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/infrastructure/persistence/models"
)

// nonTerminalStatuses are the statuses a job can still move out of
var nonTerminalStatuses = []string{
	string(job.StatusQueued),
	string(job.StatusRunning),
}

// GormJobRepository implements job.Repository using GORM
type GormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository creates a new GormJobRepository
func NewGormJobRepository(db *gorm.DB) *GormJobRepository {
	return &GormJobRepository{db: db}
}

// FindByID finds a job by ID
func (r *GormJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*job.ActionJob, error) {
	var model models.ActionJobModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, job.ErrJobNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByDedupKey finds a non-terminal job carrying the dedup key
func (r *GormJobRepository) FindByDedupKey(ctx context.Context, key string) (*job.ActionJob, error) {
	var model models.ActionJobModel
	if err := r.db.WithContext(ctx).
		Where("dedup_key = ? AND status IN ?", key, nonTerminalStatuses).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, job.ErrJobNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindQueued returns queued jobs ordered by NotBefore, then Seq
func (r *GormJobRepository) FindQueued(ctx context.Context, limit int) ([]job.ActionJob, error) {
	var jobModels []models.ActionJobModel
	query := r.db.WithContext(ctx).
		Where("status = ?", string(job.StatusQueued)).
		Order("not_before ASC").
		Order("seq ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobModels).Error; err != nil {
		return nil, err
	}

	jobs := make([]job.ActionJob, len(jobModels))
	for i, model := range jobModels {
		jobs[i] = *model.ToDomain()
	}
	return jobs, nil
}

// FindByListing returns non-terminal jobs for a listing ordered by Seq
func (r *GormJobRepository) FindByListing(ctx context.Context, listingID uuid.UUID) ([]job.ActionJob, error) {
	var jobModels []models.ActionJobModel
	if err := r.db.WithContext(ctx).
		Where("listing_id = ? AND status IN ?", listingID, nonTerminalStatuses).
		Order("seq ASC").
		Find(&jobModels).Error; err != nil {
		return nil, err
	}

	jobs := make([]job.ActionJob, len(jobModels))
	for i, model := range jobModels {
		jobs[i] = *model.ToDomain()
	}
	return jobs, nil
}

// FindRunning returns jobs left in RUNNING status, used for crash recovery
func (r *GormJobRepository) FindRunning(ctx context.Context) ([]job.ActionJob, error) {
	var jobModels []models.ActionJobModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(job.StatusRunning)).
		Order("seq ASC").
		Find(&jobModels).Error; err != nil {
		return nil, err
	}

	jobs := make([]job.ActionJob, len(jobModels))
	for i, model := range jobModels {
		jobs[i] = *model.ToDomain()
	}
	return jobs, nil
}

// Save inserts or updates a job
func (r *GormJobRepository) Save(ctx context.Context, j *job.ActionJob) error {
	model := models.ActionJobModelFromDomain(j)
	return r.db.WithContext(ctx).Save(model).Error
}

// NextSeq returns the next FIFO sequence number. The upsert is atomic on both
// PostgreSQL and SQLite, so concurrent enqueuers never share a number.
func (r *GormJobRepository) NextSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO job_sequences (name, value) VALUES ('action_jobs', 1)
		ON CONFLICT (name) DO UPDATE SET value = job_sequences.value + 1
		RETURNING value
	`).Scan(&seq).Error
	if err != nil {
		return 0, err
	}
	return seq, nil
}

var _ job.Repository = (*GormJobRepository)(nil)
