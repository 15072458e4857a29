package job

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists action jobs. The scheduler is the only writer while a
// job is non-terminal.
type Repository interface {
	// FindByID finds a job by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*ActionJob, error)

	// FindByDedupKey finds a non-terminal job carrying the dedup key
	FindByDedupKey(ctx context.Context, key string) (*ActionJob, error)

	// FindQueued returns queued jobs ordered by NotBefore, then Seq
	FindQueued(ctx context.Context, limit int) ([]ActionJob, error)

	// FindByListing returns non-terminal jobs for a listing ordered by Seq
	FindByListing(ctx context.Context, listingID uuid.UUID) ([]ActionJob, error)

	// FindRunning returns jobs left in RUNNING status, used for crash recovery
	FindRunning(ctx context.Context) ([]ActionJob, error)

	// Save inserts or updates a job
	Save(ctx context.Context, j *ActionJob) error

	// NextSeq returns the next FIFO sequence number
	NextSeq(ctx context.Context) (int64, error)
}
