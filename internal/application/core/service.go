// Package core is the caller-facing surface of the orchestration system. The
// HTTP layer talks only to this service; everything account- or rate-related
// stays behind it.
package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relister/backend/internal/application/health"
	syncapp "github.com/relister/backend/internal/application/sync"
	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/domain/listing"
)

// JobQueue is the scheduler surface the service needs
type JobQueue interface {
	Enqueue(ctx context.Context, j *job.ActionJob) (uuid.UUID, error)
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

// Reconciling is the reconciler surface the service needs
type Reconciling interface {
	Reconcile(ctx context.Context, listingID uuid.UUID) error
	ListUnresolved(ctx context.Context) ([]listing.Conflict, error)
	Resolve(ctx context.Context, conflictID uuid.UUID, resolution listing.Resolution) error
}

// Service exposes job submission, status, account health and conflict
// queries to external callers
type Service struct {
	queue      JobQueue
	jobs       job.Repository
	listings   listing.Repository
	registry   *health.Registry
	reconciler Reconciling
	logger     *zap.Logger

	maxRetries int
}

// NewService creates the core service. maxRetries is the default retry
// budget given to submitted jobs.
func NewService(queue JobQueue, jobs job.Repository, listings listing.Repository, registry *health.Registry, reconciler Reconciling, maxRetries int, logger *zap.Logger) *Service {
	return &Service{
		queue:      queue,
		jobs:       jobs,
		listings:   listings,
		registry:   registry,
		reconciler: reconciler,
		logger:     logger.Named("core"),
		maxRetries: maxRetries,
	}
}

// ---------------------------------------------------------------------------
// Job Operations
// ---------------------------------------------------------------------------

// SubmitJob validates and enqueues an action job, returning its ID. A dedup
// key makes resubmission return the already-queued job's ID instead.
func (s *Service) SubmitJob(ctx context.Context, req SubmitJobRequest) (uuid.UUID, error) {
	if !req.Kind.IsValid() {
		return uuid.Nil, job.ErrInvalidKind
	}
	if req.ListingID != uuid.Nil {
		if _, err := s.listings.FindByID(ctx, req.ListingID); err != nil {
			return uuid.Nil, err
		}
	}

	j, err := job.NewActionJob(req.ListingID, req.Kind, s.maxRetries)
	if err != nil {
		return uuid.Nil, err
	}
	if req.AccountHint != nil {
		if _, err := s.registry.Get(*req.AccountHint); err != nil {
			return uuid.Nil, err
		}
		j.PinAccount(*req.AccountHint)
	}
	j.DedupKey = req.DedupKey
	for k, v := range req.Payload {
		j.Payload[k] = v
	}

	return s.queue.Enqueue(ctx, j)
}

// GetJobStatus returns the caller-facing view of a job
func (s *Service) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*JobStatusResponse, error) {
	j, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return JobStatusFromDomain(j), nil
}

// CancelJob cancels a queued job
func (s *Service) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	return s.queue.Cancel(ctx, jobID)
}

// ---------------------------------------------------------------------------
// Account Operations
// ---------------------------------------------------------------------------

// AddAccount registers a marketplace account and activates it
func (s *Service) AddAccount(ctx context.Context, req AddAccountRequest) (*AccountHealthResponse, error) {
	acct, err := s.registry.AddAccount(ctx, req.Alias, req.SessionRef, req.InitialScore)
	if err != nil {
		return nil, err
	}
	return AccountHealthFromDomain(*acct), nil
}

// GetAccountHealth returns the health view of one account
func (s *Service) GetAccountHealth(ctx context.Context, accountID uuid.UUID) (*AccountHealthResponse, error) {
	acct, err := s.registry.Get(accountID)
	if err != nil {
		return nil, err
	}
	return AccountHealthFromDomain(acct), nil
}

// ForceQuarantine manually quarantines an account for the given duration
func (s *Service) ForceQuarantine(ctx context.Context, accountID uuid.UUID, duration time.Duration) error {
	return s.registry.ForceQuarantine(ctx, accountID, duration)
}

// ReleaseAccount manually releases an account whose quarantine has elapsed
func (s *Service) ReleaseAccount(ctx context.Context, accountID uuid.UUID) error {
	return s.registry.ReleaseFromQuarantine(ctx, accountID)
}

// ---------------------------------------------------------------------------
// Listing Operations
// ---------------------------------------------------------------------------

// CreateListing stores an externally-produced listing content as a new local
// record. Publishing it remotely is a separate job submission.
func (s *Service) CreateListing(ctx context.Context, content listing.Content) (*ListingResponse, error) {
	l := listing.NewListing(content)
	if err := s.listings.Save(ctx, l); err != nil {
		return nil, err
	}
	s.logger.Info("Listing created", zap.String("listing_id", l.ID.String()))
	return ListingFromDomain(l), nil
}

// EditListing replaces a listing's content and flags the pending edit for
// the reconciler
func (s *Service) EditListing(ctx context.Context, listingID uuid.UUID, content listing.Content) (*ListingResponse, error) {
	l, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	l.ApplyLocalEdit(content, time.Now())
	if err := s.listings.Save(ctx, l); err != nil {
		return nil, err
	}
	return ListingFromDomain(l), nil
}

// GetListing returns the caller-facing view of a listing
func (s *Service) GetListing(ctx context.Context, listingID uuid.UUID) (*ListingResponse, error) {
	l, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return ListingFromDomain(l), nil
}

// ---------------------------------------------------------------------------
// Sync Operations
// ---------------------------------------------------------------------------

// RequestSync asks the reconciler for a fresh remote read of the listing
func (s *Service) RequestSync(ctx context.Context, listingID uuid.UUID) error {
	return s.reconciler.Reconcile(ctx, listingID)
}

// ListUnresolvedConflicts returns all conflicts awaiting a manual decision
func (s *Service) ListUnresolvedConflicts(ctx context.Context) ([]ConflictResponse, error) {
	conflicts, err := s.reconciler.ListUnresolved(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]ConflictResponse, 0, len(conflicts))
	for _, c := range conflicts {
		result = append(result, ConflictFromDomain(c))
	}
	return result, nil
}

// ResolveConflict applies a manual local-wins or remote-wins decision
func (s *Service) ResolveConflict(ctx context.Context, conflictID uuid.UUID, resolution listing.Resolution) error {
	return s.reconciler.Resolve(ctx, conflictID, resolution)
}

// interface guard
var _ Reconciling = (*syncapp.Reconciler)(nil)
