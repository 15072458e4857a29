// Package sync reconciles local listing records against remote-reported
// state. Remote reads and writes go through the scheduler as ordinary jobs,
// so they stay rate-governed like every other action.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/domain/listing"
)

var (
	// ErrSnapshotMismatch is returned when a snapshot names a different
	// remote listing than the local record
	ErrSnapshotMismatch = errors.New("sync: snapshot remote id does not match listing")
)

// Result is the outcome of applying one remote snapshot to a listing
type Result string

const (
	// ResultNoChange means local and remote already agree
	ResultNoChange Result = "NO_CHANGE"
	// ResultApplied means one side was brought up to date (adopt or push)
	ResultApplied Result = "APPLIED"
	// ResultConflict means both sides changed and policy deferred to manual
	// resolution
	ResultConflict Result = "CONFLICT"
)

// JobSubmitter enqueues the sync-pull and sync-push jobs the reconciler
// produces. The scheduler implements it.
type JobSubmitter interface {
	Enqueue(ctx context.Context, j *job.ActionJob) (uuid.UUID, error)
}

// Config holds reconciler settings
type Config struct {
	// Interval between full reconcile sweeps
	Interval time.Duration
	// Policy decides the winner when both sides changed
	Policy listing.ConflictPolicy
	// MaxRetries is the retry budget for the jobs the reconciler enqueues
	MaxRetries int
}

// DefaultConfig returns reconciler defaults. The manual policy is the
// explicit default so divergent edits are never silently overwritten.
func DefaultConfig() Config {
	return Config{
		Interval:   15 * time.Minute,
		Policy:     listing.PolicyManual,
		MaxRetries: 3,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("sync: interval must be positive")
	}
	if !c.Policy.IsValid() {
		return listing.ErrInvalidPolicy
	}
	if c.MaxRetries < 0 {
		return errors.New("sync: max retries cannot be negative")
	}
	return nil
}

// Reconciler diffs local listings against remote snapshots and applies the
// configured conflict policy
type Reconciler struct {
	cfg       Config
	listings  listing.Repository
	conflicts listing.ConflictRepository
	jobs      JobSubmitter
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithClock injects a clock, used by tests
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// NewReconciler creates a reconciler
func NewReconciler(cfg Config, listings listing.Repository, conflicts listing.ConflictRepository, jobs JobSubmitter, logger *zap.Logger, opts ...Option) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Reconciler{
		cfg:       cfg,
		listings:  listings,
		conflicts: conflicts,
		jobs:      jobs,
		logger:    logger.Named("reconciler"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reconcile requests a fresh remote read for the listing. The comparison
// itself happens in HandleSnapshot once the pull job completes.
func (r *Reconciler) Reconcile(ctx context.Context, listingID uuid.UUID) error {
	l, err := r.listings.FindByID(ctx, listingID)
	if err != nil {
		return err
	}
	if !l.Published() {
		return listing.ErrNotPublished
	}
	return r.enqueueKind(ctx, listingID, job.KindSyncPull)
}

// sweepConcurrency bounds parallel enqueues during a full sweep
const sweepConcurrency = 8

// ReconcileAll requests a remote read for every published listing. Pull jobs
// are dedup-keyed, so overlapping sweeps never pile up duplicate reads.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	published, err := r.listings.FindPublished(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for i := range published {
		l := &published[i]
		g.Go(func() error {
			if err := r.enqueueKind(gctx, l.ID, job.KindSyncPull); err != nil {
				// A failed enqueue never aborts the sweep; the next
				// interval retries it.
				r.logger.Warn("Failed to enqueue sync pull",
					zap.String("listing_id", l.ID.String()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("Reconcile sweep enqueued", zap.Int("listings", len(published)))
	return nil
}

// HandleSnapshot applies a remote snapshot to the local record. Registered
// with the scheduler as its sync-pull completion handler.
//
// The four cases, against the last common sync point:
//   - neither side changed: advance the sync timestamp only
//   - remote changed, no local edit: adopt the remote content
//   - local edit pending, remote unchanged: push the local edit
//   - both changed: apply the configured conflict policy
func (r *Reconciler) HandleSnapshot(ctx context.Context, listingID uuid.UUID, snap *listing.RemoteSnapshot) error {
	_, err := r.Apply(ctx, listingID, snap)
	return err
}

// Apply is HandleSnapshot with the classification exposed, for direct callers
func (r *Reconciler) Apply(ctx context.Context, listingID uuid.UUID, snap *listing.RemoteSnapshot) (Result, error) {
	l, err := r.listings.FindByID(ctx, listingID)
	if err != nil {
		return ResultNoChange, err
	}
	if snap.RemoteID != l.RemoteID {
		return ResultNoChange, fmt.Errorf("%w: listing %s has %q, snapshot has %q",
			ErrSnapshotMismatch, listingID, l.RemoteID, snap.RemoteID)
	}

	now := r.now()
	remoteChanged := snap.Version > l.LastKnownRemoteVersion

	switch {
	case !remoteChanged && !l.PendingLocalEdit:
		l.MarkSynced(snap.Version, now)
		if err := r.listings.Save(ctx, l); err != nil {
			return ResultNoChange, err
		}
		return ResultNoChange, nil

	case remoteChanged && !l.PendingLocalEdit:
		l.AdoptRemote(*snap, now)
		if err := r.listings.Save(ctx, l); err != nil {
			return ResultNoChange, err
		}
		r.logger.Info("Adopted remote content",
			zap.String("listing_id", listingID.String()),
			zap.Int64("remote_version", snap.Version),
		)
		return ResultApplied, nil

	case !remoteChanged && l.PendingLocalEdit:
		l.MarkSynced(snap.Version, now)
		if err := r.listings.Save(ctx, l); err != nil {
			return ResultNoChange, err
		}
		if err := r.enqueueKind(ctx, listingID, job.KindSyncPush); err != nil {
			return ResultNoChange, err
		}
		return ResultApplied, nil

	default:
		return r.resolveConflict(ctx, l, snap, now)
	}
}

// resolveConflict applies the configured policy to a genuine two-sided
// divergence
func (r *Reconciler) resolveConflict(ctx context.Context, l *listing.Listing, snap *listing.RemoteSnapshot, now time.Time) (Result, error) {
	policy := r.cfg.Policy
	if policy == listing.PolicyNewestWins {
		policy = r.newerSide(l, snap)
	}

	switch policy {
	case listing.PolicyLocalWins:
		// Accept the remote version as the new baseline so the push
		// overwrites it.
		l.MarkSynced(snap.Version, now)
		if err := r.listings.Save(ctx, l); err != nil {
			return ResultNoChange, err
		}
		if err := r.enqueueKind(ctx, l.ID, job.KindSyncPush); err != nil {
			return ResultNoChange, err
		}
		r.logger.Info("Conflict resolved, pushing local edit",
			zap.String("listing_id", l.ID.String()),
		)
		return ResultApplied, nil

	case listing.PolicyRemoteWins:
		l.AdoptRemote(*snap, now)
		if err := r.listings.Save(ctx, l); err != nil {
			return ResultNoChange, err
		}
		r.logger.Info("Conflict resolved, adopted remote content",
			zap.String("listing_id", l.ID.String()),
		)
		return ResultApplied, nil

	default: // manual
		return r.recordConflict(ctx, l, snap, now)
	}
}

// newerSide maps newest-wins onto local-wins or remote-wins by comparing
// edit timestamps. A missing local timestamp concedes to the remote.
func (r *Reconciler) newerSide(l *listing.Listing, snap *listing.RemoteSnapshot) listing.ConflictPolicy {
	if l.LocalEditedAt != nil && l.LocalEditedAt.After(snap.UpdatedAt) {
		return listing.PolicyLocalWins
	}
	return listing.PolicyRemoteWins
}

// recordConflict persists an unresolved conflict, once. Both sides stay
// stale until an operator decides.
func (r *Reconciler) recordConflict(ctx context.Context, l *listing.Listing, snap *listing.RemoteSnapshot, now time.Time) (Result, error) {
	if _, err := r.conflicts.FindOpenByListing(ctx, l.ID); err == nil {
		return ResultConflict, nil
	} else if !errors.Is(err, listing.ErrConflictNotFound) {
		return ResultConflict, err
	}

	c := listing.NewConflict(l.ID, l.ContentVersion, snap.Version, now)
	if err := r.conflicts.Save(ctx, c); err != nil {
		return ResultConflict, err
	}
	r.logger.Warn("Sync conflict recorded for manual resolution",
		zap.String("listing_id", l.ID.String()),
		zap.Int64("local_version", l.ContentVersion),
		zap.Int64("remote_version", snap.Version),
	)
	return ResultConflict, nil
}

// ListUnresolved returns all conflicts awaiting a manual decision
func (r *Reconciler) ListUnresolved(ctx context.Context) ([]listing.Conflict, error) {
	return r.conflicts.FindUnresolved(ctx)
}

// Resolve applies a manual decision to a recorded conflict. Local-wins
// enqueues a push; remote-wins waits for the next pull to adopt the remote
// content under the advanced baseline.
func (r *Reconciler) Resolve(ctx context.Context, conflictID uuid.UUID, resolution listing.Resolution) error {
	if resolution != listing.ResolutionLocalWins && resolution != listing.ResolutionRemoteWins {
		return fmt.Errorf("sync: resolution %q cannot be applied manually", resolution)
	}
	c, err := r.conflicts.FindByID(ctx, conflictID)
	if err != nil {
		return err
	}
	if c.Resolution != listing.ResolutionUnresolved {
		return nil
	}
	l, err := r.listings.FindByID(ctx, c.ListingID)
	if err != nil {
		return err
	}

	now := r.now()
	switch resolution {
	case listing.ResolutionLocalWins:
		l.MarkSynced(c.RemoteVersion, now)
		if err := r.listings.Save(ctx, l); err != nil {
			return err
		}
		if err := r.enqueueKind(ctx, l.ID, job.KindSyncPush); err != nil {
			return err
		}
	case listing.ResolutionRemoteWins:
		// Drop the local edit claim; the next pull adopts the remote.
		l.MarkSynced(l.LastKnownRemoteVersion, now)
		l.PendingLocalEdit = false
		l.LocalEditedAt = nil
		if err := r.listings.Save(ctx, l); err != nil {
			return err
		}
		if err := r.enqueueKind(ctx, l.ID, job.KindSyncPull); err != nil {
			return err
		}
	}

	c.Resolve(resolution, now)
	if err := r.conflicts.Save(ctx, c); err != nil {
		return err
	}
	r.logger.Info("Conflict resolved manually",
		zap.String("conflict_id", conflictID.String()),
		zap.String("resolution", resolution.String()),
	)
	return nil
}

func (r *Reconciler) enqueueKind(ctx context.Context, listingID uuid.UUID, kind job.Kind) error {
	j, err := job.NewActionJob(listingID, kind, r.cfg.MaxRetries)
	if err != nil {
		return err
	}
	j.DedupKey = dedupKey(kind, listingID)
	if _, err := r.jobs.Enqueue(ctx, j); err != nil {
		return fmt.Errorf("sync: enqueueing %s for listing %s: %w", kind, listingID, err)
	}
	return nil
}

// dedupKey collapses repeated sync requests for the same listing into the
// job already in flight
func dedupKey(kind job.Kind, listingID uuid.UUID) string {
	return "sync:" + kind.String() + ":" + listingID.String()
}
