// Package health owns the account pool: trust scoring, status transitions
// and quarantine release. Every outcome report funnels through the Registry;
// no other component mutates account state.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relister/backend/internal/domain/account"
	"github.com/relister/backend/internal/domain/job"
)

// Registry is the process-scoped owner of the account pool. It is loaded
// explicitly from the store at startup and flushed at teardown; there is no
// ambient global pool.
type Registry struct {
	mu     sync.Mutex
	repo   account.Repository
	policy account.HealthPolicy
	logger *zap.Logger
	now    func() time.Time

	accounts map[uuid.UUID]*account.Account

	// recentModerateFails feeds the rolling-window abuse escalation
	recentModerateFails map[uuid.UUID][]time.Time

	quarantines QuarantineRecorder
}

// QuarantineRecorder counts quarantine transitions; the telemetry layer
// implements it
type QuarantineRecorder interface {
	RecordQuarantine(ctx context.Context, outcome string)
}

// Option configures a Registry
type Option func(*Registry)

// WithClock injects a clock, used by tests
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithQuarantineRecorder wires quarantine transition metrics
func WithQuarantineRecorder(recorder QuarantineRecorder) Option {
	return func(r *Registry) {
		r.quarantines = recorder
	}
}

// NewRegistry creates a registry; call Load before use
func NewRegistry(repo account.Repository, policy account.HealthPolicy, logger *zap.Logger, opts ...Option) (*Registry, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		repo:                repo,
		policy:              policy,
		logger:              logger.Named("health"),
		now:                 time.Now,
		accounts:            make(map[uuid.UUID]*account.Account),
		recentModerateFails: make(map[uuid.UUID][]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Load reads the account pool from the store
func (r *Registry) Load(ctx context.Context) error {
	accounts, err := r.repo.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("health: loading account pool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = make(map[uuid.UUID]*account.Account, len(accounts))
	for i := range accounts {
		a := accounts[i]
		r.accounts[a.ID] = &a
	}

	r.logger.Info("Account pool loaded", zap.Int("accounts", len(accounts)))
	return nil
}

// Flush persists every account, used at teardown
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	snapshot := make([]*account.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		copied := *a
		snapshot = append(snapshot, &copied)
	}
	r.mu.Unlock()

	for _, a := range snapshot {
		if err := r.repo.Save(ctx, a); err != nil {
			return fmt.Errorf("health: flushing account %s: %w", a.ID, err)
		}
	}
	return nil
}

// AddAccount registers and activates a new account around a vault reference
func (r *Registry) AddAccount(ctx context.Context, alias, sessionRef string, initialScore int) (*account.Account, error) {
	a := account.NewAccount(alias, sessionRef, initialScore)
	a.Activate()
	if err := r.repo.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("health: saving new account: %w", err)
	}

	r.mu.Lock()
	r.accounts[a.ID] = a
	copied := *a
	r.mu.Unlock()

	r.logger.Info("Account added to pool",
		zap.String("account_id", a.ID.String()),
		zap.String("alias", alias),
	)
	return &copied, nil
}

// ReportOutcome applies one classified outcome to the account. Score update
// and status transition happen under one lock: callers never observe a torn
// intermediate state. Repeated moderate failures inside the rolling window
// escalate to an abuse quarantine.
func (r *Registry) ReportOutcome(ctx context.Context, accountID uuid.UUID, outcome job.Outcome) (account.Status, error) {
	r.mu.Lock()
	a, ok := r.accounts[accountID]
	if !ok {
		r.mu.Unlock()
		return "", account.ErrAccountNotFound
	}

	now := r.now()
	applied := outcome
	if outcome == job.OutcomeSoftFailure || outcome == job.OutcomeRateLimit {
		if r.trackModerateFailure(accountID, now) {
			applied = job.OutcomeAbuse
		}
	}

	prev := a.Status
	status, err := a.ApplyOutcome(applied, r.policy, now)
	if err != nil {
		r.mu.Unlock()
		return prev, err
	}
	copied := *a
	r.mu.Unlock()

	if status != prev && status.InQuarantine() && r.quarantines != nil {
		r.quarantines.RecordQuarantine(ctx, applied.String())
	}

	if status != prev {
		r.logger.Warn("Account status changed",
			zap.String("account_id", accountID.String()),
			zap.String("outcome", applied.String()),
			zap.String("from", prev.String()),
			zap.String("to", status.String()),
			zap.Int("score", copied.Score),
		)
	}

	if err := r.repo.Save(ctx, &copied); err != nil {
		return status, fmt.Errorf("health: persisting outcome: %w", err)
	}
	return status, nil
}

// trackModerateFailure records a moderate failure and reports whether the
// rolling window limit was hit. Caller holds the lock.
func (r *Registry) trackModerateFailure(accountID uuid.UUID, now time.Time) bool {
	window := r.recentModerateFails[accountID]
	cutoff := now.Add(-r.policy.AbuseWindow)
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	if len(kept) >= r.policy.AbuseWindowLimit {
		delete(r.recentModerateFails, accountID)
		return true
	}
	r.recentModerateFails[accountID] = kept
	return false
}

// GetStatus returns the account's current status
func (r *Registry) GetStatus(accountID uuid.UUID) (account.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return "", account.ErrAccountNotFound
	}
	return a.Status, nil
}

// Get returns a copy of the account
func (r *Registry) Get(accountID uuid.UUID) (account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return account.Account{}, account.ErrAccountNotFound
	}
	return *a, nil
}

// ListEligible returns copies of accounts at or above the minimum status,
// most trusted first
func (r *Registry) ListEligible(min account.Status) []account.Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	eligible := make([]account.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		if a.Status.AtLeast(min) && a.Status.Usable() {
			eligible = append(eligible, *a)
		}
	}
	sortByTrust(eligible)
	return eligible
}

// RecordAction updates last-action bookkeeping after a remote call
func (r *Registry) RecordAction(ctx context.Context, accountID uuid.UUID, window time.Duration) error {
	r.mu.Lock()
	a, ok := r.accounts[accountID]
	if !ok {
		r.mu.Unlock()
		return account.ErrAccountNotFound
	}
	a.RecordAction(r.now(), window)
	copied := *a
	r.mu.Unlock()

	return r.repo.Save(ctx, &copied)
}

// ReleaseFromQuarantine clears an elapsed quarantine timer. Only the
// quarantine manager's scheduled check calls this; in-band actions cannot
// release early.
func (r *Registry) ReleaseFromQuarantine(ctx context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	a, ok := r.accounts[accountID]
	if !ok {
		r.mu.Unlock()
		return account.ErrAccountNotFound
	}
	if err := a.Release(r.now()); err != nil {
		r.mu.Unlock()
		return err
	}
	copied := *a
	r.mu.Unlock()

	r.logger.Info("Account released from quarantine",
		zap.String("account_id", accountID.String()),
		zap.String("status", copied.Status.String()),
	)
	return r.repo.Save(ctx, &copied)
}

// ForceQuarantine manually quarantines an account for the given duration
func (r *Registry) ForceQuarantine(ctx context.Context, accountID uuid.UUID, duration time.Duration) error {
	r.mu.Lock()
	a, ok := r.accounts[accountID]
	if !ok {
		r.mu.Unlock()
		return account.ErrAccountNotFound
	}
	if err := a.ForceQuarantine(duration, r.now()); err != nil {
		r.mu.Unlock()
		return err
	}
	copied := *a
	r.mu.Unlock()

	r.logger.Warn("Account force-quarantined",
		zap.String("account_id", accountID.String()),
		zap.Duration("duration", duration),
	)
	return r.repo.Save(ctx, &copied)
}

// DueForRelease lists accounts whose quarantine timer has elapsed
func (r *Registry) DueForRelease() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	due := make([]uuid.UUID, 0)
	for id, a := range r.accounts {
		if a.QuarantineElapsed(now) {
			due = append(due, id)
		}
	}
	return due
}

// sortByTrust orders accounts by descending trust rank, then score
func sortByTrust(accounts []account.Account) {
	for i := 1; i < len(accounts); i++ {
		for j := i; j > 0; j-- {
			a, b := accounts[j-1], accounts[j]
			if a.Status.TrustRank() > b.Status.TrustRank() {
				break
			}
			if a.Status.TrustRank() == b.Status.TrustRank() && a.Score >= b.Score {
				break
			}
			accounts[j-1], accounts[j] = b, a
		}
	}
}
