// Package executor runs a single action job attempt end to end: human-like
// pacing, the browser action itself, outcome classification and the health
// report. It never retries; rescheduling is the scheduler's decision.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relister/backend/internal/domain/account"
	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/domain/listing"
	"github.com/relister/backend/internal/infrastructure/browser"
	"github.com/relister/backend/internal/infrastructure/telemetry"
)

// Config holds executor pacing and timeout settings
type Config struct {
	// MinDelay and MaxDelay bound the randomized pre-action delay
	MinDelay time.Duration
	MaxDelay time.Duration
	// Jitter widens the delay by up to +/- this fraction
	Jitter float64
	// Timeout is the hard per-action ceiling; exceeding it is a soft failure
	Timeout time.Duration
	// ActionWindow is the rolling window for per-account action accounting
	ActionWindow time.Duration
}

// DefaultConfig returns pacing defaults tuned to look like a person
func DefaultConfig() Config {
	return Config{
		MinDelay:     2 * time.Second,
		MaxDelay:     8 * time.Second,
		Jitter:       0.25,
		Timeout:      90 * time.Second,
		ActionWindow: time.Hour,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return errors.New("executor: delay bounds must satisfy 0 <= min <= max")
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return errors.New("executor: jitter must be within [0, 1]")
	}
	if c.Timeout <= 0 {
		return errors.New("executor: timeout must be positive")
	}
	return nil
}

// HealthReporter receives classified outcomes. The health registry implements
// it; tests substitute a fake.
type HealthReporter interface {
	ReportOutcome(ctx context.Context, accountID uuid.UUID, outcome job.Outcome) (account.Status, error)
	RecordAction(ctx context.Context, accountID uuid.UUID, window time.Duration) error
}

// SessionSource resolves a vault session ref to its decrypted blob
type SessionSource interface {
	Get(ref string) ([]byte, error)
}

// Result is the classified outcome of one attempt
type Result struct {
	Outcome job.Outcome
	Reason  string

	// RemoteID and RemoteVersion are set after a successful publish/push
	RemoteID      string
	RemoteVersion int64

	// Snapshot is set after a successful sync pull
	Snapshot *listing.RemoteSnapshot
}

// Executor executes single attempts of action jobs
type Executor struct {
	cfg       Config
	performer browser.Performer
	sessions  SessionSource
	health    HealthReporter
	listings  listing.Repository
	logger    *zap.Logger
	metrics   *telemetry.OrchestrationMetrics
	rng       *rand.Rand
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures an Executor
type Option func(*Executor)

// WithSleeper replaces the pacing sleep, used by tests
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// WithRand injects a seeded random source, used by tests
func WithRand(rng *rand.Rand) Option {
	return func(e *Executor) {
		e.rng = rng
	}
}

// WithMetrics records remote action durations
func WithMetrics(m *telemetry.OrchestrationMetrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// New creates an executor
func New(cfg Config, performer browser.Performer, sessions SessionSource, health HealthReporter, listings listing.Repository, logger *zap.Logger, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Executor{
		cfg:       cfg,
		performer: performer,
		sessions:  sessions,
		health:    health,
		listings:  listings,
		logger:    logger.Named("executor"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute runs one attempt of the job on the given account and returns the
// classified result. Account-scoped signals are reported to the health
// registry before returning; permanent job failures are not, because they
// say nothing about the account.
func (e *Executor) Execute(ctx context.Context, j *job.ActionJob, acct account.Account) (*Result, error) {
	spec, target, err := e.buildSpec(ctx, j)
	if err != nil {
		// A job we cannot even describe is permanently broken.
		return &Result{Outcome: job.OutcomePermanentFailure, Reason: err.Error()}, nil
	}

	sessionBlob, err := e.sessions.Get(acct.SessionRef)
	if err != nil {
		return nil, fmt.Errorf("executor: resolving session for account %s: %w", acct.ID, err)
	}
	session := browser.Session{AccountID: acct.ID, Ref: acct.SessionRef, Cookies: sessionBlob}

	if err := e.sleep(ctx, e.pacingDelay()); err != nil {
		return nil, err
	}

	if err := e.health.RecordAction(ctx, acct.ID, e.cfg.ActionWindow); err != nil {
		e.logger.Warn("Failed to record action", zap.Error(err))
	}

	actionCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	raw, performErr := e.performer.Perform(actionCtx, session, spec)
	cancel()

	result := e.classify(raw, performErr)

	if e.metrics != nil && raw != nil {
		e.metrics.RecordActionDuration(ctx, j.Kind.String(), raw.Duration)
	}

	if result.Outcome.AffectsHealth() {
		if _, err := e.health.ReportOutcome(ctx, acct.ID, result.Outcome); err != nil {
			e.logger.Error("Failed to report outcome",
				zap.String("account_id", acct.ID.String()),
				zap.Error(err),
			)
		}
	}

	if result.Outcome == job.OutcomeSuccess && j.Kind.MutatesListing() && target != nil {
		if err := e.writeBack(ctx, target, result); err != nil {
			return nil, err
		}
	}

	e.logger.Info("Attempt finished",
		zap.String("job_id", j.ID.String()),
		zap.String("kind", j.Kind.String()),
		zap.String("account_id", acct.ID.String()),
		zap.String("outcome", result.Outcome.String()),
	)
	return result, nil
}

// buildSpec assembles the browser action spec, loading the listing when the
// kind needs one
func (e *Executor) buildSpec(ctx context.Context, j *job.ActionJob) (browser.ActionSpec, *listing.Listing, error) {
	spec := browser.ActionSpec{Kind: j.Kind, Payload: j.Payload}

	switch j.Kind {
	case job.KindFollow, job.KindMessage:
		return spec, nil, spec.Validate()
	}

	target, err := e.listings.FindByID(ctx, j.ListingID)
	if err != nil {
		return spec, nil, fmt.Errorf("loading listing %s: %w", j.ListingID, err)
	}

	spec.RemoteID = target.RemoteID
	content := target.Content
	spec.Content = &content

	if j.Kind != job.KindPublish && !target.Published() {
		return spec, nil, listing.ErrNotPublished
	}
	return spec, target, spec.Validate()
}

// classify maps raw page observations onto the closed outcome set
func (e *Executor) classify(raw *browser.RawResult, performErr error) *Result {
	if performErr != nil {
		switch {
		case errors.Is(performErr, context.DeadlineExceeded):
			return &Result{Outcome: job.OutcomeSoftFailure, Reason: "action timed out"}
		case errors.Is(performErr, browser.ErrInvalidSpec):
			return &Result{Outcome: job.OutcomePermanentFailure, Reason: performErr.Error()}
		case errors.Is(performErr, browser.ErrInvalidSession):
			return &Result{Outcome: job.OutcomeSoftFailure, Reason: "session blob unreadable"}
		default:
			return &Result{Outcome: job.OutcomeSoftFailure, Reason: performErr.Error()}
		}
	}

	m := raw.Markers
	switch {
	case m.AccountDisabled:
		return &Result{Outcome: job.OutcomeBan, Reason: "account disabled page shown"}
	case m.Captcha:
		return &Result{Outcome: job.OutcomeAbuse, Reason: "captcha challenge shown"}
	case m.BlockPage:
		return &Result{Outcome: job.OutcomeAbuse, Reason: "block page shown"}
	case m.RateLimitBanner:
		return &Result{Outcome: job.OutcomeRateLimit, Reason: "rate limit banner shown"}
	case m.LoginRequired:
		return &Result{Outcome: job.OutcomeSoftFailure, Reason: "session expired, login required"}
	case m.NotFound:
		return &Result{Outcome: job.OutcomePermanentFailure, Reason: "target no longer exists"}
	}

	if !raw.Completed {
		return &Result{Outcome: job.OutcomeSoftFailure, Reason: "success marker not observed"}
	}

	return &Result{
		Outcome:       job.OutcomeSuccess,
		RemoteID:      raw.RemoteID,
		RemoteVersion: raw.RemoteVersion,
		Snapshot:      raw.Snapshot,
	}
}

// writeBack persists the remote id/version a successful publish or push
// produced
func (e *Executor) writeBack(ctx context.Context, target *listing.Listing, result *Result) error {
	if result.RemoteID != "" {
		if err := target.AssignRemoteID(result.RemoteID); err != nil {
			return fmt.Errorf("executor: assigning remote id: %w", err)
		}
	}
	target.MarkPushed(result.RemoteVersion, time.Now())
	if err := e.listings.Save(ctx, target); err != nil {
		return fmt.Errorf("executor: persisting listing write-back: %w", err)
	}
	return nil
}

// pacingDelay picks a randomized human-like delay
func (e *Executor) pacingDelay() time.Duration {
	spread := e.cfg.MaxDelay - e.cfg.MinDelay
	delay := e.cfg.MinDelay
	if spread > 0 {
		delay += time.Duration(e.rng.Int63n(int64(spread)))
	}
	if e.cfg.Jitter > 0 {
		factor := 1 + (e.rng.Float64()*2-1)*e.cfg.Jitter
		delay = time.Duration(float64(delay) * factor)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
