// Package scheduler owns the durable action queue: ordering, account
// assignment, retry/backoff and completion. A job belongs to the scheduler
// from enqueue until it reaches a terminal status.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relister/backend/internal/domain/account"
	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/domain/listing"
	"github.com/relister/backend/internal/infrastructure/cache"
	"github.com/relister/backend/internal/infrastructure/executor"
	"github.com/relister/backend/internal/infrastructure/governor"
	"github.com/relister/backend/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config holds scheduler settings
type Config struct {
	// Workers is the number of concurrent executors
	Workers int
	// QueueDepth bounds the dispatch channel
	QueueDepth int
	// MaxRetries is the default retry budget for new jobs
	MaxRetries int
	// RetryBaseDelay seeds the exponential backoff
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the exponential backoff
	RetryMaxDelay time.Duration
	// PollInterval is the fallback dispatch wake-up interval
	PollInterval time.Duration
	// DedupTTL bounds how long a dedup key reservation lives
	DedupTTL time.Duration
	// MaxHistory bounds the in-memory completion history
	MaxHistory int
}

// DefaultConfig returns default scheduler settings
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueDepth:     64,
		MaxRetries:     3,
		RetryBaseDelay: time.Minute,
		RetryMaxDelay:  30 * time.Minute,
		PollInterval:   5 * time.Second,
		DedupTTL:       24 * time.Hour,
		MaxHistory:     200,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Workers <= 0 || c.QueueDepth <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxRetries < 0 {
		return ErrInvalidConfig
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return ErrInvalidConfig
	}
	if c.PollInterval <= 0 {
		return ErrInvalidConfig
	}
	// A zero TTL makes every dedup reservation expire on arrival.
	if c.DedupTTL <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// Collaborator Interfaces
// ---------------------------------------------------------------------------

// AttemptExecutor runs one attempt of a job on an account
type AttemptExecutor interface {
	Execute(ctx context.Context, j *job.ActionJob, acct account.Account) (*executor.Result, error)
}

// AccountSource provides usable accounts, most trusted first
type AccountSource interface {
	ListEligible(min account.Status) []account.Account
	Get(accountID uuid.UUID) (account.Account, error)
}

// Limiter grants pacing budget before an account may act
type Limiter interface {
	TryAcquire(accountID uuid.UUID) governor.Decision
	Release(accountID uuid.UUID)
	Forget(accountID uuid.UUID)
}

// SnapshotHandler receives the remote snapshot a successful sync pull
// produced. The reconciler registers itself here.
type SnapshotHandler func(ctx context.Context, listingID uuid.UUID, snap *listing.RemoteSnapshot) error

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// HistoryEntry records one completed attempt for monitoring
type HistoryEntry struct {
	JobID       uuid.UUID
	ListingID   uuid.UUID
	Kind        job.Kind
	Status      job.Status
	Outcome     *job.Outcome
	AccountID   *uuid.UUID
	RetryCount  int
	CompletedAt time.Time
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

type dispatchItem struct {
	job  *job.ActionJob
	acct account.Account
}

// Scheduler dispatches queued jobs to workers under ordering, health and
// pacing constraints
type Scheduler struct {
	cfg      Config
	repo     job.Repository
	accounts AccountSource
	limiter  Limiter
	exec     AttemptExecutor
	dedup    cache.DedupStore
	logger   *zap.Logger
	metrics  *telemetry.OrchestrationMetrics
	now      func() time.Time

	onSnapshot SnapshotHandler

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// inflight maps account -> job; one job per account at a time
	inflight map[uuid.UUID]uuid.UUID
	// listingBusy marks listings with a running job, preserving per-listing
	// order
	listingBusy map[uuid.UUID]bool

	dispatchCh chan dispatchItem
	wakeCh     chan struct{}

	historyMu  sync.RWMutex
	history    []HistoryEntry
	maxHistory int
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock injects a clock, used by tests
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithSnapshotHandler registers the sync-pull snapshot consumer
func WithSnapshotHandler(h SnapshotHandler) Option {
	return func(s *Scheduler) {
		s.onSnapshot = h
	}
}

// WithMetrics records job throughput and pacing denials
func WithMetrics(m *telemetry.OrchestrationMetrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// New creates a scheduler
func New(cfg Config, repo job.Repository, accounts AccountSource, limiter Limiter, exec AttemptExecutor, dedup cache.DedupStore, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		cfg:         cfg,
		repo:        repo,
		accounts:    accounts,
		limiter:     limiter,
		exec:        exec,
		dedup:       dedup,
		logger:      logger.Named("scheduler"),
		now:         time.Now,
		inflight:    make(map[uuid.UUID]uuid.UUID),
		listingBusy: make(map[uuid.UUID]bool),
		dispatchCh:  make(chan dispatchItem, cfg.QueueDepth),
		wakeCh:      make(chan struct{}, 1),
		history:     make([]HistoryEntry, 0, cfg.MaxHistory),
		maxHistory:  cfg.MaxHistory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetSnapshotHandler registers the sync-pull snapshot consumer after
// construction, resolving the scheduler/reconciler cycle at wiring time
func (s *Scheduler) SetSnapshotHandler(h SnapshotHandler) {
	s.onSnapshot = h
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Start recovers orphaned jobs and launches the dispatch loop and workers
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	if err := s.recover(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.wg.Add(1)
	go s.dispatchLoop(ctx)

	s.logger.Info("Scheduler started",
		zap.Int("workers", s.cfg.Workers),
		zap.Duration("poll_interval", s.cfg.PollInterval),
	)
	return nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// recover re-queues jobs orphaned in RUNNING status by a previous crash
func (s *Scheduler) recover(ctx context.Context) error {
	orphans, err := s.repo.FindRunning(ctx)
	if err != nil {
		return err
	}
	for i := range orphans {
		j := orphans[i]
		if err := j.RecoverToQueue(); err != nil {
			continue
		}
		if err := s.repo.Save(ctx, &j); err != nil {
			return err
		}
		s.logger.Warn("Recovered orphaned job",
			zap.String("job_id", j.ID.String()),
			zap.String("kind", j.Kind.String()),
		)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Submission
// ---------------------------------------------------------------------------

// Enqueue adds a job to the durable queue. When the job carries a dedup key
// that an earlier non-terminal job already holds, the earlier job's ID is
// returned and nothing new is queued.
func (s *Scheduler) Enqueue(ctx context.Context, j *job.ActionJob) (uuid.UUID, error) {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()
	if !running {
		return uuid.Nil, ErrSchedulerNotRunning
	}

	if j.ListingID == uuid.Nil && j.Kind != job.KindFollow && j.Kind != job.KindMessage {
		return uuid.Nil, ErrNoListingTarget
	}

	if j.DedupKey != "" {
		if existing, err := s.repo.FindByDedupKey(ctx, j.DedupKey); err == nil {
			return existing.ID, nil
		}
		holder, won, err := s.dedup.Reserve(ctx, j.DedupKey, j.ID.String(), s.cfg.DedupTTL)
		if err != nil {
			return uuid.Nil, err
		}
		if !won {
			if id, parseErr := uuid.Parse(holder); parseErr == nil {
				return id, nil
			}
			return uuid.Nil, job.ErrDuplicateDedupKey
		}
	}

	seq, err := s.repo.NextSeq(ctx)
	if err != nil {
		s.releaseDedup(ctx, j)
		return uuid.Nil, err
	}
	j.Seq = seq

	if err := s.repo.Save(ctx, j); err != nil {
		s.releaseDedup(ctx, j)
		return uuid.Nil, err
	}

	s.logger.Info("Job enqueued",
		zap.String("job_id", j.ID.String()),
		zap.String("kind", j.Kind.String()),
		zap.Int64("seq", j.Seq),
	)
	s.wake()
	return j.ID, nil
}

// Cancel cancels a queued job. Running jobs finish their attempt first.
// The read-cancel-save sequence holds the scheduler lock so it cannot
// interleave with a dispatch starting the same job from a stale queue
// snapshot.
func (s *Scheduler) Cancel(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	j, err := s.cancelLocked(ctx, jobID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.releaseDedup(ctx, j)
	s.addHistory(j)
	s.logger.Info("Job cancelled", zap.String("job_id", jobID.String()))
	return nil
}

func (s *Scheduler) cancelLocked(ctx context.Context, jobID uuid.UUID) (*job.ActionJob, error) {
	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := j.Cancel(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wakeCh:
		case <-timer.C:
		}

		next := s.dispatchCycle(ctx)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)
	}
}

// dispatchCycle assigns as many eligible jobs as budget allows and returns
// the wait until the next scheduled wake-up
func (s *Scheduler) dispatchCycle(ctx context.Context) time.Duration {
	now := s.now()
	nextWake := s.cfg.PollInterval

	queued, err := s.repo.FindQueued(ctx, 0)
	if err != nil {
		s.logger.Error("Failed to load queue", zap.Error(err))
		return nextWake
	}

	for _, candidate := range s.headOfLinePerListing(queued) {
		j := candidate
		if !j.Eligible(now) {
			if wait := j.NotBefore.Sub(now); wait > 0 && wait < nextWake {
				nextWake = wait
			}
			continue
		}

		acct, decision, ok := s.pickAccount(&j)
		if !ok {
			if s.metrics != nil && decision.Reason != "" {
				scope := "account"
				if decision.Reason == governor.DenialGlobalBudget {
					scope = "global"
				}
				s.metrics.RecordGovernorDenial(ctx, scope)
			}
			if decision.RetryAfter > 0 && decision.RetryAfter < nextWake {
				nextWake = decision.RetryAfter
			}
			if decision.Reason == governor.DenialGlobalBudget {
				// No account can proceed; stop the cycle.
				break
			}
			continue
		}

		// Re-read under the lock: the queue snapshot is stale, and the job
		// may have been cancelled since it was loaded.
		s.mu.Lock()
		fresh, err := s.repo.FindByID(ctx, j.ID)
		if err != nil || fresh.Status != job.StatusQueued {
			s.mu.Unlock()
			s.limiter.Release(acct.ID)
			continue
		}
		j = *fresh
		if err := j.Start(acct.ID); err != nil {
			s.mu.Unlock()
			s.limiter.Release(acct.ID)
			continue
		}
		if err := s.repo.Save(ctx, &j); err != nil {
			s.mu.Unlock()
			s.logger.Error("Failed to persist job start", zap.Error(err))
			s.limiter.Release(acct.ID)
			continue
		}
		s.inflight[acct.ID] = j.ID
		if j.ListingID != uuid.Nil {
			s.listingBusy[j.ListingID] = true
		}
		s.mu.Unlock()

		select {
		case s.dispatchCh <- dispatchItem{job: &j, acct: acct}:
		case <-ctx.Done():
			return nextWake
		}
	}

	return nextWake
}

// headOfLinePerListing keeps only the lowest-seq queued job per listing so
// actions on one listing run in submission order. Account-only jobs pass
// through untouched.
func (s *Scheduler) headOfLinePerListing(queued []job.ActionJob) []job.ActionJob {
	s.mu.Lock()
	busy := make(map[uuid.UUID]bool, len(s.listingBusy))
	for id, b := range s.listingBusy {
		busy[id] = b
	}
	s.mu.Unlock()

	head := make(map[uuid.UUID]job.ActionJob)
	var accountOnly []job.ActionJob
	for _, j := range queued {
		if j.ListingID == uuid.Nil {
			accountOnly = append(accountOnly, j)
			continue
		}
		if busy[j.ListingID] {
			continue
		}
		if current, ok := head[j.ListingID]; !ok || j.Seq < current.Seq {
			head[j.ListingID] = j
		}
	}

	result := make([]job.ActionJob, 0, len(head)+len(accountOnly))
	for _, j := range queued {
		if j.ListingID == uuid.Nil {
			continue
		}
		if h, ok := head[j.ListingID]; ok && h.ID == j.ID {
			result = append(result, j)
		}
	}
	result = append(result, accountOnly...)
	return result
}

// pickAccount selects an account for the job and acquires pacing budget for
// it. HEALTHY accounts are tried before WARNING ones; accounts already
// executing a job are skipped.
func (s *Scheduler) pickAccount(j *job.ActionJob) (account.Account, governor.Decision, bool) {
	var candidates []account.Account
	if j.AccountPin != nil {
		acct, err := s.accounts.Get(*j.AccountPin)
		if err != nil || !acct.Status.Usable() {
			return account.Account{}, governor.Decision{}, false
		}
		candidates = []account.Account{acct}
	} else {
		candidates = s.accounts.ListEligible(account.StatusWarning)
	}

	s.mu.Lock()
	busy := make(map[uuid.UUID]bool, len(s.inflight))
	for id := range s.inflight {
		busy[id] = true
	}
	s.mu.Unlock()

	var lastDenial governor.Decision
	for _, acct := range candidates {
		if busy[acct.ID] {
			continue
		}
		decision := s.limiter.TryAcquire(acct.ID)
		if decision.Granted {
			return acct, decision, true
		}
		lastDenial = decision
		if decision.Reason == governor.DenialGlobalBudget {
			break
		}
	}
	return account.Account{}, lastDenial, false
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

func (s *Scheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-s.dispatchCh:
			result, err := s.exec.Execute(ctx, item.job, item.acct)
			s.complete(ctx, item.job, item.acct, result, err)
		}
	}
}

// complete applies the attempt result to the job and releases scheduling
// state
func (s *Scheduler) complete(ctx context.Context, j *job.ActionJob, acct account.Account, result *executor.Result, execErr error) {
	s.mu.Lock()
	delete(s.inflight, acct.ID)
	if j.ListingID != uuid.Nil {
		delete(s.listingBusy, j.ListingID)
	}
	s.mu.Unlock()

	switch {
	case execErr != nil:
		// The attempt never reached the platform; retry without blaming
		// the account.
		s.retryOrFail(j, job.OutcomeSoftFailure, execErr.Error())

	case result.Outcome == job.OutcomeSuccess:
		if err := j.CompleteSuccess(); err == nil && j.Kind == job.KindSyncPull {
			s.deliverSnapshot(ctx, j, result)
		}

	case result.Outcome == job.OutcomePermanentFailure:
		_ = j.FailPermanently(result.Outcome, result.Reason)

	case result.Outcome == job.OutcomeBan:
		// The account is gone; drop its bucket and let another account
		// pick the job up.
		s.limiter.Forget(acct.ID)
		s.retryOrFail(j, result.Outcome, result.Reason)

	default:
		s.retryOrFail(j, result.Outcome, result.Reason)
	}

	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Error("Failed to persist job completion",
			zap.String("job_id", j.ID.String()),
			zap.Error(err),
		)
	}
	if j.Status.IsTerminal() {
		s.releaseDedup(ctx, j)
		s.addHistory(j)
		if s.metrics != nil && j.Outcome != nil {
			s.metrics.RecordJobCompleted(ctx, j.Kind.String(), j.Outcome.String())
		}
	} else if s.metrics != nil && j.Outcome != nil {
		s.metrics.RecordJobRetried(ctx, j.Kind.String(), j.Outcome.String())
	}
	s.wake()
}

func (s *Scheduler) retryOrFail(j *job.ActionJob, outcome job.Outcome, reason string) {
	if j.CanRetry() {
		if err := j.ScheduleRetry(outcome, reason, s.cfg.RetryBaseDelay, s.cfg.RetryMaxDelay); err == nil {
			s.logger.Info("Job scheduled for retry",
				zap.String("job_id", j.ID.String()),
				zap.String("outcome", outcome.String()),
				zap.Int("retry_count", j.RetryCount),
				zap.Time("not_before", j.NotBefore),
			)
			return
		}
	}
	_ = j.FailPermanently(outcome, reason)
	s.logger.Warn("Job failed permanently",
		zap.String("job_id", j.ID.String()),
		zap.String("outcome", outcome.String()),
		zap.String("reason", reason),
	)
}

func (s *Scheduler) deliverSnapshot(ctx context.Context, j *job.ActionJob, result *executor.Result) {
	if s.onSnapshot == nil || result.Snapshot == nil {
		return
	}
	if err := s.onSnapshot(ctx, j.ListingID, result.Snapshot); err != nil {
		s.logger.Error("Snapshot handler failed",
			zap.String("job_id", j.ID.String()),
			zap.String("listing_id", j.ListingID.String()),
			zap.Error(err),
		)
	}
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// GetHistory returns recent terminal jobs, newest first
func (s *Scheduler) GetHistory(limit int) []HistoryEntry {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]HistoryEntry, limit)
	copy(result, s.history[:limit])
	return result
}

func (s *Scheduler) addHistory(j *job.ActionJob) {
	entry := HistoryEntry{
		JobID:       j.ID,
		ListingID:   j.ListingID,
		Kind:        j.Kind,
		Status:      j.Status,
		Outcome:     j.Outcome,
		AccountID:   j.AccountID,
		RetryCount:  j.RetryCount,
		CompletedAt: s.now(),
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.history = append([]HistoryEntry{entry}, s.history...)
	if len(s.history) > s.maxHistory {
		s.history = s.history[:s.maxHistory]
	}
}

func (s *Scheduler) releaseDedup(ctx context.Context, j *job.ActionJob) {
	if j.DedupKey == "" {
		return
	}
	if err := s.dedup.Release(ctx, j.DedupKey); err != nil {
		s.logger.Warn("Failed to release dedup key",
			zap.String("dedup_key", j.DedupKey),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}
