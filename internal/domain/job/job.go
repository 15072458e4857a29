// Package job defines the Action Job aggregate: one unit of remote work
// targeting one listing through one marketplace account.
package job

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/relister/backend/internal/domain/shared"
)

var (
	ErrJobNotFound       = errors.New("job: job not found")
	ErrInvalidKind       = errors.New("job: invalid action kind")
	ErrNotCancellable    = errors.New("job: job is not queued and cannot be cancelled")
	ErrAlreadyTerminal   = errors.New("job: job already reached a terminal status")
	ErrNotRunning        = errors.New("job: job is not running")
	ErrRetriesExhausted  = errors.New("job: maximum retry count exceeded")
	ErrDuplicateDedupKey = errors.New("job: duplicate dedup key")
)

// ---------------------------------------------------------------------------
// Kind
// ---------------------------------------------------------------------------

// Kind represents the remote action a job performs
type Kind string

const (
	// KindPublish publishes or re-publishes a listing
	KindPublish Kind = "PUBLISH"
	// KindBump bumps a listing back to the top of search results
	KindBump Kind = "BUMP"
	// KindFollow follows another marketplace user
	KindFollow Kind = "FOLLOW"
	// KindMessage sends a message to a buyer
	KindMessage Kind = "MESSAGE"
	// KindSyncPull reads the remote state of a listing
	KindSyncPull Kind = "SYNC_PULL"
	// KindSyncPush pushes pending local edits of a listing to the platform
	KindSyncPush Kind = "SYNC_PUSH"
)

// IsValid returns true if the kind is a known action kind
func (k Kind) IsValid() bool {
	switch k {
	case KindPublish, KindBump, KindFollow, KindMessage, KindSyncPull, KindSyncPush:
		return true
	default:
		return false
	}
}

// String returns the string representation of Kind
func (k Kind) String() string {
	return string(k)
}

// MutatesListing returns true if a successful execution writes back
// remote id/version to the listing record
func (k Kind) MutatesListing() bool {
	switch k {
	case KindPublish, KindSyncPush:
		return true
	default:
		return false
	}
}

// IsRead returns true for kinds that only read remote state
func (k Kind) IsRead() bool {
	return k == KindSyncPull
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// Status represents the lifecycle status of an action job
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsValid returns true if the status is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transitions are allowed
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// ActionJob
// ---------------------------------------------------------------------------

// ActionJob is a unit of work targeting one listing via one remote action kind.
// The scheduler owns the job until it reaches a terminal status; only retry
// count and the earliest-eligible timestamp are updated in between.
type ActionJob struct {
	shared.BaseEntity

	// ListingID references the target listing. Nil for account-only
	// actions (follow, message).
	ListingID uuid.UUID
	Kind      Kind
	Status    Status

	// AccountPin optionally pins the job to one specific account.
	AccountPin *uuid.UUID
	// AccountID is the account the job was last assigned to.
	AccountID *uuid.UUID

	// Payload carries action-specific data the executor forwards to the
	// browser layer (message text, follow target, image keys).
	Payload map[string]string

	// DedupKey makes submission idempotent; empty means no deduplication.
	DedupKey string

	RetryCount int
	MaxRetries int

	// NotBefore is the earliest-eligible timestamp; zero means immediately.
	NotBefore time.Time

	// Seq is the FIFO tie-breaker assigned at enqueue time.
	Seq int64

	Outcome     *Outcome
	LastError   string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewActionJob creates a queued action job
func NewActionJob(listingID uuid.UUID, kind Kind, maxRetries int) (*ActionJob, error) {
	if !kind.IsValid() {
		return nil, ErrInvalidKind
	}
	return &ActionJob{
		BaseEntity: shared.NewBaseEntity(),
		ListingID:  listingID,
		Kind:       kind,
		Status:     StatusQueued,
		Payload:    make(map[string]string),
		MaxRetries: maxRetries,
	}, nil
}

// PinAccount restricts the job to a single account
func (j *ActionJob) PinAccount(accountID uuid.UUID) {
	pin := accountID
	j.AccountPin = &pin
}

// Start marks the job as running on the given account
func (j *ActionJob) Start(accountID uuid.UUID) error {
	if j.Status != StatusQueued {
		return ErrAlreadyTerminal
	}
	now := time.Now()
	acc := accountID
	j.Status = StatusRunning
	j.AccountID = &acc
	j.StartedAt = &now
	j.LastError = ""
	j.UpdatedAt = now
	return nil
}

// CompleteSuccess marks the job as terminally succeeded
func (j *ActionJob) CompleteSuccess() error {
	if j.Status != StatusRunning {
		return ErrNotRunning
	}
	now := time.Now()
	outcome := OutcomeSuccess
	j.Status = StatusSucceeded
	j.Outcome = &outcome
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// FailPermanently marks the job as terminally failed with the given outcome
func (j *ActionJob) FailPermanently(outcome Outcome, reason string) error {
	if j.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	now := time.Now()
	o := outcome
	j.Status = StatusFailed
	j.Outcome = &o
	j.LastError = reason
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// CanRetry returns true if another attempt is allowed
func (j *ActionJob) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// ScheduleRetry re-queues the job with exponential backoff.
// The delay is baseDelay * 2^retryCount, bounded by maxDelay.
func (j *ActionJob) ScheduleRetry(outcome Outcome, reason string, baseDelay, maxDelay time.Duration) error {
	if !j.CanRetry() {
		return ErrRetriesExhausted
	}
	now := time.Now()
	delay := baseDelay * time.Duration(1<<j.RetryCount)
	if delay > maxDelay {
		delay = maxDelay
	}
	o := outcome
	j.RetryCount++
	j.Status = StatusQueued
	j.Outcome = &o
	j.LastError = reason
	j.AccountID = nil
	j.NotBefore = now.Add(delay)
	j.StartedAt = nil
	j.UpdatedAt = now
	return nil
}

// RecoverToQueue returns an interrupted running job to the queue without
// consuming a retry. Used at startup for jobs orphaned by a crash.
func (j *ActionJob) RecoverToQueue() error {
	if j.Status != StatusRunning {
		return ErrNotRunning
	}
	j.Status = StatusQueued
	j.AccountID = nil
	j.StartedAt = nil
	j.UpdatedAt = time.Now()
	return nil
}

// Cancel cancels a queued job. Running and terminal jobs cannot be cancelled.
func (j *ActionJob) Cancel() error {
	if j.Status != StatusQueued {
		return ErrNotCancellable
	}
	now := time.Now()
	j.Status = StatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Eligible returns true if the job may be dequeued at the given instant
func (j *ActionJob) Eligible(now time.Time) bool {
	return j.Status == StatusQueued && !now.Before(j.NotBefore)
}
