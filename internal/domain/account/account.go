// Package account defines the marketplace account aggregate and its trust
// state machine. The health registry owns every account; other components
// read account state but never mutate it directly.
package account

import (
	"errors"
	"time"

	"github.com/relister/backend/internal/domain/shared"
)

var (
	ErrAccountNotFound  = errors.New("account: account not found")
	ErrAccountBanned    = errors.New("account: account is permanently banned")
	ErrNotQuarantined   = errors.New("account: account is not quarantined or rate limited")
	ErrQuarantineActive = errors.New("account: quarantine timer has not elapsed")
	ErrInvalidOutcome   = errors.New("account: outcome kind cannot be applied to account health")
)

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// Status is the trust level of an account with the remote platform
type Status string

const (
	// StatusInactive marks accounts never used or manually disabled
	StatusInactive Status = "INACTIVE"
	// StatusHealthy accounts are preferred for new work
	StatusHealthy Status = "HEALTHY"
	// StatusWarning accounts are usable but deprioritized
	StatusWarning Status = "WARNING"
	// StatusRateLimited accounts sit out a short quarantine window
	StatusRateLimited Status = "RATE_LIMITED"
	// StatusQuarantined accounts sit out a long quarantine window
	StatusQuarantined Status = "QUARANTINED"
	// StatusBanned is terminal; only a manual override leaves it
	StatusBanned Status = "BANNED"
)

// IsValid returns true if the status is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusInactive, StatusHealthy, StatusWarning,
		StatusRateLimited, StatusQuarantined, StatusBanned:
		return true
	default:
		return false
	}
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// Usable returns true if the scheduler may hand work to an account in this status
func (s Status) Usable() bool {
	return s == StatusHealthy || s == StatusWarning
}

// InQuarantine returns true for statuses governed by a quarantine timer
func (s Status) InQuarantine() bool {
	return s == StatusRateLimited || s == StatusQuarantined
}

// TrustRank orders statuses by trust; higher is more trusted. Used to
// implement "list eligible accounts at or above a minimum status".
func (s Status) TrustRank() int {
	switch s {
	case StatusHealthy:
		return 5
	case StatusWarning:
		return 4
	case StatusRateLimited:
		return 3
	case StatusQuarantined:
		return 2
	case StatusBanned:
		return 1
	default: // INACTIVE never ranks
		return 0
	}
}

// AtLeast returns true if s is at least as trusted as min
func (s Status) AtLeast(min Status) bool {
	if s == StatusInactive {
		return false
	}
	return s.TrustRank() >= min.TrustRank()
}

// ---------------------------------------------------------------------------
// Account
// ---------------------------------------------------------------------------

// Account is one externally-authenticated marketplace identity. SessionRef
// is an opaque handle into the session vault, never the credential itself.
type Account struct {
	shared.BaseEntity

	Alias      string
	SessionRef string

	Score  int
	Status Status

	ConsecutiveSoftFails int
	LastActionAt         *time.Time

	// Rolling per-window action accounting, maintained by the governor's
	// release path through the registry.
	WindowStartedAt   time.Time
	WindowActionCount int

	// Quarantine bookkeeping
	QuarantinedUntil    *time.Time
	PreQuarantineStatus Status

	// LastDowngradeAt gates upgrades: trust is re-earned only after the
	// cooldown since the last downgrade has elapsed.
	LastDowngradeAt *time.Time
}

// NewAccount creates an inactive account around a vault session reference
func NewAccount(alias, sessionRef string, initialScore int) *Account {
	return &Account{
		BaseEntity: shared.NewBaseEntity(),
		Alias:      alias,
		SessionRef: sessionRef,
		Score:      initialScore,
		Status:     StatusInactive,
	}
}

// Activate moves a never-used account into rotation
func (a *Account) Activate() {
	if a.Status == StatusInactive {
		a.Status = StatusHealthy
		a.UpdatedAt = time.Now()
	}
}

// Deactivate manually removes the account from rotation
func (a *Account) Deactivate() {
	if a.Status != StatusBanned {
		a.Status = StatusInactive
		a.QuarantinedUntil = nil
		a.UpdatedAt = time.Now()
	}
}

// RecordAction updates last-action time and the rolling window counter
func (a *Account) RecordAction(now time.Time, window time.Duration) {
	t := now
	a.LastActionAt = &t
	if a.WindowStartedAt.IsZero() || now.Sub(a.WindowStartedAt) >= window {
		a.WindowStartedAt = now
		a.WindowActionCount = 0
	}
	a.WindowActionCount++
	a.UpdatedAt = now
}

// QuarantineElapsed returns true if the quarantine timer has run out
func (a *Account) QuarantineElapsed(now time.Time) bool {
	return a.Status.InQuarantine() && a.QuarantinedUntil != nil && !now.Before(*a.QuarantinedUntil)
}
