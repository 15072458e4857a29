package account

import (
	"errors"
	"time"

	"github.com/relister/backend/internal/domain/job"
)

// ---------------------------------------------------------------------------
// HealthPolicy
// ---------------------------------------------------------------------------

// HealthPolicy holds the score deltas, thresholds and quarantine durations
// that drive the trust state machine
type HealthPolicy struct {
	// SuccessDelta is added on success, capped at ScoreCeiling
	SuccessDelta int
	// SoftFailureDelta is subtracted on a transient failure
	SoftFailureDelta int
	// RateLimitDelta is subtracted when the platform throttles the account
	RateLimitDelta int
	// AbuseDelta is subtracted on a CAPTCHA or block page
	AbuseDelta int

	// ScoreFloor and ScoreCeiling bound the score
	ScoreFloor   int
	ScoreCeiling int

	// UpgradeThreshold is the score required to upgrade one status level
	UpgradeThreshold int
	// UpgradeCooldown must elapse since the last downgrade before any upgrade
	UpgradeCooldown time.Duration

	// SoftFailureLimit consecutive soft failures force WARNING
	SoftFailureLimit int

	// AbuseWindow and AbuseWindowLimit quarantine an account that collects
	// too many moderate failures inside a rolling window
	AbuseWindow      time.Duration
	AbuseWindowLimit int

	// RateLimitQuarantine is the sit-out after a rate-limit signal
	RateLimitQuarantine time.Duration
	// AbuseQuarantine is the sit-out after an abuse signal
	AbuseQuarantine time.Duration
}

// DefaultHealthPolicy returns conservative defaults
func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{
		SuccessDelta:        1,
		SoftFailureDelta:    2,
		RateLimitDelta:      10,
		AbuseDelta:          25,
		ScoreFloor:          0,
		ScoreCeiling:        100,
		UpgradeThreshold:    60,
		UpgradeCooldown:     30 * time.Minute,
		SoftFailureLimit:    3,
		AbuseWindow:         10 * time.Minute,
		AbuseWindowLimit:    5,
		RateLimitQuarantine: 1 * time.Hour,
		AbuseQuarantine:     24 * time.Hour,
	}
}

// Validate validates the policy
func (p *HealthPolicy) Validate() error {
	if p.SuccessDelta <= 0 || p.SoftFailureDelta <= 0 || p.RateLimitDelta <= 0 || p.AbuseDelta <= 0 {
		return errors.New("account: health deltas must be positive")
	}
	if p.ScoreCeiling <= p.ScoreFloor {
		return errors.New("account: score ceiling must exceed floor")
	}
	if p.UpgradeThreshold <= p.ScoreFloor || p.UpgradeThreshold > p.ScoreCeiling {
		return errors.New("account: upgrade threshold out of range")
	}
	if p.SoftFailureLimit <= 0 {
		return errors.New("account: soft failure limit must be positive")
	}
	if p.RateLimitQuarantine <= 0 || p.AbuseQuarantine <= 0 {
		return errors.New("account: quarantine durations must be positive")
	}
	if p.AbuseWindow <= 0 || p.AbuseWindowLimit <= 0 {
		return errors.New("account: abuse window settings must be positive")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

// ApplyOutcome computes the score update and status transition for one
// classified outcome as a single atomic mutation of the account. Callers
// (the registry) hold the account lock for the whole call, so no torn
// intermediate state is ever observable.
func (a *Account) ApplyOutcome(outcome job.Outcome, p HealthPolicy, now time.Time) (Status, error) {
	if !outcome.AffectsHealth() {
		return a.Status, ErrInvalidOutcome
	}
	if a.Status == StatusBanned {
		// Terminal: the score no longer matters.
		return a.Status, nil
	}

	switch outcome {
	case job.OutcomeSuccess:
		a.applySuccess(p, now)
	case job.OutcomeSoftFailure:
		a.applySoftFailure(p, now)
	case job.OutcomeRateLimit:
		a.enterQuarantine(StatusRateLimited, p.RateLimitDelta, p.RateLimitQuarantine, p, now)
	case job.OutcomeAbuse:
		a.enterQuarantine(StatusQuarantined, p.AbuseDelta, p.AbuseQuarantine, p, now)
	case job.OutcomeBan:
		a.Status = StatusBanned
		a.QuarantinedUntil = nil
		a.Score = p.ScoreFloor
	}

	a.UpdatedAt = now
	return a.Status, nil
}

func (a *Account) applySuccess(p HealthPolicy, now time.Time) {
	a.ConsecutiveSoftFails = 0
	a.Score += p.SuccessDelta
	if a.Score > p.ScoreCeiling {
		a.Score = p.ScoreCeiling
	}
	// Success alone never skips the cooldown: trust is re-earned slowly.
	if a.Status == StatusWarning && a.Score >= p.UpgradeThreshold && a.cooldownElapsed(p, now) {
		a.Status = StatusHealthy
	}
}

func (a *Account) applySoftFailure(p HealthPolicy, now time.Time) {
	a.ConsecutiveSoftFails++
	a.Score -= p.SoftFailureDelta
	if a.Score < p.ScoreFloor {
		a.Score = p.ScoreFloor
	}
	if a.ConsecutiveSoftFails >= p.SoftFailureLimit && a.Status == StatusHealthy {
		a.Status = StatusWarning
		t := now
		a.LastDowngradeAt = &t
	}
}

func (a *Account) enterQuarantine(target Status, delta int, duration time.Duration, p HealthPolicy, now time.Time) {
	if a.Status.Usable() {
		a.PreQuarantineStatus = a.Status
	}
	a.Status = target
	a.Score -= delta
	if a.Score < p.ScoreFloor {
		a.Score = p.ScoreFloor
	}
	a.ConsecutiveSoftFails = 0
	until := now.Add(duration)
	a.QuarantinedUntil = &until
	t := now
	a.LastDowngradeAt = &t
}

func (a *Account) cooldownElapsed(p HealthPolicy, now time.Time) bool {
	if a.LastDowngradeAt == nil {
		return true
	}
	return now.Sub(*a.LastDowngradeAt) >= p.UpgradeCooldown
}

// Release clears the quarantine timer once it has elapsed and restores the
// pre-quarantine status capped at WARNING: a released account always
// re-earns HEALTHY through successes.
func (a *Account) Release(now time.Time) error {
	if !a.Status.InQuarantine() {
		return ErrNotQuarantined
	}
	if a.QuarantinedUntil != nil && now.Before(*a.QuarantinedUntil) {
		return ErrQuarantineActive
	}
	a.Status = StatusWarning
	a.QuarantinedUntil = nil
	a.PreQuarantineStatus = ""
	a.UpdatedAt = now
	return nil
}

// ForceQuarantine puts the account into QUARANTINED for the given duration,
// bypassing outcome classification. Used for manual intervention only.
func (a *Account) ForceQuarantine(duration time.Duration, now time.Time) error {
	if a.Status == StatusBanned {
		return ErrAccountBanned
	}
	if a.Status.Usable() {
		a.PreQuarantineStatus = a.Status
	}
	a.Status = StatusQuarantined
	until := now.Add(duration)
	a.QuarantinedUntil = &until
	t := now
	a.LastDowngradeAt = &t
	a.UpdatedAt = now
	return nil
}
