package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relister/backend/internal/domain/job"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newHealthyAccount(score int) *Account {
	a := NewAccount("test-account", "vault:test", score)
	a.Activate()
	return a
}

// ---------------------------------------------------------------------------
// Status Tests
// ---------------------------------------------------------------------------

func TestStatus_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		expected bool
	}{
		{"Healthy valid", StatusHealthy, true},
		{"Warning valid", StatusWarning, true},
		{"RateLimited valid", StatusRateLimited, true},
		{"Quarantined valid", StatusQuarantined, true},
		{"Banned valid", StatusBanned, true},
		{"Inactive valid", StatusInactive, true},
		{"Unknown invalid", Status("UNKNOWN"), false},
		{"Empty invalid", Status(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.IsValid())
		})
	}
}

func TestStatus_Usable(t *testing.T) {
	assert.True(t, StatusHealthy.Usable())
	assert.True(t, StatusWarning.Usable())
	assert.False(t, StatusRateLimited.Usable())
	assert.False(t, StatusQuarantined.Usable())
	assert.False(t, StatusBanned.Usable())
	assert.False(t, StatusInactive.Usable())
}

func TestStatus_AtLeast(t *testing.T) {
	assert.True(t, StatusHealthy.AtLeast(StatusWarning))
	assert.True(t, StatusWarning.AtLeast(StatusWarning))
	assert.False(t, StatusRateLimited.AtLeast(StatusWarning))
	assert.False(t, StatusInactive.AtLeast(StatusBanned))
}

// ---------------------------------------------------------------------------
// HealthPolicy Tests
// ---------------------------------------------------------------------------

func TestHealthPolicy_Validate(t *testing.T) {
	policy := DefaultHealthPolicy()
	require.NoError(t, policy.Validate())

	bad := DefaultHealthPolicy()
	bad.SuccessDelta = 0
	assert.Error(t, bad.Validate())

	bad = DefaultHealthPolicy()
	bad.ScoreCeiling = bad.ScoreFloor
	assert.Error(t, bad.Validate())

	bad = DefaultHealthPolicy()
	bad.RateLimitQuarantine = 0
	assert.Error(t, bad.Validate())
}

// ---------------------------------------------------------------------------
// ApplyOutcome Tests
// ---------------------------------------------------------------------------

func TestApplyOutcome_SuccessCappedAtCeiling(t *testing.T) {
	policy := DefaultHealthPolicy()
	a := newHealthyAccount(policy.ScoreCeiling)

	status, err := a.ApplyOutcome(job.OutcomeSuccess, policy, time.Now())

	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, status)
	assert.Equal(t, policy.ScoreCeiling, a.Score)
}

func TestApplyOutcome_ConsecutiveSoftFailuresForceWarning(t *testing.T) {
	policy := DefaultHealthPolicy()
	a := newHealthyAccount(80)
	now := time.Now()

	for i := 0; i < policy.SoftFailureLimit-1; i++ {
		status, err := a.ApplyOutcome(job.OutcomeSoftFailure, policy, now)
		require.NoError(t, err)
		assert.Equal(t, StatusHealthy, status)
	}

	status, err := a.ApplyOutcome(job.OutcomeSoftFailure, policy, now)
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, status)
	assert.Equal(t, 80-policy.SoftFailureLimit*policy.SoftFailureDelta, a.Score)
}

func TestApplyOutcome_SuccessResetsSoftFailureStreak(t *testing.T) {
	policy := DefaultHealthPolicy()
	a := newHealthyAccount(80)
	now := time.Now()

	_, err := a.ApplyOutcome(job.OutcomeSoftFailure, policy, now)
	require.NoError(t, err)
	_, err = a.ApplyOutcome(job.OutcomeSoftFailure, policy, now)
	require.NoError(t, err)
	_, err = a.ApplyOutcome(job.OutcomeSuccess, policy, now)
	require.NoError(t, err)
	_, err = a.ApplyOutcome(job.OutcomeSoftFailure, policy, now)
	require.NoError(t, err)

	assert.Equal(t, StatusHealthy, a.Status)
	assert.Equal(t, 1, a.ConsecutiveSoftFails)
}

func TestApplyOutcome_RateLimitQuarantinesOneHour(t *testing.T) {
	policy := DefaultHealthPolicy()
	a := newHealthyAccount(80)
	now := time.Now()

	status, err := a.ApplyOutcome(job.OutcomeRateLimit, policy, now)

	require.NoError(t, err)
	assert.Equal(t, StatusRateLimited, status)
	assert.Equal(t, 80-policy.RateLimitDelta, a.Score)
	require.NotNil(t, a.QuarantinedUntil)
	assert.Equal(t, now.Add(policy.RateLimitQuarantine), *a.QuarantinedUntil)
	assert.Equal(t, StatusHealthy, a.PreQuarantineStatus)
}

func TestApplyOutcome_AbuseQuarantinesRegardlessOfScore(t *testing.T) {
	policy := DefaultHealthPolicy()
	a := newHealthyAccount(policy.ScoreCeiling)
	now := time.Now()

	status, err := a.ApplyOutcome(job.OutcomeAbuse, policy, now)

	require.NoError(t, err)
	assert.Equal(t, StatusQuarantined, status)
	require.NotNil(t, a.QuarantinedUntil)
	assert.Equal(t, now.Add(policy.AbuseQuarantine), *a.QuarantinedUntil)
}

func TestApplyOutcome_BanIsTerminal(t *testing.T) {
	policy := DefaultHealthPolicy()
	a := newHealthyAccount(80)
	now := time.Now()

	status, err := a.ApplyOutcome(job.OutcomeBan, policy, now)
	require.NoError(t, err)
	assert.Equal(t, StatusBanned, status)
	assert.Nil(t, a.QuarantinedUntil)

	// Further outcomes never leave BANNED.
	status, err = a.ApplyOutcome(job.OutcomeSuccess, policy, now)
	require.NoError(t, err)
	assert.Equal(t, StatusBanned, status)
}

func TestApplyOutcome_PermanentJobFailureRejected(t *testing.T) {
	policy := DefaultHealthPolicy()
	a := newHealthyAccount(80)

	_, err := a.ApplyOutcome(job.OutcomePermanentFailure, policy, time.Now())

	assert.ErrorIs(t, err, ErrInvalidOutcome)
	assert.Equal(t, 80, a.Score)
	assert.Equal(t, StatusHealthy, a.Status)
}

func TestApplyOutcome_UpgradeRequiresCooldown(t *testing.T) {
	policy := DefaultHealthPolicy()
	policy.UpgradeThreshold = 10
	a := newHealthyAccount(50)
	now := time.Now()

	// Downgrade to WARNING via soft failures.
	for i := 0; i < policy.SoftFailureLimit; i++ {
		_, err := a.ApplyOutcome(job.OutcomeSoftFailure, policy, now)
		require.NoError(t, err)
	}
	require.Equal(t, StatusWarning, a.Status)

	// Success inside the cooldown window must not upgrade.
	status, err := a.ApplyOutcome(job.OutcomeSuccess, policy, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, status)

	// Success after the cooldown upgrades one level.
	status, err = a.ApplyOutcome(job.OutcomeSuccess, policy, now.Add(policy.UpgradeCooldown+time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, status)
}

// ---------------------------------------------------------------------------
// Release Tests
// ---------------------------------------------------------------------------

func TestRelease_BeforeTimerFails(t *testing.T) {
	policy := DefaultHealthPolicy()
	a := newHealthyAccount(80)
	now := time.Now()

	_, err := a.ApplyOutcome(job.OutcomeRateLimit, policy, now)
	require.NoError(t, err)

	err = a.Release(now.Add(policy.RateLimitQuarantine - time.Minute))
	assert.ErrorIs(t, err, ErrQuarantineActive)
	assert.Equal(t, StatusRateLimited, a.Status)
}

func TestRelease_CapsAtWarning(t *testing.T) {
	policy := DefaultHealthPolicy()
	a := newHealthyAccount(80)
	now := time.Now()

	_, err := a.ApplyOutcome(job.OutcomeRateLimit, policy, now)
	require.NoError(t, err)
	require.Equal(t, StatusHealthy, a.PreQuarantineStatus)

	err = a.Release(now.Add(policy.RateLimitQuarantine))
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, a.Status)
	assert.Nil(t, a.QuarantinedUntil)
}

func TestRelease_NotQuarantined(t *testing.T) {
	a := newHealthyAccount(80)
	assert.ErrorIs(t, a.Release(time.Now()), ErrNotQuarantined)
}

// ---------------------------------------------------------------------------
// ForceQuarantine Tests
// ---------------------------------------------------------------------------

func TestForceQuarantine(t *testing.T) {
	a := newHealthyAccount(80)
	now := time.Now()

	err := a.ForceQuarantine(2*time.Hour, now)

	require.NoError(t, err)
	assert.Equal(t, StatusQuarantined, a.Status)
	require.NotNil(t, a.QuarantinedUntil)
	assert.Equal(t, now.Add(2*time.Hour), *a.QuarantinedUntil)
}

func TestForceQuarantine_BannedRejected(t *testing.T) {
	policy := DefaultHealthPolicy()
	a := newHealthyAccount(80)
	_, err := a.ApplyOutcome(job.OutcomeBan, policy, time.Now())
	require.NoError(t, err)

	assert.ErrorIs(t, a.ForceQuarantine(time.Hour, time.Now()), ErrAccountBanned)
}
