package governor

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

// fakeClock advances only when told to
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestGovernor(t *testing.T, cfg Config) (*Governor, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Now()}
	g, err := New(cfg, WithClock(clock.now))
	require.NoError(t, err)
	return g, clock
}

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.AccountCapacity = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.GlobalRefill = 0
	assert.Error(t, bad.Validate())
}

// ---------------------------------------------------------------------------
// TryAcquire Tests
// ---------------------------------------------------------------------------

func TestTryAcquire_AccountBudgetExhausted(t *testing.T) {
	cfg := Config{AccountCapacity: 2, AccountRefill: time.Minute, GlobalCapacity: 100, GlobalRefill: time.Second}
	g, _ := newTestGovernor(t, cfg)
	accountID := uuid.New()

	assert.True(t, g.TryAcquire(accountID).Granted)
	assert.True(t, g.TryAcquire(accountID).Granted)

	decision := g.TryAcquire(accountID)
	assert.False(t, decision.Granted)
	assert.Equal(t, DenialAccountBudget, decision.Reason)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, time.Minute)
}

func TestTryAcquire_AccountDenialLeavesOtherAccountsUsable(t *testing.T) {
	cfg := Config{AccountCapacity: 1, AccountRefill: time.Minute, GlobalCapacity: 100, GlobalRefill: time.Second}
	g, _ := newTestGovernor(t, cfg)
	a := uuid.New()
	b := uuid.New()

	require.True(t, g.TryAcquire(a).Granted)
	require.False(t, g.TryAcquire(a).Granted)

	// Another account still has its own budget.
	assert.True(t, g.TryAcquire(b).Granted)
}

func TestTryAcquire_GlobalBudgetExhausted(t *testing.T) {
	// Five accounts individually under budget cannot proceed once the
	// global bucket is drained.
	cfg := Config{AccountCapacity: 10, AccountRefill: time.Second, GlobalCapacity: 3, GlobalRefill: time.Hour}
	g, _ := newTestGovernor(t, cfg)

	accounts := make([]uuid.UUID, 5)
	for i := range accounts {
		accounts[i] = uuid.New()
	}

	granted := 0
	for _, id := range accounts {
		if g.TryAcquire(id).Granted {
			granted++
		}
	}
	assert.Equal(t, 3, granted)

	for _, id := range accounts {
		decision := g.TryAcquire(id)
		assert.False(t, decision.Granted)
		assert.Equal(t, DenialGlobalBudget, decision.Reason)
	}
}

func TestTryAcquire_RefillRestoresBudget(t *testing.T) {
	cfg := Config{AccountCapacity: 1, AccountRefill: time.Minute, GlobalCapacity: 10, GlobalRefill: time.Second}
	g, clock := newTestGovernor(t, cfg)
	accountID := uuid.New()

	require.True(t, g.TryAcquire(accountID).Granted)
	require.False(t, g.TryAcquire(accountID).Granted)

	clock.advance(time.Minute)
	assert.True(t, g.TryAcquire(accountID).Granted)
}

func TestTryAcquire_RetryAfterShrinksAsTokensMint(t *testing.T) {
	cfg := Config{AccountCapacity: 1, AccountRefill: time.Minute, GlobalCapacity: 10, GlobalRefill: time.Second}
	g, clock := newTestGovernor(t, cfg)
	accountID := uuid.New()

	require.True(t, g.TryAcquire(accountID).Granted)

	first := g.TryAcquire(accountID)
	require.False(t, first.Granted)
	assert.InDelta(t, float64(time.Minute), float64(first.RetryAfter), float64(time.Second))

	// Three quarters of the refill interval mints 0.75 of a token.
	clock.advance(45 * time.Second)
	second := g.TryAcquire(accountID)
	require.False(t, second.Granted)
	assert.InDelta(t, float64(15*time.Second), float64(second.RetryAfter), float64(time.Second))
}

func TestTryAcquire_DeniedDoesNotConsumeGlobal(t *testing.T) {
	cfg := Config{AccountCapacity: 1, AccountRefill: time.Hour, GlobalCapacity: 2, GlobalRefill: time.Hour}
	g, _ := newTestGovernor(t, cfg)
	a := uuid.New()
	b := uuid.New()

	require.True(t, g.TryAcquire(a).Granted)
	// Account-budget denial must not burn a global token.
	require.False(t, g.TryAcquire(a).Granted)
	require.False(t, g.TryAcquire(a).Granted)

	assert.True(t, g.TryAcquire(b).Granted)
}

// ---------------------------------------------------------------------------
// Release Tests
// ---------------------------------------------------------------------------

func TestRelease_ReturnsTokens(t *testing.T) {
	cfg := Config{AccountCapacity: 1, AccountRefill: time.Hour, GlobalCapacity: 1, GlobalRefill: time.Hour}
	g, _ := newTestGovernor(t, cfg)
	accountID := uuid.New()

	require.True(t, g.TryAcquire(accountID).Granted)
	require.False(t, g.TryAcquire(accountID).Granted)

	g.Release(accountID)
	assert.True(t, g.TryAcquire(accountID).Granted)
}

func TestRelease_NeverExceedsCapacity(t *testing.T) {
	cfg := Config{AccountCapacity: 2, AccountRefill: time.Hour, GlobalCapacity: 10, GlobalRefill: time.Hour}
	g, _ := newTestGovernor(t, cfg)
	accountID := uuid.New()

	g.Release(accountID)
	g.Release(accountID)

	assert.Equal(t, 2, g.Remaining(accountID))
}

func TestForget_DropsBucketState(t *testing.T) {
	cfg := Config{AccountCapacity: 1, AccountRefill: time.Hour, GlobalCapacity: 10, GlobalRefill: time.Second}
	g, _ := newTestGovernor(t, cfg)
	accountID := uuid.New()

	require.True(t, g.TryAcquire(accountID).Granted)
	g.Forget(accountID)

	// A fresh bucket is created on next use.
	assert.True(t, g.TryAcquire(accountID).Granted)
}
