// Package governor enforces per-account and global pacing budgets for remote
// actions. It is the single place request pacing is enforced; the executor
// never bypasses it.
package governor

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DenialReason distinguishes which budget ran out. Account-level denials
// invite the scheduler to try a different account; a global denial means no
// account can proceed right now.
type DenialReason string

const (
	// DenialAccountBudget means this account's bucket is empty
	DenialAccountBudget DenialReason = "ACCOUNT_BUDGET_EXHAUSTED"
	// DenialGlobalBudget means the shared bucket is empty
	DenialGlobalBudget DenialReason = "GLOBAL_BUDGET_EXHAUSTED"
)

// Decision is the result of a TryAcquire call
type Decision struct {
	Granted    bool
	Reason     DenialReason
	RetryAfter time.Duration
}

// Config holds bucket sizing. Per-account buckets are deliberately small and
// slow; the global bucket bounds total outbound rate across the whole pool.
type Config struct {
	AccountCapacity int
	AccountRefill   time.Duration
	GlobalCapacity  int
	GlobalRefill    time.Duration
}

// DefaultConfig returns conservative defaults
func DefaultConfig() Config {
	return Config{
		AccountCapacity: 3,
		AccountRefill:   90 * time.Second,
		GlobalCapacity:  10,
		GlobalRefill:    10 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.AccountCapacity < 1 || c.GlobalCapacity < 1 {
		return errors.New("governor: bucket capacities must be at least 1")
	}
	if c.AccountRefill <= 0 || c.GlobalRefill <= 0 {
		return errors.New("governor: refill intervals must be positive")
	}
	return nil
}

// Governor is a two-level token bucket limiter
type Governor struct {
	mu       sync.Mutex
	cfg      Config
	global   *bucket
	accounts map[uuid.UUID]*bucket
	now      func() time.Time
}

// Option configures a Governor
type Option func(*Governor)

// WithClock injects a clock, used by tests
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// New creates a governor with full buckets
func New(cfg Config, opts ...Option) (*Governor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Governor{
		cfg:      cfg,
		accounts: make(map[uuid.UUID]*bucket),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.global = newBucket(cfg.GlobalCapacity, cfg.GlobalRefill, g.now())
	return g, nil
}

// TryAcquire takes one token from the account's bucket and one from the
// global bucket, or denies with the budget that ran out and the wait until
// its next token. It never blocks.
func (g *Governor) TryAcquire(accountID uuid.UUID) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	ab := g.accountBucket(accountID, now)
	ab.refill(now)
	g.global.refill(now)

	if !ab.available() {
		return Decision{Granted: false, Reason: DenialAccountBudget, RetryAfter: ab.nextToken()}
	}
	if !g.global.available() {
		return Decision{Granted: false, Reason: DenialGlobalBudget, RetryAfter: g.global.nextToken()}
	}

	ab.take()
	g.global.take()
	return Decision{Granted: true}
}

// Release returns one token to both buckets. Used when an acquired slot was
// not spent on a remote call, so bursts are accounted correctly.
func (g *Governor) Release(accountID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	ab := g.accountBucket(accountID, now)
	ab.refill(now)
	g.global.refill(now)
	ab.put()
	g.global.put()
}

// Remaining reports whole tokens left for an account, for ops inspection
func (g *Governor) Remaining(accountID uuid.UUID) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	ab := g.accountBucket(accountID, now)
	ab.refill(now)
	return int(ab.tokens)
}

// GlobalRemaining reports whole tokens left in the shared bucket
func (g *Governor) GlobalRemaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.global.refill(g.now())
	return int(g.global.tokens)
}

// Forget drops per-account bucket state, e.g. when an account is banned
func (g *Governor) Forget(accountID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.accounts, accountID)
}

func (g *Governor) accountBucket(accountID uuid.UUID, now time.Time) *bucket {
	b, ok := g.accounts[accountID]
	if !ok {
		b = newBucket(g.cfg.AccountCapacity, g.cfg.AccountRefill, now)
		g.accounts[accountID] = b
	}
	return b
}
