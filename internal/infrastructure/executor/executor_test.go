package executor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relister/backend/internal/domain/account"
	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/domain/listing"
	"github.com/relister/backend/internal/infrastructure/browser"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

type fakePerformer struct {
	result *browser.RawResult
	err    error
	specs  []browser.ActionSpec
}

func (f *fakePerformer) Perform(_ context.Context, _ browser.Session, spec browser.ActionSpec) (*browser.RawResult, error) {
	f.specs = append(f.specs, spec)
	return f.result, f.err
}

func (f *fakePerformer) Close() error { return nil }

type fakeSessions struct{}

func (fakeSessions) Get(string) ([]byte, error) {
	return []byte(`[{"name":"sid","value":"x","domain":".m.test","path":"/"}]`), nil
}

type fakeHealth struct {
	mu       sync.Mutex
	outcomes []job.Outcome
	actions  int
}

func (f *fakeHealth) ReportOutcome(_ context.Context, _ uuid.UUID, outcome job.Outcome) (account.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
	return account.StatusHealthy, nil
}

func (f *fakeHealth) RecordAction(_ context.Context, _ uuid.UUID, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions++
	return nil
}

type fakeListings struct {
	mu       sync.Mutex
	listings map[uuid.UUID]*listing.Listing
}

func newFakeListings() *fakeListings {
	return &fakeListings{listings: make(map[uuid.UUID]*listing.Listing)}
}

func (f *fakeListings) FindByID(_ context.Context, id uuid.UUID) (*listing.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[id]
	if !ok {
		return nil, listing.ErrListingNotFound
	}
	copied := *l
	return &copied, nil
}

func (f *fakeListings) FindByRemoteID(context.Context, string) (*listing.Listing, error) {
	return nil, listing.ErrListingNotFound
}

func (f *fakeListings) FindAll(context.Context) ([]listing.Listing, error) { return nil, nil }

func (f *fakeListings) FindPublished(context.Context) ([]listing.Listing, error) { return nil, nil }

func (f *fakeListings) Save(_ context.Context, l *listing.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *l
	f.listings[l.ID] = &copied
	return nil
}

type harness struct {
	executor  *Executor
	performer *fakePerformer
	health    *fakeHealth
	listings  *fakeListings
}

func newHarness(t *testing.T, raw *browser.RawResult, performErr error) *harness {
	t.Helper()
	performer := &fakePerformer{result: raw, err: performErr}
	health := &fakeHealth{}
	listings := newFakeListings()

	e, err := New(DefaultConfig(), performer, fakeSessions{}, health, listings, zap.NewNop(),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
		WithRand(rand.New(rand.NewSource(1))),
	)
	require.NoError(t, err)
	return &harness{executor: e, performer: performer, health: health, listings: listings}
}

func healthyAccount() account.Account {
	a := account.NewAccount("main", "vault-main", 80)
	a.Activate()
	return *a
}

func runningJob(t *testing.T, listingID uuid.UUID, kind job.Kind) *job.ActionJob {
	t.Helper()
	j, err := job.NewActionJob(listingID, kind, 3)
	require.NoError(t, err)
	return j
}

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.MaxDelay = bad.MinDelay - time.Second
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Jitter = 1.5
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Timeout = 0
	assert.Error(t, bad.Validate())
}

// ---------------------------------------------------------------------------
// Execute Tests
// ---------------------------------------------------------------------------

func TestExecute_PublishSuccess_WritesBackRemoteID(t *testing.T) {
	h := newHarness(t, &browser.RawResult{Completed: true, RemoteID: "rm-77", RemoteVersion: 1}, nil)
	ctx := context.Background()

	l := listing.NewListing(listing.Content{Title: "lamp", Price: decimal.NewFromInt(20)})
	require.NoError(t, h.listings.Save(ctx, l))

	result, err := h.executor.Execute(ctx, runningJob(t, l.ID, job.KindPublish), healthyAccount())
	require.NoError(t, err)
	assert.Equal(t, job.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "rm-77", result.RemoteID)

	stored, err := h.listings.FindByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "rm-77", stored.RemoteID)
	assert.Equal(t, int64(1), stored.LastKnownRemoteVersion)
	assert.False(t, stored.PendingLocalEdit)

	// Success is reported to the health registry.
	assert.Equal(t, []job.Outcome{job.OutcomeSuccess}, h.health.outcomes)
	assert.Equal(t, 1, h.health.actions)
}

func TestExecute_MarkerClassification(t *testing.T) {
	tests := []struct {
		name    string
		markers browser.Markers
		want    job.Outcome
	}{
		{"captcha", browser.Markers{Captcha: true}, job.OutcomeAbuse},
		{"block page", browser.Markers{BlockPage: true}, job.OutcomeAbuse},
		{"rate limit banner", browser.Markers{RateLimitBanner: true}, job.OutcomeRateLimit},
		{"account disabled", browser.Markers{AccountDisabled: true}, job.OutcomeBan},
		{"login required", browser.Markers{LoginRequired: true}, job.OutcomeSoftFailure},
		{"target missing", browser.Markers{NotFound: true}, job.OutcomePermanentFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &browser.RawResult{Markers: tt.markers}, nil)
			ctx := context.Background()

			l := listing.NewListing(listing.Content{Title: "lamp", Price: decimal.NewFromInt(20)})
			require.NoError(t, l.AssignRemoteID("rm-1"))
			require.NoError(t, h.listings.Save(ctx, l))

			result, err := h.executor.Execute(ctx, runningJob(t, l.ID, job.KindBump), healthyAccount())
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Outcome)
			assert.NotEmpty(t, result.Reason)

			if tt.want == job.OutcomePermanentFailure {
				// Job-scoped failures say nothing about the account.
				assert.Empty(t, h.health.outcomes)
			} else {
				assert.Equal(t, []job.Outcome{tt.want}, h.health.outcomes)
			}
		})
	}
}

func TestExecute_TimeoutIsSoftFailure(t *testing.T) {
	h := newHarness(t, nil, context.DeadlineExceeded)
	ctx := context.Background()

	l := listing.NewListing(listing.Content{Title: "lamp", Price: decimal.NewFromInt(20)})
	require.NoError(t, l.AssignRemoteID("rm-1"))
	require.NoError(t, h.listings.Save(ctx, l))

	result, err := h.executor.Execute(ctx, runningJob(t, l.ID, job.KindBump), healthyAccount())
	require.NoError(t, err)
	assert.Equal(t, job.OutcomeSoftFailure, result.Outcome)
	assert.Equal(t, "action timed out", result.Reason)
}

func TestExecute_IncompleteWithoutMarkersIsSoftFailure(t *testing.T) {
	h := newHarness(t, &browser.RawResult{Completed: false}, nil)
	ctx := context.Background()

	l := listing.NewListing(listing.Content{Title: "lamp", Price: decimal.NewFromInt(20)})
	require.NoError(t, l.AssignRemoteID("rm-1"))
	require.NoError(t, h.listings.Save(ctx, l))

	result, err := h.executor.Execute(ctx, runningJob(t, l.ID, job.KindBump), healthyAccount())
	require.NoError(t, err)
	assert.Equal(t, job.OutcomeSoftFailure, result.Outcome)
}

func TestExecute_MissingListingIsPermanentFailure(t *testing.T) {
	h := newHarness(t, &browser.RawResult{Completed: true}, nil)

	result, err := h.executor.Execute(context.Background(),
		runningJob(t, uuid.New(), job.KindBump), healthyAccount())
	require.NoError(t, err)
	assert.Equal(t, job.OutcomePermanentFailure, result.Outcome)

	// The browser was never involved.
	assert.Empty(t, h.performer.specs)
}

func TestExecute_UnpublishedListingCannotBeBumped(t *testing.T) {
	h := newHarness(t, &browser.RawResult{Completed: true}, nil)
	ctx := context.Background()

	l := listing.NewListing(listing.Content{Title: "draft", Price: decimal.NewFromInt(5)})
	require.NoError(t, h.listings.Save(ctx, l))

	result, err := h.executor.Execute(ctx, runningJob(t, l.ID, job.KindBump), healthyAccount())
	require.NoError(t, err)
	assert.Equal(t, job.OutcomePermanentFailure, result.Outcome)
}

func TestExecute_SyncPullReturnsSnapshot(t *testing.T) {
	snap := &listing.RemoteSnapshot{
		RemoteID: "rm-1",
		Version:  4,
		Content:  listing.Content{Title: "remote title", Price: decimal.NewFromInt(25)},
	}
	h := newHarness(t, &browser.RawResult{Completed: true, Snapshot: snap}, nil)
	ctx := context.Background()

	l := listing.NewListing(listing.Content{Title: "local title", Price: decimal.NewFromInt(20)})
	require.NoError(t, l.AssignRemoteID("rm-1"))
	require.NoError(t, h.listings.Save(ctx, l))

	result, err := h.executor.Execute(ctx, runningJob(t, l.ID, job.KindSyncPull), healthyAccount())
	require.NoError(t, err)
	assert.Equal(t, job.OutcomeSuccess, result.Outcome)
	require.NotNil(t, result.Snapshot)
	assert.Equal(t, int64(4), result.Snapshot.Version)

	// Pulls never touch the local record.
	stored, err := h.listings.FindByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "local title", stored.Content.Title)
}

func TestExecute_FollowNeedsNoListing(t *testing.T) {
	h := newHarness(t, &browser.RawResult{Completed: true}, nil)

	j := runningJob(t, uuid.Nil, job.KindFollow)
	j.Payload["target_user"] = "bob"

	result, err := h.executor.Execute(context.Background(), j, healthyAccount())
	require.NoError(t, err)
	assert.Equal(t, job.OutcomeSuccess, result.Outcome)
	require.Len(t, h.performer.specs, 1)
	assert.Equal(t, "bob", h.performer.specs[0].Payload["target_user"])
}

func TestExecute_BrowserErrorIsSoftFailure(t *testing.T) {
	h := newHarness(t, nil, errors.New("browser crashed"))

	j := runningJob(t, uuid.Nil, job.KindFollow)
	j.Payload["target_user"] = "bob"

	result, err := h.executor.Execute(context.Background(), j, healthyAccount())
	require.NoError(t, err)
	assert.Equal(t, job.OutcomeSoftFailure, result.Outcome)
}

func TestPacingDelay_WithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	e, err := New(cfg, &fakePerformer{}, fakeSessions{}, &fakeHealth{}, newFakeListings(), zap.NewNop(),
		WithRand(rand.New(rand.NewSource(42))),
	)
	require.NoError(t, err)

	// With 25% jitter the delay stays within the widened envelope.
	lo := time.Duration(float64(cfg.MinDelay) * (1 - cfg.Jitter))
	hi := time.Duration(float64(cfg.MaxDelay) * (1 + cfg.Jitter))
	for i := 0; i < 100; i++ {
		d := e.pacingDelay()
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}
