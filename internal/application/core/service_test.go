package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relister/backend/internal/application/health"
	"github.com/relister/backend/internal/domain/account"
	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/domain/listing"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type memAccountRepo struct {
	accounts map[uuid.UUID]account.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{accounts: make(map[uuid.UUID]account.Account)}
}

func (r *memAccountRepo) FindByID(_ context.Context, id uuid.UUID) (*account.Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	return &a, nil
}

func (r *memAccountRepo) FindAll(_ context.Context) ([]account.Account, error) {
	var result []account.Account
	for _, a := range r.accounts {
		result = append(result, a)
	}
	return result, nil
}

func (r *memAccountRepo) FindByStatus(_ context.Context, statuses ...account.Status) ([]account.Account, error) {
	var result []account.Account
	for _, a := range r.accounts {
		for _, s := range statuses {
			if a.Status == s {
				result = append(result, a)
				break
			}
		}
	}
	return result, nil
}

func (r *memAccountRepo) Save(_ context.Context, a *account.Account) error {
	r.accounts[a.ID] = *a
	return nil
}

type memJobRepo struct {
	jobs map[uuid.UUID]job.ActionJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[uuid.UUID]job.ActionJob)}
}

func (r *memJobRepo) FindByID(_ context.Context, id uuid.UUID) (*job.ActionJob, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return &j, nil
}

func (r *memJobRepo) FindByDedupKey(_ context.Context, key string) (*job.ActionJob, error) {
	return nil, job.ErrJobNotFound
}

func (r *memJobRepo) FindQueued(_ context.Context, _ int) ([]job.ActionJob, error) {
	return nil, nil
}

func (r *memJobRepo) FindByListing(_ context.Context, _ uuid.UUID) ([]job.ActionJob, error) {
	return nil, nil
}

func (r *memJobRepo) FindRunning(_ context.Context) ([]job.ActionJob, error) {
	return nil, nil
}

func (r *memJobRepo) Save(_ context.Context, j *job.ActionJob) error {
	r.jobs[j.ID] = *j
	return nil
}

func (r *memJobRepo) NextSeq(_ context.Context) (int64, error) {
	return int64(len(r.jobs) + 1), nil
}

type memListingRepo struct {
	listings map[uuid.UUID]listing.Listing
}

func newMemListingRepo() *memListingRepo {
	return &memListingRepo{listings: make(map[uuid.UUID]listing.Listing)}
}

func (r *memListingRepo) FindByID(_ context.Context, id uuid.UUID) (*listing.Listing, error) {
	l, ok := r.listings[id]
	if !ok {
		return nil, listing.ErrListingNotFound
	}
	return &l, nil
}

func (r *memListingRepo) FindByRemoteID(_ context.Context, _ string) (*listing.Listing, error) {
	return nil, listing.ErrListingNotFound
}

func (r *memListingRepo) FindAll(_ context.Context) ([]listing.Listing, error) {
	return nil, nil
}

func (r *memListingRepo) FindPublished(_ context.Context) ([]listing.Listing, error) {
	return nil, nil
}

func (r *memListingRepo) Save(_ context.Context, l *listing.Listing) error {
	r.listings[l.ID] = *l
	return nil
}

type fakeQueue struct {
	enqueued  []*job.ActionJob
	cancelled []uuid.UUID
}

func (f *fakeQueue) Enqueue(_ context.Context, j *job.ActionJob) (uuid.UUID, error) {
	f.enqueued = append(f.enqueued, j)
	return j.ID, nil
}

func (f *fakeQueue) Cancel(_ context.Context, jobID uuid.UUID) error {
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

type fakeReconciler struct {
	syncRequests []uuid.UUID
	unresolved   []listing.Conflict
	resolved     map[uuid.UUID]listing.Resolution
}

func (f *fakeReconciler) Reconcile(_ context.Context, listingID uuid.UUID) error {
	f.syncRequests = append(f.syncRequests, listingID)
	return nil
}

func (f *fakeReconciler) ListUnresolved(_ context.Context) ([]listing.Conflict, error) {
	return f.unresolved, nil
}

func (f *fakeReconciler) Resolve(_ context.Context, conflictID uuid.UUID, resolution listing.Resolution) error {
	if f.resolved == nil {
		f.resolved = make(map[uuid.UUID]listing.Resolution)
	}
	f.resolved[conflictID] = resolution
	return nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	service    *Service
	queue      *fakeQueue
	jobs       *memJobRepo
	listings   *memListingRepo
	registry   *health.Registry
	reconciler *fakeReconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	registry, err := health.NewRegistry(newMemAccountRepo(), account.DefaultHealthPolicy(), zap.NewNop())
	require.NoError(t, err)

	h := &harness{
		queue:      &fakeQueue{},
		jobs:       newMemJobRepo(),
		listings:   newMemListingRepo(),
		registry:   registry,
		reconciler: &fakeReconciler{},
	}
	h.service = NewService(h.queue, h.jobs, h.listings, h.registry, h.reconciler, 3, zap.NewNop())
	return h
}

func testContent(title string) listing.Content {
	return listing.Content{
		Title:       title,
		Description: "as described",
		Price:       decimal.NewFromInt(40),
	}
}

func storedListing(t *testing.T, h *harness) *listing.Listing {
	t.Helper()
	l := listing.NewListing(testContent("couch"))
	require.NoError(t, h.listings.Save(context.Background(), l))
	return l
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

func TestSubmitJobEnqueuesWithDefaults(t *testing.T) {
	h := newHarness(t)
	l := storedListing(t, h)

	id, err := h.service.SubmitJob(context.Background(), SubmitJobRequest{
		Kind:      job.KindPublish,
		ListingID: l.ID,
		DedupKey:  "publish:" + l.ID.String(),
		Payload:   map[string]string{"note": "first"},
	})
	require.NoError(t, err)

	require.Len(t, h.queue.enqueued, 1)
	j := h.queue.enqueued[0]
	assert.Equal(t, id, j.ID)
	assert.Equal(t, 3, j.MaxRetries)
	assert.Equal(t, "publish:"+l.ID.String(), j.DedupKey)
	assert.Equal(t, "first", j.Payload["note"])
	assert.Nil(t, j.AccountPin)
}

func TestSubmitJobRejectsUnknownKind(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.SubmitJob(context.Background(), SubmitJobRequest{Kind: "TELEPORT"})
	assert.ErrorIs(t, err, job.ErrInvalidKind)
	assert.Empty(t, h.queue.enqueued)
}

func TestSubmitJobRejectsMissingListing(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.SubmitJob(context.Background(), SubmitJobRequest{
		Kind:      job.KindBump,
		ListingID: uuid.New(),
	})
	assert.ErrorIs(t, err, listing.ErrListingNotFound)
}

func TestSubmitJobPinsKnownAccount(t *testing.T) {
	h := newHarness(t)
	l := storedListing(t, h)
	acct, err := h.registry.AddAccount(context.Background(), "main", "vault/main", 80)
	require.NoError(t, err)

	_, err = h.service.SubmitJob(context.Background(), SubmitJobRequest{
		Kind:        job.KindBump,
		ListingID:   l.ID,
		AccountHint: &acct.ID,
	})
	require.NoError(t, err)

	require.Len(t, h.queue.enqueued, 1)
	require.NotNil(t, h.queue.enqueued[0].AccountPin)
	assert.Equal(t, acct.ID, *h.queue.enqueued[0].AccountPin)
}

func TestSubmitJobRejectsUnknownAccountHint(t *testing.T) {
	h := newHarness(t)
	l := storedListing(t, h)
	unknown := uuid.New()

	_, err := h.service.SubmitJob(context.Background(), SubmitJobRequest{
		Kind:        job.KindBump,
		ListingID:   l.ID,
		AccountHint: &unknown,
	})
	assert.ErrorIs(t, err, account.ErrAccountNotFound)
}

func TestGetJobStatusMapsOutcome(t *testing.T) {
	h := newHarness(t)
	j, err := job.NewActionJob(uuid.New(), job.KindPublish, 3)
	require.NoError(t, err)
	require.NoError(t, j.Start(uuid.New()))
	require.NoError(t, j.CompleteSuccess())
	require.NoError(t, h.jobs.Save(context.Background(), j))

	status, err := h.service.GetJobStatus(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, status.Status)
	assert.Equal(t, job.OutcomeSuccess.String(), status.Outcome)
	assert.NotNil(t, status.CompletedAt)
}

func TestCancelJobDelegatesToQueue(t *testing.T) {
	h := newHarness(t)
	jobID := uuid.New()

	require.NoError(t, h.service.CancelJob(context.Background(), jobID))
	assert.Equal(t, []uuid.UUID{jobID}, h.queue.cancelled)
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func TestAddAccountActivatesAndReportsHealth(t *testing.T) {
	h := newHarness(t)

	resp, err := h.service.AddAccount(context.Background(), AddAccountRequest{
		Alias:        "main",
		SessionRef:   "vault/main",
		InitialScore: 70,
	})
	require.NoError(t, err)
	assert.Equal(t, account.StatusHealthy, resp.Status)
	assert.Equal(t, 70, resp.Score)

	got, err := h.service.GetAccountHealth(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, got.ID)
}

func TestForceQuarantineBlocksAccount(t *testing.T) {
	h := newHarness(t)
	resp, err := h.service.AddAccount(context.Background(), AddAccountRequest{
		Alias: "main", SessionRef: "vault/main", InitialScore: 70,
	})
	require.NoError(t, err)

	require.NoError(t, h.service.ForceQuarantine(context.Background(), resp.ID, 2*time.Hour))

	got, err := h.service.GetAccountHealth(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, account.StatusQuarantined, got.Status)
}

// ---------------------------------------------------------------------------
// Listings & Sync
// ---------------------------------------------------------------------------

func TestCreateAndEditListing(t *testing.T) {
	h := newHarness(t)

	created, err := h.service.CreateListing(context.Background(), testContent("couch"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ContentVersion)
	assert.False(t, created.PendingLocalEdit)

	edited, err := h.service.EditListing(context.Background(), created.ID, testContent("couch, reduced"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), edited.ContentVersion)
	assert.True(t, edited.PendingLocalEdit)
	assert.Equal(t, "couch, reduced", edited.Title)
}

func TestRequestSyncDelegatesToReconciler(t *testing.T) {
	h := newHarness(t)
	l := storedListing(t, h)

	require.NoError(t, h.service.RequestSync(context.Background(), l.ID))
	assert.Equal(t, []uuid.UUID{l.ID}, h.reconciler.syncRequests)
}

func TestListUnresolvedConflictsMapsToResponses(t *testing.T) {
	h := newHarness(t)
	c := listing.NewConflict(uuid.New(), 2, 5, time.Now())
	h.reconciler.unresolved = []listing.Conflict{*c}

	conflicts, err := h.service.ListUnresolvedConflicts(context.Background())
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, c.ListingID, conflicts[0].ListingID)
	assert.Equal(t, int64(5), conflicts[0].RemoteVersion)
}

func TestResolveConflictDelegates(t *testing.T) {
	h := newHarness(t)
	conflictID := uuid.New()

	require.NoError(t, h.service.ResolveConflict(context.Background(), conflictID, listing.ResolutionLocalWins))
	assert.Equal(t, listing.ResolutionLocalWins, h.reconciler.resolved[conflictID])
}
