package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relister/backend/internal/application/core"
	"github.com/relister/backend/internal/application/health"
	"github.com/relister/backend/internal/domain/account"
	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/domain/listing"
	"github.com/relister/backend/internal/interfaces/http/middleware"
	"github.com/relister/backend/internal/interfaces/http/router"
)

func init() {
	gin.SetMode(gin.TestMode)
}

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

func (r *memJobRepo) FindByDedupKey(_ context.Context, _ string) (*job.ActionJob, error) {
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
	cancelErr error
}

func (f *fakeQueue) Enqueue(_ context.Context, j *job.ActionJob) (uuid.UUID, error) {
	f.enqueued = append(f.enqueued, j)
	return j.ID, nil
}

func (f *fakeQueue) Cancel(_ context.Context, jobID uuid.UUID) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

type fakeReconciler struct {
	syncRequests []uuid.UUID
	syncErr      error
	unresolved   []listing.Conflict
	resolved     map[uuid.UUID]listing.Resolution
	resolveErr   error
}

func (f *fakeReconciler) Reconcile(_ context.Context, listingID uuid.UUID) error {
	if f.syncErr != nil {
		return f.syncErr
	}
	f.syncRequests = append(f.syncRequests, listingID)
	return nil
}

func (f *fakeReconciler) ListUnresolved(_ context.Context) ([]listing.Conflict, error) {
	return f.unresolved, nil
}

func (f *fakeReconciler) Resolve(_ context.Context, conflictID uuid.UUID, resolution listing.Resolution) error {
	if f.resolveErr != nil {
		return f.resolveErr
	}
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
	engine     *gin.Engine
	service    *core.Service
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
	h.service = core.NewService(h.queue, h.jobs, h.listings, h.registry, h.reconciler, 3, zap.NewNop())

	h.engine = gin.New()
	h.engine.Use(middleware.RequestID())
	router.NewRouter(h.engine).
		Register(NewSystemHandler()).
		Register(NewJobHandler(h.service)).
		Register(NewAccountHandler(h.service)).
		Register(NewListingHandler(h.service)).
		Register(NewConflictHandler(h.service)).
		Setup()
	return h
}

// do runs one request against the harness engine and returns the recorder
func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

// envelope is the decoded wire response
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	env := decode(t, rec)
	require.True(t, env.Success, "expected success envelope, got %s", rec.Body.String())
	var data T
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data
}

func storedListing(t *testing.T, h *harness) *listing.Listing {
	t.Helper()
	l := listing.NewListing(listing.Content{
		Title:       "couch",
		Description: "as described",
		Price:       decimal.NewFromInt(40),
	})
	require.NoError(t, h.listings.Save(context.Background(), l))
	return l
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
}
