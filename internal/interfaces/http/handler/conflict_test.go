package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relister/backend/internal/application/core"
	"github.com/relister/backend/internal/domain/listing"
)

func TestListUnresolvedConflicts(t *testing.T) {
	h := newHarness(t)
	c := listing.NewConflict(uuid.New(), 2, 5, time.Now())
	h.reconciler.unresolved = []listing.Conflict{*c}

	rec := h.do(t, http.MethodGet, "/api/v1/conflicts", nil)
	requireStatus(t, rec, http.StatusOK)

	conflicts := decodeData[[]core.ConflictResponse](t, rec)
	require.Len(t, conflicts, 1)
	assert.Equal(t, c.ListingID, conflicts[0].ListingID)
	assert.Equal(t, int64(5), conflicts[0].RemoteVersion)
}

func TestListUnresolvedConflictsEmpty(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/conflicts", nil)
	requireStatus(t, rec, http.StatusOK)
}

func TestResolveConflictLocalWins(t *testing.T) {
	h := newHarness(t)
	conflictID := uuid.New()

	rec := h.do(t, http.MethodPost, "/api/v1/conflicts/"+conflictID.String()+"/resolve",
		ResolveConflictRequest{Resolution: "LOCAL_WINS"})
	requireStatus(t, rec, http.StatusNoContent)
	assert.Equal(t, listing.ResolutionLocalWins, h.reconciler.resolved[conflictID])
}

func TestResolveConflictRejectsUndecidedResolution(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/conflicts/"+uuid.NewString()+"/resolve",
		ResolveConflictRequest{Resolution: "MERGED"})
	requireStatus(t, rec, http.StatusBadRequest)
}

func TestResolveConflictUnknownConflict(t *testing.T) {
	h := newHarness(t)
	h.reconciler.resolveErr = listing.ErrConflictNotFound

	rec := h.do(t, http.MethodPost, "/api/v1/conflicts/"+uuid.NewString()+"/resolve",
		ResolveConflictRequest{Resolution: "REMOTE_WINS"})
	requireStatus(t, rec, http.StatusNotFound)
}
