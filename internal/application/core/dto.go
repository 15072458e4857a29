package core

import (
	"time"

	"github.com/google/uuid"

	"github.com/relister/backend/internal/domain/account"
	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/domain/listing"
)

// ---------------------------------------------------------------------------
// Request DTOs
// ---------------------------------------------------------------------------

// SubmitJobRequest describes a job submission from the outer API layer
type SubmitJobRequest struct {
	Kind      job.Kind          `json:"kind"`
	ListingID uuid.UUID         `json:"listing_id,omitempty"`
	// AccountHint pins the job to one account; nil means any eligible
	AccountHint *uuid.UUID        `json:"account_hint,omitempty"`
	DedupKey    string            `json:"dedup_key,omitempty"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// AddAccountRequest registers a marketplace account with the pool
type AddAccountRequest struct {
	Alias        string `json:"alias"`
	SessionRef   string `json:"session_ref"`
	InitialScore int    `json:"initial_score"`
}

// ---------------------------------------------------------------------------
// Response DTOs
// ---------------------------------------------------------------------------

// JobStatusResponse is the caller-facing view of a job
type JobStatusResponse struct {
	ID          uuid.UUID  `json:"id"`
	ListingID   uuid.UUID  `json:"listing_id,omitempty"`
	Kind        job.Kind   `json:"kind"`
	Status      job.Status `json:"status"`
	Outcome     string     `json:"outcome,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	NotBefore   *time.Time `json:"not_before,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobStatusFromDomain converts an ActionJob to its response form
func JobStatusFromDomain(j *job.ActionJob) *JobStatusResponse {
	resp := &JobStatusResponse{
		ID:          j.ID,
		ListingID:   j.ListingID,
		Kind:        j.Kind,
		Status:      j.Status,
		LastError:   j.LastError,
		RetryCount:  j.RetryCount,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Outcome != nil {
		resp.Outcome = j.Outcome.String()
	}
	if !j.NotBefore.IsZero() {
		t := j.NotBefore
		resp.NotBefore = &t
	}
	return resp
}

// AccountHealthResponse is the caller-facing view of account health
type AccountHealthResponse struct {
	ID               uuid.UUID      `json:"id"`
	Alias            string         `json:"alias"`
	Status           account.Status `json:"status"`
	Score            int            `json:"score"`
	QuarantinedUntil *time.Time     `json:"quarantined_until,omitempty"`
	LastActionAt     *time.Time     `json:"last_action_at,omitempty"`
}

// AccountHealthFromDomain converts an Account to its response form
func AccountHealthFromDomain(a account.Account) *AccountHealthResponse {
	return &AccountHealthResponse{
		ID:               a.ID,
		Alias:            a.Alias,
		Status:           a.Status,
		Score:            a.Score,
		QuarantinedUntil: a.QuarantinedUntil,
		LastActionAt:     a.LastActionAt,
	}
}

// ConflictResponse is the caller-facing view of an unresolved sync conflict
type ConflictResponse struct {
	ID            uuid.UUID `json:"id"`
	ListingID     uuid.UUID `json:"listing_id"`
	LocalVersion  int64     `json:"local_version"`
	RemoteVersion int64     `json:"remote_version"`
	DetectedAt    time.Time `json:"detected_at"`
}

// ConflictFromDomain converts a Conflict to its response form
func ConflictFromDomain(c listing.Conflict) ConflictResponse {
	return ConflictResponse{
		ID:            c.ID,
		ListingID:     c.ListingID,
		LocalVersion:  c.LocalVersion,
		RemoteVersion: c.RemoteVersion,
		DetectedAt:    c.DetectedAt,
	}
}

// ListingResponse is the caller-facing view of a listing record
type ListingResponse struct {
	ID                     uuid.UUID  `json:"id"`
	Title                  string     `json:"title"`
	RemoteID               string     `json:"remote_id,omitempty"`
	ContentVersion         int64      `json:"content_version"`
	LastKnownRemoteVersion int64      `json:"last_known_remote_version"`
	PendingLocalEdit       bool       `json:"pending_local_edit"`
	LastSyncedAt           *time.Time `json:"last_synced_at,omitempty"`
}

// ListingFromDomain converts a Listing to its response form
func ListingFromDomain(l *listing.Listing) *ListingResponse {
	return &ListingResponse{
		ID:                     l.ID,
		Title:                  l.Content.Title,
		RemoteID:               l.RemoteID,
		ContentVersion:         l.ContentVersion,
		LastKnownRemoteVersion: l.LastKnownRemoteVersion,
		PendingLocalEdit:       l.PendingLocalEdit,
		LastSyncedAt:           l.LastSyncedAt,
	}
}
