package listing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func testContent(title string) Content {
	return Content{
		Title:       title,
		Description: "hand-knitted wool sweater, size M",
		Price:       decimal.NewFromFloat(24.90),
		ImageKeys:   []string{"img/front.jpg"},
	}
}

// ---------------------------------------------------------------------------
// Listing Tests
// ---------------------------------------------------------------------------

func TestNewListing(t *testing.T) {
	l := NewListing(testContent("sweater"))

	assert.False(t, l.Published())
	assert.Equal(t, int64(1), l.ContentVersion)
	assert.Equal(t, int64(0), l.LastKnownRemoteVersion)
	assert.False(t, l.PendingLocalEdit)
}

func TestListing_ApplyLocalEdit(t *testing.T) {
	l := NewListing(testContent("sweater"))
	now := time.Now()

	l.ApplyLocalEdit(testContent("sweater v2"), now)

	assert.Equal(t, int64(2), l.ContentVersion)
	assert.True(t, l.PendingLocalEdit)
	require.NotNil(t, l.LocalEditedAt)
	assert.Equal(t, "sweater v2", l.Content.Title)
}

func TestListing_AssignRemoteID_Immutable(t *testing.T) {
	l := NewListing(testContent("sweater"))

	require.NoError(t, l.AssignRemoteID("rm-123"))
	assert.True(t, l.Published())

	// Re-assigning the same id is a no-op.
	require.NoError(t, l.AssignRemoteID("rm-123"))

	// A different id violates the immutability invariant.
	assert.ErrorIs(t, l.AssignRemoteID("rm-456"), ErrRemoteIDImmutable)
	assert.Equal(t, "rm-123", l.RemoteID)

	assert.ErrorIs(t, l.AssignRemoteID(""), ErrEmptyRemoteID)
}

func TestListing_MarkPushed(t *testing.T) {
	l := NewListing(testContent("sweater"))
	require.NoError(t, l.AssignRemoteID("rm-123"))
	l.ApplyLocalEdit(testContent("sweater v2"), time.Now())
	now := time.Now()

	l.MarkPushed(7, now)

	assert.Equal(t, int64(7), l.LastKnownRemoteVersion)
	assert.False(t, l.PendingLocalEdit)
	assert.Nil(t, l.LocalEditedAt)
	require.NotNil(t, l.LastSyncedAt)
}

func TestListing_AdoptRemote(t *testing.T) {
	l := NewListing(testContent("sweater"))
	require.NoError(t, l.AssignRemoteID("rm-123"))
	now := time.Now()

	snap := RemoteSnapshot{
		RemoteID:  "rm-123",
		Version:   4,
		Content:   testContent("sweater (remote edit)"),
		UpdatedAt: now,
	}
	l.AdoptRemote(snap, now)

	assert.Equal(t, "sweater (remote edit)", l.Content.Title)
	assert.Equal(t, int64(4), l.LastKnownRemoteVersion)
	assert.Equal(t, int64(2), l.ContentVersion)
	assert.False(t, l.PendingLocalEdit)
}

// ---------------------------------------------------------------------------
// Conflict Tests
// ---------------------------------------------------------------------------

func TestNewConflict_Unresolved(t *testing.T) {
	listingID := uuid.New()
	now := time.Now()

	c := NewConflict(listingID, 2, 5, now)

	assert.Equal(t, listingID, c.ListingID)
	assert.Equal(t, ResolutionUnresolved, c.Resolution)
	assert.Nil(t, c.ResolvedAt)
}

func TestConflict_Resolve(t *testing.T) {
	c := NewConflict(uuid.New(), 2, 5, time.Now())

	c.Resolve(ResolutionRemoteWins, time.Now())

	assert.Equal(t, ResolutionRemoteWins, c.Resolution)
	assert.NotNil(t, c.ResolvedAt)
}

// ---------------------------------------------------------------------------
// ConflictPolicy Tests
// ---------------------------------------------------------------------------

func TestConflictPolicy_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		policy   ConflictPolicy
		expected bool
	}{
		{"newest-wins", PolicyNewestWins, true},
		{"local-wins", PolicyLocalWins, true},
		{"remote-wins", PolicyRemoteWins, true},
		{"manual", PolicyManual, true},
		{"unknown", ConflictPolicy("random"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.policy.IsValid())
		})
	}
}
