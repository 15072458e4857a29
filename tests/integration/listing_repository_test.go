package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relister/backend/internal/domain/listing"
	"github.com/relister/backend/internal/infrastructure/persistence"
)

// TestListingRepository_Integration tests the listing repository against a real PostgreSQL database
func TestListingRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	repo := persistence.NewGormListingRepository(testDB.DB)
	ctx := context.Background()

	newContent := func(title string, price string) listing.Content {
		return listing.Content{
			Title:       title,
			Description: "hand-me-down, good condition",
			Price:       decimal.RequireFromString(price),
			ImageKeys:   []string{"img/front.jpg", "img/back.jpg"},
		}
	}

	t.Run("Save and FindByID round-trips content", func(t *testing.T) {
		l := listing.NewListing(newContent("Vintage lamp", "24.50"))
		require.NoError(t, repo.Save(ctx, l))

		found, err := repo.FindByID(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, "Vintage lamp", found.Content.Title)
		assert.True(t, found.Content.Price.Equal(decimal.RequireFromString("24.50")))
		assert.Equal(t, []string{"img/front.jpg", "img/back.jpg"}, found.Content.ImageKeys)
		assert.Equal(t, int64(1), found.ContentVersion)
		assert.False(t, found.Published())
	})

	t.Run("FindByID not found", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, listing.ErrListingNotFound)
	})

	t.Run("FindByRemoteID after publish", func(t *testing.T) {
		l := listing.NewListing(newContent("Desk chair", "80"))
		require.NoError(t, l.AssignRemoteID("rm-10001"))
		l.MarkPushed(1, time.Now())
		require.NoError(t, repo.Save(ctx, l))

		found, err := repo.FindByRemoteID(ctx, "rm-10001")
		require.NoError(t, err)
		assert.Equal(t, l.ID, found.ID)
		assert.True(t, found.Published())
		assert.False(t, found.PendingLocalEdit)
		require.NotNil(t, found.LastSyncedAt)
	})

	t.Run("FindPublished excludes drafts", func(t *testing.T) {
		testDB.CleanTables()

		draft := listing.NewListing(newContent("Draft", "5"))
		require.NoError(t, repo.Save(ctx, draft))

		published := listing.NewListing(newContent("Published", "15"))
		require.NoError(t, published.AssignRemoteID("rm-20001"))
		published.MarkPushed(1, time.Now())
		require.NoError(t, repo.Save(ctx, published))

		got, err := repo.FindPublished(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, published.ID, got[0].ID)
	})

	t.Run("Local edit flags survive the round-trip", func(t *testing.T) {
		l := listing.NewListing(newContent("Bike", "120"))
		require.NoError(t, l.AssignRemoteID("rm-30001"))
		l.MarkPushed(1, time.Now())
		l.ApplyLocalEdit(newContent("Bike, price drop", "99"), time.Now())
		require.NoError(t, repo.Save(ctx, l))

		found, err := repo.FindByID(ctx, l.ID)
		require.NoError(t, err)
		assert.True(t, found.PendingLocalEdit)
		assert.Equal(t, int64(2), found.ContentVersion)
		assert.Equal(t, int64(1), found.LastKnownRemoteVersion)
		require.NotNil(t, found.LocalEditedAt)
	})
}

// TestConflictRepository_Integration tests the conflict repository against a real PostgreSQL database
func TestConflictRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	repo := persistence.NewGormConflictRepository(testDB.DB)
	ctx := context.Background()

	t.Run("Save and FindByID", func(t *testing.T) {
		c := listing.NewConflict(uuid.New(), 3, 5, time.Now())
		require.NoError(t, repo.Save(ctx, c))

		found, err := repo.FindByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ListingID, found.ListingID)
		assert.Equal(t, int64(3), found.LocalVersion)
		assert.Equal(t, int64(5), found.RemoteVersion)
		assert.Equal(t, listing.ResolutionUnresolved, found.Resolution)
		assert.Nil(t, found.ResolvedAt)
	})

	t.Run("FindByID not found", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, listing.ErrConflictNotFound)
	})

	t.Run("FindUnresolved and FindOpenByListing", func(t *testing.T) {
		testDB.CleanTables()

		listingID := uuid.New()
		open := listing.NewConflict(listingID, 2, 4, time.Now())
		require.NoError(t, repo.Save(ctx, open))

		resolved := listing.NewConflict(uuid.New(), 1, 2, time.Now())
		resolved.Resolve(listing.ResolutionRemoteWins, time.Now())
		require.NoError(t, repo.Save(ctx, resolved))

		unresolved, err := repo.FindUnresolved(ctx)
		require.NoError(t, err)
		require.Len(t, unresolved, 1)
		assert.Equal(t, open.ID, unresolved[0].ID)

		byListing, err := repo.FindOpenByListing(ctx, listingID)
		require.NoError(t, err)
		assert.Equal(t, open.ID, byListing.ID)
	})

	t.Run("At most one open conflict per listing", func(t *testing.T) {
		testDB.CleanTables()

		listingID := uuid.New()
		first := listing.NewConflict(listingID, 2, 4, time.Now())
		require.NoError(t, repo.Save(ctx, first))

		second := listing.NewConflict(listingID, 3, 5, time.Now())
		assert.Error(t, repo.Save(ctx, second))

		// Resolving the first clears the way for a new one
		first.Resolve(listing.ResolutionLocalWins, time.Now())
		require.NoError(t, repo.Save(ctx, first))
		require.NoError(t, repo.Save(ctx, second))
	})
}
