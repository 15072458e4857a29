package listing

import (
	"time"

	"github.com/google/uuid"

	"github.com/relister/backend/internal/domain/shared"
)

// Resolution is the outcome recorded for a detected sync conflict
type Resolution string

const (
	ResolutionLocalWins  Resolution = "LOCAL_WINS"
	ResolutionRemoteWins Resolution = "REMOTE_WINS"
	ResolutionMerged     Resolution = "MERGED"
	// ResolutionUnresolved conflicts are persisted and surfaced for
	// external escalation; they are never silently dropped.
	ResolutionUnresolved Resolution = "UNRESOLVED"
)

// IsValid returns true if the resolution is a known resolution
func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionLocalWins, ResolutionRemoteWins, ResolutionMerged, ResolutionUnresolved:
		return true
	default:
		return false
	}
}

// String returns the string representation of Resolution
func (r Resolution) String() string {
	return string(r)
}

// Conflict records a divergence between local and remote listing state since
// the last agreed sync point
type Conflict struct {
	shared.BaseEntity

	ListingID     uuid.UUID
	LocalVersion  int64
	RemoteVersion int64
	DetectedAt    time.Time
	Resolution    Resolution
	ResolvedAt    *time.Time
}

// NewConflict creates an unresolved conflict for the listing
func NewConflict(listingID uuid.UUID, localVersion, remoteVersion int64, detectedAt time.Time) *Conflict {
	return &Conflict{
		BaseEntity:    shared.NewBaseEntity(),
		ListingID:     listingID,
		LocalVersion:  localVersion,
		RemoteVersion: remoteVersion,
		DetectedAt:    detectedAt,
		Resolution:    ResolutionUnresolved,
	}
}

// Resolve records the applied resolution
func (c *Conflict) Resolve(resolution Resolution, now time.Time) {
	c.Resolution = resolution
	t := now
	c.ResolvedAt = &t
	c.UpdatedAt = now
}
