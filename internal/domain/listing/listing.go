// Package listing defines the local listing record and its synchronization
// state against the remote marketplace.
package listing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/relister/backend/internal/domain/shared"
)

var (
	ErrListingNotFound   = errors.New("listing: listing not found")
	ErrRemoteIDImmutable = errors.New("listing: remote id is immutable once assigned")
	ErrNotPublished      = errors.New("listing: listing has no remote id yet")
	ErrEmptyRemoteID     = errors.New("listing: remote id cannot be empty")
	ErrConflictNotFound  = errors.New("listing: conflict not found")
)

// Content is the marketplace-facing payload of a listing. The core consumes
// already-finalized content; it never generates it.
type Content struct {
	Title       string
	Description string
	Price       decimal.Decimal
	// ImageKeys reference photos in the image store
	ImageKeys []string
}

// Listing is the local record of what we believe exists remotely.
// ContentVersion advances on every local edit; LastKnownRemoteVersion is the
// remote version observed at the last sync point.
type Listing struct {
	shared.BaseEntity

	Content Content

	// RemoteID is empty until the first successful publish and immutable
	// afterwards.
	RemoteID string

	ContentVersion         int64
	LastKnownRemoteVersion int64

	PendingLocalEdit bool
	LocalEditedAt    *time.Time
	LastSyncedAt     *time.Time
}

// NewListing creates an unpublished listing at content version 1
func NewListing(content Content) *Listing {
	return &Listing{
		BaseEntity:     shared.NewBaseEntity(),
		Content:        content,
		ContentVersion: 1,
	}
}

// Published returns true once the listing exists remotely
func (l *Listing) Published() bool {
	return l.RemoteID != ""
}

// ApplyLocalEdit replaces the content, bumps the content version and flags
// the pending edit for the reconciler
func (l *Listing) ApplyLocalEdit(content Content, now time.Time) {
	l.Content = content
	l.ContentVersion++
	l.PendingLocalEdit = true
	t := now
	l.LocalEditedAt = &t
	l.UpdatedAt = now
}

// AssignRemoteID records the remote id produced by the first publish.
// Re-publication never changes an assigned remote id.
func (l *Listing) AssignRemoteID(remoteID string) error {
	if remoteID == "" {
		return ErrEmptyRemoteID
	}
	if l.RemoteID != "" && l.RemoteID != remoteID {
		return ErrRemoteIDImmutable
	}
	l.RemoteID = remoteID
	l.UpdatedAt = time.Now()
	return nil
}

// MarkPushed records a successful publish/update: the remote now carries our
// content, so the pending edit is cleared and the sync point advances.
func (l *Listing) MarkPushed(remoteVersion int64, now time.Time) {
	l.LastKnownRemoteVersion = remoteVersion
	l.PendingLocalEdit = false
	l.LocalEditedAt = nil
	t := now
	l.LastSyncedAt = &t
	l.UpdatedAt = now
}

// AdoptRemote overwrites local content with the remote snapshot (remote-wins)
func (l *Listing) AdoptRemote(snap RemoteSnapshot, now time.Time) {
	l.Content = snap.Content
	l.ContentVersion++
	l.LastKnownRemoteVersion = snap.Version
	l.PendingLocalEdit = false
	l.LocalEditedAt = nil
	t := now
	l.LastSyncedAt = &t
	l.UpdatedAt = now
}

// MarkSynced advances the sync point without touching content. Used when the
// remote is unchanged.
func (l *Listing) MarkSynced(remoteVersion int64, now time.Time) {
	l.LastKnownRemoteVersion = remoteVersion
	t := now
	l.LastSyncedAt = &t
	l.UpdatedAt = now
}

// RemoteSnapshot is the remote-reported state of a listing obtained by a
// sync-pull action
type RemoteSnapshot struct {
	RemoteID  string
	Version   int64
	Content   Content
	UpdatedAt time.Time
}
