package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/relister/backend/internal/domain/listing"
	"github.com/relister/backend/internal/domain/shared"
)

// ListingModel is the GORM model for the listings table
type ListingModel struct {
	ID uuid.UUID `gorm:"type:uuid;primary_key"`

	Title       string          `gorm:"type:varchar(255);not null"`
	Description string          `gorm:"type:text"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	// ImageKeys is stored as a JSON array of image store keys
	ImageKeys string `gorm:"column:image_keys;type:text"`

	RemoteID string `gorm:"column:remote_id;type:varchar(100);index"`

	ContentVersion         int64 `gorm:"column:content_version;not null;default:1"`
	LastKnownRemoteVersion int64 `gorm:"column:last_known_remote_version;not null;default:0"`

	PendingLocalEdit bool       `gorm:"column:pending_local_edit;not null;default:false;index"`
	LocalEditedAt    *time.Time `gorm:"column:local_edited_at"`
	LastSyncedAt     *time.Time `gorm:"column:last_synced_at"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for ListingModel
func (ListingModel) TableName() string {
	return "listings"
}

// ToDomain converts ListingModel to a domain Listing
func (m *ListingModel) ToDomain() *listing.Listing {
	var imageKeys []string
	if m.ImageKeys != "" {
		// Unreadable keys degrade to an empty slice rather than failing
		// the whole read.
		_ = json.Unmarshal([]byte(m.ImageKeys), &imageKeys)
	}

	return &listing.Listing{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Content: listing.Content{
			Title:       m.Title,
			Description: m.Description,
			Price:       m.Price,
			ImageKeys:   imageKeys,
		},
		RemoteID:               m.RemoteID,
		ContentVersion:         m.ContentVersion,
		LastKnownRemoteVersion: m.LastKnownRemoteVersion,
		PendingLocalEdit:       m.PendingLocalEdit,
		LocalEditedAt:          m.LocalEditedAt,
		LastSyncedAt:           m.LastSyncedAt,
	}
}

// ListingModelFromDomain creates a ListingModel from a domain Listing
func ListingModelFromDomain(l *listing.Listing) *ListingModel {
	imageKeys := ""
	if len(l.Content.ImageKeys) > 0 {
		if data, err := json.Marshal(l.Content.ImageKeys); err == nil {
			imageKeys = string(data)
		}
	}

	return &ListingModel{
		ID:                     l.ID,
		Title:                  l.Content.Title,
		Description:            l.Content.Description,
		Price:                  l.Content.Price,
		ImageKeys:              imageKeys,
		RemoteID:               l.RemoteID,
		ContentVersion:         l.ContentVersion,
		LastKnownRemoteVersion: l.LastKnownRemoteVersion,
		PendingLocalEdit:       l.PendingLocalEdit,
		LocalEditedAt:          l.LocalEditedAt,
		LastSyncedAt:           l.LastSyncedAt,
		CreatedAt:              l.CreatedAt,
		UpdatedAt:              l.UpdatedAt,
	}
}

// SyncConflictModel is the GORM model for the sync_conflicts table
type SyncConflictModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primary_key"`
	ListingID     uuid.UUID  `gorm:"column:listing_id;type:uuid;not null;index"`
	LocalVersion  int64      `gorm:"column:local_version;not null"`
	RemoteVersion int64      `gorm:"column:remote_version;not null"`
	DetectedAt    time.Time  `gorm:"column:detected_at;not null"`
	Resolution    string     `gorm:"type:varchar(20);not null;default:'UNRESOLVED';index"`
	ResolvedAt    *time.Time `gorm:"column:resolved_at"`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

// TableName returns the table name for SyncConflictModel
func (SyncConflictModel) TableName() string {
	return "sync_conflicts"
}

// ToDomain converts SyncConflictModel to a domain Conflict
func (m *SyncConflictModel) ToDomain() *listing.Conflict {
	return &listing.Conflict{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ListingID:     m.ListingID,
		LocalVersion:  m.LocalVersion,
		RemoteVersion: m.RemoteVersion,
		DetectedAt:    m.DetectedAt,
		Resolution:    listing.Resolution(m.Resolution),
		ResolvedAt:    m.ResolvedAt,
	}
}

// SyncConflictModelFromDomain creates a SyncConflictModel from a domain Conflict
func SyncConflictModelFromDomain(c *listing.Conflict) *SyncConflictModel {
	return &SyncConflictModel{
		ID:            c.ID,
		ListingID:     c.ListingID,
		LocalVersion:  c.LocalVersion,
		RemoteVersion: c.RemoteVersion,
		DetectedAt:    c.DetectedAt,
		Resolution:    string(c.Resolution),
		ResolvedAt:    c.ResolvedAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}
