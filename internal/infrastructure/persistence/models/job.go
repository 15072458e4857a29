package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/domain/shared"
)

// ActionJobModel is the GORM model for the action_jobs table
type ActionJobModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	ListingID uuid.UUID `gorm:"column:listing_id;type:uuid;not null;index"`
	Kind      string    `gorm:"type:varchar(20);not null"`
	Status    string    `gorm:"type:varchar(20);not null;default:'QUEUED';index"`

	AccountPin *uuid.UUID `gorm:"column:account_pin;type:uuid"`
	AccountID  *uuid.UUID `gorm:"column:account_id;type:uuid;index"`

	// Payload is stored as a JSON object of action-specific strings
	Payload string `gorm:"type:text"`

	DedupKey string `gorm:"column:dedup_key;type:varchar(255);index"`

	RetryCount int `gorm:"column:retry_count;not null;default:0"`
	MaxRetries int `gorm:"column:max_retries;not null;default:0"`

	NotBefore time.Time `gorm:"column:not_before;index"`
	Seq       int64     `gorm:"not null;uniqueIndex"`

	Outcome     *string    `gorm:"type:varchar(30)"`
	LastError   string     `gorm:"column:last_error;type:text"`
	StartedAt   *time.Time `gorm:"column:started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for ActionJobModel
func (ActionJobModel) TableName() string {
	return "action_jobs"
}

// ToDomain converts ActionJobModel to a domain ActionJob
func (m *ActionJobModel) ToDomain() *job.ActionJob {
	payload := make(map[string]string)
	if m.Payload != "" {
		_ = json.Unmarshal([]byte(m.Payload), &payload)
	}

	var outcome *job.Outcome
	if m.Outcome != nil {
		o := job.Outcome(*m.Outcome)
		outcome = &o
	}

	return &job.ActionJob{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ListingID:   m.ListingID,
		Kind:        job.Kind(m.Kind),
		Status:      job.Status(m.Status),
		AccountPin:  m.AccountPin,
		AccountID:   m.AccountID,
		Payload:     payload,
		DedupKey:    m.DedupKey,
		RetryCount:  m.RetryCount,
		MaxRetries:  m.MaxRetries,
		NotBefore:   m.NotBefore,
		Seq:         m.Seq,
		Outcome:     outcome,
		LastError:   m.LastError,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}
}

// ActionJobModelFromDomain creates an ActionJobModel from a domain ActionJob
func ActionJobModelFromDomain(j *job.ActionJob) *ActionJobModel {
	payload := ""
	if len(j.Payload) > 0 {
		if data, err := json.Marshal(j.Payload); err == nil {
			payload = string(data)
		}
	}

	var outcome *string
	if j.Outcome != nil {
		o := string(*j.Outcome)
		outcome = &o
	}

	return &ActionJobModel{
		ID:          j.ID,
		ListingID:   j.ListingID,
		Kind:        string(j.Kind),
		Status:      string(j.Status),
		AccountPin:  j.AccountPin,
		AccountID:   j.AccountID,
		Payload:     payload,
		DedupKey:    j.DedupKey,
		RetryCount:  j.RetryCount,
		MaxRetries:  j.MaxRetries,
		NotBefore:   j.NotBefore,
		Seq:         j.Seq,
		Outcome:     outcome,
		LastError:   j.LastError,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}
