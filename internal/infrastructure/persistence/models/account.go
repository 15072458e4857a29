package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/relister/backend/internal/domain/account"
	"github.com/relister/backend/internal/domain/shared"
)

// AccountModel is the GORM model for the accounts table
type AccountModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key"`
	Alias      string    `gorm:"type:varchar(100);not null;uniqueIndex"`
	SessionRef string    `gorm:"column:session_ref;type:varchar(255);not null"`

	Score  int    `gorm:"not null;default:0"`
	Status string `gorm:"type:varchar(20);not null;default:'INACTIVE';index"`

	ConsecutiveSoftFails int        `gorm:"column:consecutive_soft_fails;not null;default:0"`
	LastActionAt         *time.Time `gorm:"column:last_action_at"`

	WindowStartedAt   time.Time `gorm:"column:window_started_at"`
	WindowActionCount int       `gorm:"column:window_action_count;not null;default:0"`

	QuarantinedUntil    *time.Time `gorm:"column:quarantined_until;index"`
	PreQuarantineStatus string     `gorm:"column:pre_quarantine_status;type:varchar(20)"`
	LastDowngradeAt     *time.Time `gorm:"column:last_downgrade_at"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for AccountModel
func (AccountModel) TableName() string {
	return "accounts"
}

// ToDomain converts AccountModel to a domain Account
func (m *AccountModel) ToDomain() *account.Account {
	return &account.Account{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Alias:                m.Alias,
		SessionRef:           m.SessionRef,
		Score:                m.Score,
		Status:               account.Status(m.Status),
		ConsecutiveSoftFails: m.ConsecutiveSoftFails,
		LastActionAt:         m.LastActionAt,
		WindowStartedAt:      m.WindowStartedAt,
		WindowActionCount:    m.WindowActionCount,
		QuarantinedUntil:     m.QuarantinedUntil,
		PreQuarantineStatus:  account.Status(m.PreQuarantineStatus),
		LastDowngradeAt:      m.LastDowngradeAt,
	}
}

// AccountModelFromDomain creates an AccountModel from a domain Account
func AccountModelFromDomain(a *account.Account) *AccountModel {
	return &AccountModel{
		ID:                   a.ID,
		Alias:                a.Alias,
		SessionRef:           a.SessionRef,
		Score:                a.Score,
		Status:               string(a.Status),
		ConsecutiveSoftFails: a.ConsecutiveSoftFails,
		LastActionAt:         a.LastActionAt,
		WindowStartedAt:      a.WindowStartedAt,
		WindowActionCount:    a.WindowActionCount,
		QuarantinedUntil:     a.QuarantinedUntil,
		PreQuarantineStatus:  string(a.PreQuarantineStatus),
		LastDowngradeAt:      a.LastDowngradeAt,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}
