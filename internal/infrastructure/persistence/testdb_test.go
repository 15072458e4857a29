package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB creates an in-memory SQLite database with the full schema
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE accounts (
			id TEXT PRIMARY KEY,
			alias TEXT NOT NULL UNIQUE,
			session_ref TEXT NOT NULL,
			score INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'INACTIVE',
			consecutive_soft_fails INTEGER NOT NULL DEFAULT 0,
			last_action_at DATETIME,
			window_started_at DATETIME,
			window_action_count INTEGER NOT NULL DEFAULT 0,
			quarantined_until DATETIME,
			pre_quarantine_status TEXT,
			last_downgrade_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE listings (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			price TEXT NOT NULL,
			image_keys TEXT,
			remote_id TEXT,
			content_version INTEGER NOT NULL DEFAULT 1,
			last_known_remote_version INTEGER NOT NULL DEFAULT 0,
			pending_local_edit INTEGER NOT NULL DEFAULT 0,
			local_edited_at DATETIME,
			last_synced_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE action_jobs (
			id TEXT PRIMARY KEY,
			listing_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'QUEUED',
			account_pin TEXT,
			account_id TEXT,
			payload TEXT,
			dedup_key TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			not_before DATETIME,
			seq INTEGER NOT NULL UNIQUE,
			outcome TEXT,
			last_error TEXT,
			started_at DATETIME,
			completed_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE sync_conflicts (
			id TEXT PRIMARY KEY,
			listing_id TEXT NOT NULL,
			local_version INTEGER NOT NULL,
			remote_version INTEGER NOT NULL,
			detected_at DATETIME NOT NULL,
			resolution TEXT NOT NULL DEFAULT 'UNRESOLVED',
			resolved_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE job_sequences (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
	}

	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}

	return db
}
