// Package cache provides the deduplication store that backs idempotent job
// submission. A dedup key is reserved for the first job that claims it;
// later submissions with the same key get the original job ID back.
package cache

import (
	"context"
	"time"
)

// DedupStore maps dedup keys to job IDs. Reserve is atomic: exactly one
// caller wins a key, every other caller sees the winner's job ID. The store
// is a fast-path guard; the job table remains the durable source of truth.
type DedupStore interface {
	// Reserve claims the key for jobID. Returns the job ID now holding the
	// key and whether this call won the reservation.
	Reserve(ctx context.Context, key, jobID string, ttl time.Duration) (string, bool, error)

	// Lookup returns the job ID holding the key, if any
	Lookup(ctx context.Context, key string) (string, bool, error)

	// Release frees the key, used when a reserved submission fails to persist
	Release(ctx context.Context, key string) error

	// Close releases resources held by the store
	Close() error
}
