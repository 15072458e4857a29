package cache

import (
	"context"
	"sync"
	"time"
)

// entry holds a reserved dedup key with its expiration
type entry struct {
	jobID     string
	expiresAt time.Time
}

// InMemoryDedupStore implements DedupStore using an in-memory map. Suitable
// for single-instance deployments and testing; state is lost on restart,
// which is safe because the job table still enforces uniqueness.
type InMemoryDedupStore struct {
	mu        sync.RWMutex
	entries   map[string]entry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryDedupStore creates an in-memory dedup store and starts a
// background goroutine that evicts expired reservations
func NewInMemoryDedupStore() *InMemoryDedupStore {
	store := &InMemoryDedupStore{
		entries:  make(map[string]entry),
		stopChan: make(chan struct{}),
	}

	store.wg.Add(1)
	go store.cleanupLoop()

	return store
}

// Reserve claims the key for jobID, returning the holder and whether this
// call won
func (s *InMemoryDedupStore) Reserve(_ context.Context, key, jobID string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.entries[key]; exists && time.Now().Before(e.expiresAt) {
		return e.jobID, false, nil
	}

	s.entries[key] = entry{jobID: jobID, expiresAt: time.Now().Add(ttl)}
	return jobID, true, nil
}

// Lookup returns the job ID holding the key
func (s *InMemoryDedupStore) Lookup(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.entries[key]
	if !exists || time.Now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.jobID, true, nil
}

// Release frees the key
func (s *InMemoryDedupStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (s *InMemoryDedupStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

// Size returns the number of live reservations, for testing and monitoring
func (s *InMemoryDedupStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *InMemoryDedupStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryDedupStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}

var _ DedupStore = (*InMemoryDedupStore)(nil)
