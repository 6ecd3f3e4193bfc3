package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/sembalun/guard/internal/models"
)

// MemoryRateLimitRepository keeps fixed-window counters in process memory.
// Each Attempt is a single critical section, so concurrent callers on the
// same key cannot lose increments.
type MemoryRateLimitRepository struct {
	mu      sync.Mutex
	records map[string]models.RateLimitRecord
}

// NewMemoryRateLimitRepository creates an empty in-memory counter store
func NewMemoryRateLimitRepository() *MemoryRateLimitRepository {
	return &MemoryRateLimitRepository{
		records: make(map[string]models.RateLimitRecord),
	}
}

// Attempt records one attempt for key and returns the decision
func (r *MemoryRateLimitRepository) Attempt(_ context.Context, key string, rule models.RateLimitRule, now time.Time) (models.RateLimitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, found := r.records[key]
	rec, result := models.ApplyAttempt(rec, found, rule, now)
	r.records[key] = rec

	return result, nil
}

// Reset removes the counter for key
func (r *MemoryRateLimitRepository) Reset(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, key)
	return nil
}

// DeleteExpired drops every counter whose window closed at or before now
func (r *MemoryRateLimitRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, rec := range r.records {
		if rec.Expired(now) {
			delete(r.records, key)
			removed++
		}
	}
	return removed, nil
}

// Get returns the stored counter for key
func (r *MemoryRateLimitRepository) Get(key string) (models.RateLimitRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[key]
	return rec, ok
}

// Len returns the number of tracked keys
func (r *MemoryRateLimitRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
