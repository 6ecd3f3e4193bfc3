package repositories

import (
	"sync"
	"time"

	"github.com/sembalun/guard/internal/models"
)

// DefaultAuditLogCapacity bounds the in-memory audit log when no capacity is configured
const DefaultAuditLogCapacity = 10000

// AuditLogRepository is a fixed-capacity ring buffer of audit entries.
// When full, appending overwrites the oldest entry.
type AuditLogRepository struct {
	mu       sync.RWMutex
	entries  []models.AuditLogEntry
	start    int // index of the oldest entry
	size     int
	capacity int
}

// NewAuditLogRepository creates a ring buffer holding at most capacity entries
func NewAuditLogRepository(capacity int) *AuditLogRepository {
	if capacity <= 0 {
		capacity = DefaultAuditLogCapacity
	}
	return &AuditLogRepository{
		entries:  make([]models.AuditLogEntry, capacity),
		capacity: capacity,
	}
}

// Append stores entry and reports whether an older entry was overwritten
func (r *AuditLogRepository) Append(entry models.AuditLogEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < r.capacity {
		r.entries[(r.start+r.size)%r.capacity] = entry
		r.size++
		return false
	}

	r.entries[r.start] = entry
	r.start = (r.start + 1) % r.capacity
	return true
}

// Find returns up to limit matching entries, newest first.
// A nil match accepts every entry; limit <= 0 means no limit.
func (r *AuditLogRepository) Find(match func(*models.AuditLogEntry) bool, limit int) []models.AuditLogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.AuditLogEntry, 0)
	for i := r.size - 1; i >= 0; i-- {
		e := &r.entries[(r.start+i)%r.capacity]
		if match != nil && !match(e) {
			continue
		}
		out = append(out, *e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// DeleteBefore drops the oldest entries whose timestamp is before cutoff
func (r *AuditLogRepository) DeleteBefore(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for r.size > 0 && r.entries[r.start].Timestamp.Before(cutoff) {
		r.entries[r.start] = models.AuditLogEntry{}
		r.start = (r.start + 1) % r.capacity
		r.size--
		removed++
	}
	return removed
}

// Len returns the number of stored entries
func (r *AuditLogRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity returns the maximum number of stored entries
func (r *AuditLogRepository) Capacity() int {
	return r.capacity
}
