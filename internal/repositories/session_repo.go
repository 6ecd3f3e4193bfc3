package repositories

import (
	"sort"
	"sync"
	"time"

	"github.com/sembalun/guard/internal/models"
)

// SessionRepository stores sessions in process memory.
// Returned sessions are copies; mutate through the repository methods only.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewSessionRepository creates an empty session store
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]*models.Session),
	}
}

// Create inserts or replaces the session with the same ID
func (r *SessionRepository) Create(session *models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *session
	r.sessions[session.ID] = &stored
}

// Get returns a copy of the session
func (r *SessionRepository) Get(id string) (*models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	out := *s
	return &out, true
}

// Check classifies the session at now under policy and evicts it when stale.
// The lookup and eviction happen under one lock.
func (r *SessionRepository) Check(id string, now time.Time, policy models.SessionPolicy) models.SessionKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return models.SessionNotFound
	}

	if kind := policy.Stale(s, now); kind != "" {
		delete(r.sessions, id)
		return kind
	}
	return models.SessionValid
}

// Touch sets LastActivity to at, never moving it before CreatedAt.
// Returns false if the session does not exist.
func (r *SessionRepository) Touch(id string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	if at.Before(s.CreatedAt) {
		at = s.CreatedAt
	}
	s.LastActivity = at
	return true
}

// Delete removes one session
func (r *SessionRepository) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// DeleteByUser removes every session owned by userID
func (r *SessionRepository) DeleteByUser(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// ListByUser returns the user's sessions, most recently active first
func (r *SessionRepository) ListByUser(userID string) []*models.Session {
	r.mu.RLock()
	out := make([]*models.Session, 0)
	for _, s := range r.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// DeleteStale removes all sessions that are expired or idle at now
func (r *SessionRepository) DeleteStale(now time.Time, policy models.SessionPolicy) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if policy.Stale(s, now) != "" {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions
func (r *SessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
