package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/sembalun/guard/internal/clock"
	"github.com/sembalun/guard/internal/models"
)

// SessionStore holds live sessions. Check must look up and evict in one step.
type SessionStore interface {
	Create(session *models.Session)
	Get(id string) (*models.Session, bool)
	Check(id string, now time.Time, policy models.SessionPolicy) models.SessionKind
	Touch(id string, at time.Time) bool
	Delete(id string) bool
	DeleteByUser(userID string) int
	ListByUser(userID string) []*models.Session
	DeleteStale(now time.Time, policy models.SessionPolicy) int
}

// SessionSecurity enforces absolute and idle session lifetimes
type SessionSecurity struct {
	store  SessionStore
	policy models.SessionPolicy
	clock  clock.Clock
	logger *slog.Logger
}

func NewSessionSecurity(store SessionStore, policy models.SessionPolicy, clk clock.Clock, logger *slog.Logger) *SessionSecurity {
	return &SessionSecurity{
		store:  store,
		policy: policy,
		clock:  clk,
		logger: logger,
	}
}

// Policy returns the lifetime limits in force
func (s *SessionSecurity) Policy() models.SessionPolicy {
	return s.policy
}

// CreateSession registers a new session for userID. Reusing an ID replaces the old record.
func (s *SessionSecurity) CreateSession(_ context.Context, userID, sessionID string, meta models.SessionMetadata) *models.Session {
	now := s.clock.Now()
	session := &models.Session{
		ID:           sessionID,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	}
	s.store.Create(session)

	s.logger.Debug("session created",
		slog.String("session_id", sessionID),
		slog.String("user_id", userID))

	return session
}

// ValidateSession reports whether sessionID may still be used. Expired and idle
// sessions are removed as a side effect, so a second call reports not_found.
func (s *SessionSecurity) ValidateSession(_ context.Context, sessionID string) models.SessionValidation {
	kind := s.store.Check(sessionID, s.clock.Now(), s.policy)
	if kind == models.SessionValid {
		return models.ValidSession()
	}

	s.logger.Debug("session rejected",
		slog.String("session_id", sessionID),
		slog.String("reason", string(kind)))

	return models.InvalidSession(kind)
}

// UpdateActivity marks sessionID as used now. Unknown sessions are ignored.
func (s *SessionSecurity) UpdateActivity(_ context.Context, sessionID string) {
	s.store.Touch(sessionID, s.clock.Now())
}

// RevokeSession deletes one session and reports whether it existed
func (s *SessionSecurity) RevokeSession(_ context.Context, sessionID string) bool {
	return s.store.Delete(sessionID)
}

// RevokeUserSession deletes sessionID only if it belongs to userID
func (s *SessionSecurity) RevokeUserSession(ctx context.Context, userID, sessionID string) bool {
	session, ok := s.store.Get(sessionID)
	if !ok || session.UserID != userID {
		return false
	}
	return s.RevokeSession(ctx, sessionID)
}

// RevokeAllUserSessions deletes every session owned by userID
func (s *SessionSecurity) RevokeAllUserSessions(_ context.Context, userID string) int {
	removed := s.store.DeleteByUser(userID)
	if removed > 0 {
		s.logger.Info("revoked user sessions",
			slog.String("user_id", userID),
			slog.Int("count", removed))
	}
	return removed
}

// GetActiveSessions lists userID's sessions, most recently active first.
// Sessions past their limits but not yet swept are still listed.
func (s *SessionSecurity) GetActiveSessions(_ context.Context, userID string) []*models.Session {
	return s.store.ListByUser(userID)
}

// Sweep removes sessions that would fail validation now
func (s *SessionSecurity) Sweep(context.Context) (int, error) {
	return s.store.DeleteStale(s.clock.Now(), s.policy), nil
}
