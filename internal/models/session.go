package models

import "time"

// Session tracks an authenticated browser session.
// LastActivity is never earlier than CreatedAt.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
}

// SessionMetadata describes where a session originated
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// SessionPolicy holds session lifetime limits
type SessionPolicy struct {
	MaxDuration time.Duration // absolute lifetime regardless of activity
	MaxIdleTime time.Duration // max gap between activity and the next check
}

// DefaultSessionPolicy returns the 24h absolute / 30m idle policy
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{
		MaxDuration: 24 * time.Hour,
		MaxIdleTime: 30 * time.Minute,
	}
}

// Stale reports why a session is no longer valid at now, or "" if it still is
func (p SessionPolicy) Stale(s *Session, now time.Time) SessionKind {
	if now.Sub(s.CreatedAt) > p.MaxDuration {
		return SessionExpired
	}
	if now.Sub(s.LastActivity) > p.MaxIdleTime {
		return SessionIdle
	}
	return ""
}

// SessionKind tags the outcome of a session validation
type SessionKind string

const (
	SessionValid    SessionKind = "valid"
	SessionNotFound SessionKind = "not_found"
	SessionExpired  SessionKind = "expired"
	SessionIdle     SessionKind = "idle"
)

// SessionValidation is the outcome of ValidateSession.
// Every non-valid kind means the caller must re-authenticate; Reason is diagnostic.
type SessionValidation struct {
	Kind    SessionKind `json:"kind"`
	IsValid bool        `json:"is_valid"`
	Reason  string      `json:"reason,omitempty"`
}

// ValidSession is the result for a live session
func ValidSession() SessionValidation {
	return SessionValidation{Kind: SessionValid, IsValid: true}
}

// InvalidSession is the result for a rejected session
func InvalidSession(kind SessionKind) SessionValidation {
	return SessionValidation{Kind: kind, IsValid: false, Reason: string(kind)}
}
