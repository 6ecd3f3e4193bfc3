package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event tags recorded by the security audit log
const (
	AuditEventLoginSuccess     = "login_success"
	AuditEventLoginFailed      = "login_failed"
	AuditEventLoginRateLimited = "login_rate_limited"
	AuditEventLogout           = "logout"
	AuditEventLogoutAll        = "logout_all"
	AuditEventRegister         = "user_registered"
	AuditEventSessionRejected  = "session_rejected"
	AuditEventSessionRevoked   = "session_revoked"
	AuditEventRateLimitReset   = "rate_limit_reset"
	AuditEventClientReported   = "client_reported"
)

// Severity classifies an audit event. Values are ordered low < medium < high < critical.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// IsAlert reports whether the severity warrants immediate surfacing
func (s Severity) IsAlert() bool {
	return s >= SeverityHigh
}

// ParseSeverity converts a severity name into its ordinal value
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	}
	return SeverityLow, fmt.Errorf("%w: unknown severity %q", ErrBadRequest, name)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AuditLogEntry is one append-only security audit record
type AuditLogEntry struct {
	ID        string        `json:"id" db:"id"`
	Timestamp time.Time     `json:"timestamp" db:"created_at"`
	Event     string        `json:"event" db:"event"`
	Severity  Severity      `json:"severity" db:"severity"`
	UserID    string        `json:"user_id,omitempty" db:"user_id"`
	SessionID string        `json:"session_id,omitempty" db:"session_id"`
	IPAddress string        `json:"ip_address,omitempty" db:"ip_address"`
	Details   AuditMetadata `json:"details,omitempty" db:"details"`
}

// LogOptions carries the optional attributes of an audit entry.
// The zero Severity is low.
type LogOptions struct {
	UserID    string
	SessionID string
	IPAddress string
	Severity  Severity
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(am))
}
