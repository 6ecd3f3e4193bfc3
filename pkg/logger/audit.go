package logger

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sembalun/guard/internal/models"
)

// SeverityLevel maps an audit severity onto the slog level it is emitted at
func SeverityLevel(s models.Severity) slog.Level {
	switch {
	case s >= models.SeverityHigh:
		return slog.LevelError
	case s == models.SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// AuditAttrs renders an audit entry as slog attributes. Detail keys are
// emitted in sorted order under a "details" group.
func AuditAttrs(entry models.AuditLogEntry) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("audit_id", entry.ID),
		slog.String("event_type", entry.Event),
		slog.String("severity", entry.Severity.String()),
		slog.String("timestamp", entry.Timestamp.UTC().Format(time.RFC3339)),
	}

	if entry.UserID != "" {
		attrs = append(attrs, slog.String("user_id", entry.UserID))
	}
	if entry.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", entry.SessionID))
	}
	if entry.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", entry.IPAddress))
	}

	if len(entry.Details) > 0 {
		keys := make([]string, 0, len(entry.Details))
		for k := range entry.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		details := make([]any, 0, len(keys))
		for _, k := range keys {
			details = append(details, slog.String(k, fmt.Sprint(entry.Details[k])))
		}
		attrs = append(attrs, slog.Group("details", details...))
	}

	return attrs
}
