package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sembalun/guard/internal/clock"
	"github.com/sembalun/guard/internal/models"
	pkglogger "github.com/sembalun/guard/pkg/logger"
)

const (
	DefaultAuditQueryLimit = 100
	MaxAuditQueryLimit     = 1000

	archiveTimeout = 3 * time.Second
)

// AuditLogStore is the bounded in-memory audit buffer
type AuditLogStore interface {
	Append(entry models.AuditLogEntry) bool
	Find(match func(*models.AuditLogEntry) bool, limit int) []models.AuditLogEntry
	DeleteBefore(cutoff time.Time) int
}

// AuditArchive durably stores audit entries
type AuditArchive interface {
	Archive(ctx context.Context, entry models.AuditLogEntry) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.AuditLogEntry, error)
	ListAlerts(ctx context.Context, minSeverity models.Severity, limit int) ([]models.AuditLogEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertNotifier delivers high-severity entries to a human
type AlertNotifier interface {
	Notify(ctx context.Context, entry models.AuditLogEntry) error
}

// AuditLoggerConfig controls retention and alerting
type AuditLoggerConfig struct {
	Retention        time.Duration
	AlertMinSeverity models.Severity
}

// SecurityAuditLogger records security events in a ring buffer and mirrors
// them to slog, and optionally to a durable archive and an alert notifier.
type SecurityAuditLogger struct {
	store    AuditLogStore
	archive  AuditArchive
	notifier AlertNotifier
	config   AuditLoggerConfig
	clock    clock.Clock
	logger   *slog.Logger

	notifyWG sync.WaitGroup
}

// NewSecurityAuditLogger creates a logger over store. archive and notifier may be nil.
func NewSecurityAuditLogger(store AuditLogStore, archive AuditArchive, notifier AlertNotifier, cfg AuditLoggerConfig, clk clock.Clock, logger *slog.Logger) *SecurityAuditLogger {
	return &SecurityAuditLogger{
		store:    store,
		archive:  archive,
		notifier: notifier,
		config:   cfg,
		clock:    clk,
		logger:   logger,
	}
}

// Log appends an entry and returns it. Sink failures are logged and swallowed.
func (a *SecurityAuditLogger) Log(ctx context.Context, event string, details map[string]interface{}, opts models.LogOptions) models.AuditLogEntry {
	entry := models.AuditLogEntry{
		ID:        uuid.New().String(),
		Timestamp: a.clock.Now(),
		Event:     event,
		Severity:  opts.Severity,
		UserID:    opts.UserID,
		SessionID: opts.SessionID,
		IPAddress: opts.IPAddress,
		Details:   make(models.AuditMetadata, len(details)),
	}
	for k, v := range details {
		entry.Details[k] = v
	}

	if overwritten := a.store.Append(entry); overwritten {
		a.logger.Debug("audit buffer full, oldest entry overwritten")
	}

	msg := "security audit"
	if entry.Severity.IsAlert() {
		msg = "security alert"
	}
	a.logger.LogAttrs(ctx, pkglogger.SeverityLevel(entry.Severity), msg, pkglogger.AuditAttrs(entry)...)

	if a.archive != nil {
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		if err := a.archive.Archive(archiveCtx, entry); err != nil {
			a.logger.ErrorContext(ctx, "failed to archive audit entry",
				slog.String("audit_id", entry.ID),
				slog.Any("error", err))
		}
		cancel()
	}

	if a.notifier != nil && entry.Severity >= a.config.AlertMinSeverity {
		a.notifyWG.Add(1)
		go func() {
			defer a.notifyWG.Done()
			notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.notifier.Notify(notifyCtx, entry); err != nil {
				a.logger.Error("failed to deliver security alert",
					slog.String("audit_id", entry.ID),
					slog.Any("error", err))
			}
		}()
	}

	return entry
}

// Wait blocks until in-flight alert notifications finish
func (a *SecurityAuditLogger) Wait() {
	a.notifyWG.Wait()
}

// GetRecentLogs returns up to limit entries, newest first
func (a *SecurityAuditLogger) GetRecentLogs(_ context.Context, limit int) []models.AuditLogEntry {
	return a.store.Find(nil, clampLimit(limit))
}

// GetLogsByUser returns up to limit entries for userID, newest first
func (a *SecurityAuditLogger) GetLogsByUser(_ context.Context, userID string, limit int) []models.AuditLogEntry {
	return a.store.Find(func(e *models.AuditLogEntry) bool {
		return e.UserID == userID
	}, clampLimit(limit))
}

// GetArchivedLogsByUser reads userID's entries from the durable archive
func (a *SecurityAuditLogger) GetArchivedLogsByUser(ctx context.Context, userID string, limit, offset int) ([]models.AuditLogEntry, error) {
	if a.archive == nil {
		return nil, models.ErrNotFound
	}
	if offset < 0 {
		offset = 0
	}
	return a.archive.ListByUser(ctx, userID, clampLimit(limit), offset)
}

// GetSecurityAlerts returns up to limit high or critical entries, newest first
func (a *SecurityAuditLogger) GetSecurityAlerts(_ context.Context, limit int) []models.AuditLogEntry {
	return a.store.Find(func(e *models.AuditLogEntry) bool {
		return e.Severity.IsAlert()
	}, clampLimit(limit))
}

// GetArchivedSecurityAlerts reads high and critical entries from the durable
// archive, including those already rotated out of memory
func (a *SecurityAuditLogger) GetArchivedSecurityAlerts(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	if a.archive == nil {
		return nil, models.ErrNotFound
	}
	return a.archive.ListAlerts(ctx, models.SeverityHigh, clampLimit(limit))
}

// Sweep drops entries older than the retention window from memory and the archive
func (a *SecurityAuditLogger) Sweep(ctx context.Context) (int, error) {
	if a.config.Retention <= 0 {
		return 0, nil
	}

	cutoff := a.clock.Now().Add(-a.config.Retention)
	removed := a.store.DeleteBefore(cutoff)

	if a.archive != nil {
		archived, err := a.archive.DeleteBefore(ctx, cutoff)
		if err != nil {
			return removed, err
		}
		removed += int(archived)
	}

	return removed, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultAuditQueryLimit
	}
	if limit > MaxAuditQueryLimit {
		return MaxAuditQueryLimit
	}
	return limit
}
