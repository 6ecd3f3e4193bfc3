package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sembalun/guard/internal/database"
	"github.com/sembalun/guard/internal/models"
)

const auditColumns = `id, event, severity, user_id, session_id, ip_address, details, created_at`

// AuditArchiveRepository persists audit entries to Postgres so they outlive the process
type AuditArchiveRepository struct {
	pool *pgxpool.Pool
}

// NewAuditArchiveRepository creates a new AuditArchiveRepository
func NewAuditArchiveRepository(db *database.DB) *AuditArchiveRepository {
	return &AuditArchiveRepository{pool: db.Pool}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanAuditEntry(row rowScanner) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	var userID, sessionID, ipAddress *string
	var severity int16

	err := row.Scan(
		&entry.ID, &entry.Event, &severity, &userID, &sessionID,
		&ipAddress, &entry.Details, &entry.Timestamp,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	entry.Severity = models.Severity(severity)
	if userID != nil {
		entry.UserID = *userID
	}
	if sessionID != nil {
		entry.SessionID = *sessionID
	}
	if ipAddress != nil {
		entry.IPAddress = *ipAddress
	}
	return &entry, nil
}

func scanAuditEntries(rows pgx.Rows) ([]models.AuditLogEntry, error) {
	defer rows.Close()

	entries := make([]models.AuditLogEntry, 0)
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}
	return entries, nil
}

// Archive inserts one entry; re-archiving the same ID is ignored
func (r *AuditArchiveRepository) Archive(ctx context.Context, entry models.AuditLogEntry) error {
	query := `
		INSERT INTO security_audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.Event, int16(entry.Severity),
		nullable(entry.UserID), nullable(entry.SessionID), nullable(entry.IPAddress),
		entry.Details, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to archive audit entry: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListByUser returns a user's archived entries, newest first
func (r *AuditArchiveRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.AuditLogEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM security_audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit archive: %w", err)
	}
	return scanAuditEntries(rows)
}

// ListAlerts returns archived entries at or above minSeverity, newest first
func (r *AuditArchiveRepository) ListAlerts(ctx context.Context, minSeverity models.Severity, limit int) ([]models.AuditLogEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM security_audit_logs
		WHERE severity >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, int16(minSeverity), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit alerts: %w", err)
	}
	return scanAuditEntries(rows)
}

// DeleteBefore removes archived entries older than cutoff
func (r *AuditArchiveRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM security_audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
