package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sembalun/guard/internal/clock"
	"github.com/sembalun/guard/internal/models"
	"github.com/sembalun/guard/internal/repositories"
	"github.com/sembalun/guard/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type auditFixture struct {
	logger   *services.SecurityAuditLogger
	store    *repositories.AuditLogRepository
	archive  *services.MockAuditArchive
	notifier *services.MockAlertNotifier
	clock    *clock.VirtualClock
}

func newAuditFixture(capacity int) *auditFixture {
	f := &auditFixture{
		store:    repositories.NewAuditLogRepository(capacity),
		archive:  &services.MockAuditArchive{},
		notifier: &services.MockAlertNotifier{},
		clock:    clock.NewVirtualClock(epoch),
	}
	f.logger = services.NewSecurityAuditLogger(f.store, f.archive, f.notifier, services.AuditLoggerConfig{
		Retention:        24 * time.Hour,
		AlertMinSeverity: models.SeverityCritical,
	}, f.clock, testLogger())
	return f
}

func TestAuditLogger_CriticalIsAlertLowIsNot(t *testing.T) {
	f := newAuditFixture(100)
	ctx := context.Background()

	low := f.logger.Log(ctx, models.AuditEventLoginSuccess, nil, models.LogOptions{UserID: "u1"})
	critical := f.logger.Log(ctx, "token_forgery_detected", map[string]interface{}{"alg": "none"},
		models.LogOptions{UserID: "u1", Severity: models.SeverityCritical})

	alerts := f.logger.GetSecurityAlerts(ctx, 10)
	require.Len(t, alerts, 1)
	assert.Equal(t, critical.ID, alerts[0].ID)
	assert.NotEqual(t, low.ID, alerts[0].ID)
}

func TestAuditLogger_DefaultsAndFields(t *testing.T) {
	f := newAuditFixture(100)

	entry := f.logger.Log(context.Background(), models.AuditEventLogout, nil, models.LogOptions{
		UserID:    "u1",
		SessionID: "s1",
		IPAddress: "203.0.113.1",
	})

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, epoch, entry.Timestamp)
	assert.Equal(t, models.SeverityLow, entry.Severity)
	assert.Equal(t, "s1", entry.SessionID)
	assert.NotNil(t, entry.Details)
}

func TestAuditLogger_QueriesAreNewestFirst(t *testing.T) {
	f := newAuditFixture(100)
	ctx := context.Background()

	for _, user := range []string{"u1", "u2", "u1", "u2", "u1"} {
		f.logger.Log(ctx, models.AuditEventLoginSuccess, map[string]interface{}{"user": user}, models.LogOptions{UserID: user})
		f.clock.Advance(time.Second)
	}

	recent := f.logger.GetRecentLogs(ctx, 3)
	require.Len(t, recent, 3)
	assert.True(t, recent[0].Timestamp.After(recent[1].Timestamp))
	assert.True(t, recent[1].Timestamp.After(recent[2].Timestamp))

	byUser := f.logger.GetLogsByUser(ctx, "u1", 10)
	require.Len(t, byUser, 3)
	for _, e := range byUser {
		assert.Equal(t, "u1", e.UserID)
	}
	assert.Equal(t, epoch.Add(4*time.Second), byUser[0].Timestamp)

	assert.Empty(t, f.logger.GetLogsByUser(ctx, "u9", 10))
}

func TestAuditLogger_DefaultLimit(t *testing.T) {
	f := newAuditFixture(500)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		f.logger.Log(ctx, models.AuditEventLoginFailed, nil, models.LogOptions{})
	}

	assert.Len(t, f.logger.GetRecentLogs(ctx, 0), services.DefaultAuditQueryLimit)
	assert.Len(t, f.logger.GetRecentLogs(ctx, -5), services.DefaultAuditQueryLimit)
	assert.Len(t, f.logger.GetRecentLogs(ctx, 5000), 150)
}

func TestAuditLogger_RingBufferDropsOldest(t *testing.T) {
	f := newAuditFixture(3)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, f.logger.Log(ctx, models.AuditEventLoginFailed, nil, models.LogOptions{}).ID)
		f.clock.Advance(time.Second)
	}

	recent := f.logger.GetRecentLogs(ctx, 10)
	require.Len(t, recent, 3)
	assert.Equal(t, []string{ids[4], ids[3], ids[2]}, []string{recent[0].ID, recent[1].ID, recent[2].ID})
}

func TestAuditLogger_ArchivesEveryEntry(t *testing.T) {
	f := newAuditFixture(10)
	ctx := context.Background()

	f.logger.Log(ctx, models.AuditEventLoginSuccess, nil, models.LogOptions{UserID: "u1"})
	f.logger.Log(ctx, models.AuditEventLogout, nil, models.LogOptions{UserID: "u1"})

	assert.Len(t, f.archive.Archived, 2)

	archived, err := f.logger.GetArchivedLogsByUser(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, archived, 2)
	assert.Equal(t, models.AuditEventLogout, archived[0].Event)
}

func TestAuditLogger_ArchivedAlertsSurviveRotation(t *testing.T) {
	f := newAuditFixture(2)
	ctx := context.Background()

	f.logger.Log(ctx, models.AuditEventLoginRateLimited, nil, models.LogOptions{Severity: models.SeverityHigh})
	f.logger.Log(ctx, models.AuditEventLoginSuccess, nil, models.LogOptions{})
	f.logger.Log(ctx, models.AuditEventLoginSuccess, nil, models.LogOptions{})

	assert.Empty(t, f.logger.GetSecurityAlerts(ctx, 10))

	alerts, err := f.logger.GetArchivedSecurityAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AuditEventLoginRateLimited, alerts[0].Event)
}

func TestAuditLogger_ArchiveFailureIsSwallowed(t *testing.T) {
	f := newAuditFixture(10)
	f.archive.ArchiveErr = errors.New("connection reset")

	entry := f.logger.Log(context.Background(), models.AuditEventLoginFailed, nil, models.LogOptions{})

	assert.NotEmpty(t, entry.ID)
	assert.Len(t, f.logger.GetRecentLogs(context.Background(), 10), 1)
}

func TestAuditLogger_WithoutArchive(t *testing.T) {
	store := repositories.NewAuditLogRepository(10)
	logger := services.NewSecurityAuditLogger(store, nil, nil, services.AuditLoggerConfig{}, clock.NewVirtualClock(epoch), testLogger())

	logger.Log(context.Background(), models.AuditEventLoginFailed, nil, models.LogOptions{Severity: models.SeverityCritical})

	_, err := logger.GetArchivedLogsByUser(context.Background(), "u1", 10, 0)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = logger.GetArchivedSecurityAlerts(context.Background(), 10)
	assert.ErrorIs(t, err, models.ErrNotFound)

	removed, err := logger.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestAuditLogger_NotifiesAtMinimumSeverity(t *testing.T) {
	f := newAuditFixture(10)
	ctx := context.Background()

	f.logger.Log(ctx, models.AuditEventLoginRateLimited, nil, models.LogOptions{Severity: models.SeverityHigh})
	f.logger.Log(ctx, "token_forgery_detected", nil, models.LogOptions{Severity: models.SeverityCritical})
	f.logger.Wait()

	require.Equal(t, 1, f.notifier.Count())
	assert.Equal(t, "token_forgery_detected", f.notifier.Notified[0].Event)
}

func TestAuditLogger_SweepHonoursRetention(t *testing.T) {
	f := newAuditFixture(10)
	ctx := context.Background()

	f.logger.Log(ctx, models.AuditEventLoginFailed, nil, models.LogOptions{})
	f.clock.Advance(20 * time.Hour)
	f.logger.Log(ctx, models.AuditEventLoginFailed, nil, models.LogOptions{})
	f.clock.Advance(5 * time.Hour)

	removed, err := f.logger.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Len(t, f.logger.GetRecentLogs(ctx, 10), 1)

	require.Len(t, f.archive.Cutoffs, 1)
	assert.Equal(t, epoch.Add(time.Hour), f.archive.Cutoffs[0])
}

func TestAuditLogger_DetailsAreCopied(t *testing.T) {
	f := newAuditFixture(100)
	ctx := context.Background()

	details := map[string]interface{}{"reason": "idle"}
	entry := f.logger.Log(ctx, models.AuditEventLogout, details, models.LogOptions{UserID: "u1"})

	details["reason"] = "changed"
	details["extra"] = true

	assert.Equal(t, "idle", entry.Details["reason"])
	stored := f.logger.GetLogsByUser(ctx, "u1", 10)
	require.Len(t, stored, 1)
	assert.Equal(t, "idle", stored[0].Details["reason"])
	assert.NotContains(t, stored[0].Details, "extra")
}
