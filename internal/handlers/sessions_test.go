package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sembalun/guard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMine_MarksCurrentSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &MockSessionService{
		GetActiveSessionsFunc: func(_ context.Context, userID string) []*models.Session {
			assert.Equal(t, "user-1", userID)
			return []*models.Session{
				{ID: "sess-2", UserID: userID, CreatedAt: now, LastActivity: now},
				{ID: "sess-1", UserID: userID, CreatedAt: now, LastActivity: now.Add(-time.Minute)},
			}
		},
	}
	h := NewSessionHandler(svc, &MockAuditService{}, nil)

	req := WithAuthContext(httptest.NewRequest(http.MethodGet, "/sessions", nil), "user-1", "sess-1")
	w := httptest.NewRecorder()
	h.ListMine(w, req)

	var resp SessionListResponse
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.Equal(t, 2, resp.Count)
	assert.False(t, resp.Sessions[0].Current)
	assert.True(t, resp.Sessions[1].Current)
}

func TestRevokeMine(t *testing.T) {
	tests := []struct {
		name       string
		owned      bool
		wantStatus int
		wantAudit  bool
	}{
		{"own session", true, http.StatusNoContent, true},
		{"foreign or unknown session", false, http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit := &MockAuditService{}
			svc := &MockSessionService{
				RevokeUserSessionFunc: func(_ context.Context, userID, sessionID string) bool {
					assert.Equal(t, "user-1", userID)
					assert.Equal(t, "sess-9", sessionID)
					return tt.owned
				},
			}
			h := NewSessionHandler(svc, audit, nil)

			req := WithAuthContext(httptest.NewRequest(http.MethodDelete, "/sessions/sess-9", nil), "user-1", "sess-1")
			req = WithChiRouteContext(req, map[string]string{"id": "sess-9"})
			w := httptest.NewRecorder()
			h.RevokeMine(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			entry, logged := audit.Last()
			assert.Equal(t, tt.wantAudit, logged)
			if tt.wantAudit {
				assert.Equal(t, models.AuditEventSessionRevoked, entry.Event)
				assert.Equal(t, "sess-9", entry.Details["revoked_session_id"])
			}
		})
	}
}

func TestRevokeAllForUser_AuditsAdmin(t *testing.T) {
	audit := &MockAuditService{}
	svc := &MockSessionService{
		RevokeAllUserSessionsFunc: func(_ context.Context, userID string) int {
			assert.Equal(t, "user-7", userID)
			return 4
		},
	}
	h := NewSessionHandler(svc, audit, nil)

	req := WithAdminContext(httptest.NewRequest(http.MethodDelete, "/admin/users/user-7/sessions", nil), "admin-1", "sess-a")
	req = WithChiRouteContext(req, map[string]string{"id": "user-7"})
	w := httptest.NewRecorder()
	h.RevokeAllForUser(w, req)

	var resp RevokedResponse
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 4, resp.Revoked)

	entry, ok := audit.Last()
	require.True(t, ok)
	assert.Equal(t, models.SeverityMedium, entry.Severity)
	assert.Equal(t, "user-7", entry.UserID)
	assert.Equal(t, "admin-1", entry.Details["admin_id"])
}

func TestRateLimitReset_UnescapesKey(t *testing.T) {
	audit := &MockAuditService{}
	limiter := &MockRateLimitResetter{}
	h := NewRateLimitHandler(limiter, audit, nil)

	req := WithAdminContext(httptest.NewRequest(http.MethodDelete, "/admin/rate-limits/login:alice%40example.com", nil), "admin-1", "sess-a")
	req = WithChiRouteContext(req, map[string]string{"key": "login:alice%40example.com"})
	w := httptest.NewRecorder()
	h.Reset(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"login:alice@example.com"}, limiter.Keys)

	entry, ok := audit.Last()
	require.True(t, ok)
	assert.Equal(t, models.AuditEventRateLimitReset, entry.Event)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantState  string
	}{
		{"healthy", nil, http.StatusOK, "ok"},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(map[string]Pinger{"database": pingerFunc(func(context.Context) error { return tt.err }), "redis": nil})
			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			var resp HealthResponse
			AssertJSONResponse(t, w, tt.wantStatus, &resp)
			assert.Equal(t, tt.wantState, resp.Status)
			assert.NotContains(t, resp.Checks, "redis")
		})
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }
