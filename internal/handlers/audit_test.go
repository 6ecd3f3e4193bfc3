package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sembalun/guard/internal/models"
	"github.com/sembalun/guard/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportEvent_SanitizesClientInput(t *testing.T) {
	audit := &MockAuditService{}
	h := NewAuditHandler(audit, nil)

	body := ClientEventRequest{
		Event:    "phishing_suspected",
		Severity: "high",
		Details: map[string]string{
			"url":  `<a href="javascript:alert(1)">https://evil.example</a>`,
			"note": "<script>steal()</script>clicked",
		},
	}
	req := WithAuthContext(NewTestRequest(t, http.MethodPost, "/audit/events", body), "user-1", "sess-1")
	w := httptest.NewRecorder()
	h.ReportEvent(w, req)

	var resp map[string]string
	AssertJSONResponse(t, w, http.StatusAccepted, &resp)
	assert.NotEmpty(t, resp["id"])

	entry, ok := audit.Last()
	require.True(t, ok)
	assert.Equal(t, models.AuditEventClientReported, entry.Event)
	assert.Equal(t, models.SeverityHigh, entry.Severity)
	assert.Equal(t, "sess-1", entry.SessionID)
	assert.Equal(t, "phishing_suspected", entry.Details["client_event"])
	assert.Equal(t, "https://evil.example", entry.Details["url"])
	assert.Equal(t, "clicked", entry.Details["note"])
}

func TestReportEvent_RejectsCriticalSeverity(t *testing.T) {
	audit := &MockAuditService{}
	h := NewAuditHandler(audit, nil)

	body := ClientEventRequest{Event: "tamper", Severity: "critical"}
	req := WithAuthContext(NewTestRequest(t, http.MethodPost, "/audit/events", body), "user-1", "sess-1")
	w := httptest.NewRecorder()
	h.ReportEvent(w, req)

	AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	_, logged := audit.Last()
	assert.False(t, logged)
}

func TestReportEvent_DefaultsToLowSeverity(t *testing.T) {
	audit := &MockAuditService{}
	h := NewAuditHandler(audit, nil)

	req := WithAuthContext(NewTestRequest(t, http.MethodPost, "/audit/events", ClientEventRequest{Event: "odd_redirect"}), "user-1", "sess-1")
	w := httptest.NewRecorder()
	h.ReportEvent(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	entry, ok := audit.Last()
	require.True(t, ok)
	assert.Equal(t, models.SeverityLow, entry.Severity)
}

func TestGetRecent_DefaultLimit(t *testing.T) {
	var gotLimit int
	audit := &MockAuditService{
		RecentFunc: func(_ context.Context, limit int) []models.AuditLogEntry {
			gotLimit = limit
			return []models.AuditLogEntry{{ID: "a"}, {ID: "b"}}
		},
	}
	w := httptest.NewRecorder()
	NewAuditHandler(audit, nil).GetRecent(w, httptest.NewRequest(http.MethodGet, "/admin/audit/recent", nil))

	var resp AuditLogListResponse
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, services.DefaultAuditQueryLimit, gotLimit)
	assert.Equal(t, 2, resp.Count)
}

func TestGetAlerts_EmptyIsArray(t *testing.T) {
	w := httptest.NewRecorder()
	NewAuditHandler(&MockAuditService{}, nil).GetAlerts(w, httptest.NewRequest(http.MethodGet, "/admin/audit/alerts?limit=5", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"logs":[]`)
}

func TestGetAlerts_Archive(t *testing.T) {
	audit := &MockAuditService{
		ArchivedAlertsFunc: func(_ context.Context, limit int) ([]models.AuditLogEntry, error) {
			assert.Equal(t, services.MaxAuditQueryLimit, limit)
			return []models.AuditLogEntry{{ID: "old", Severity: models.SeverityCritical}}, nil
		},
	}
	w := httptest.NewRecorder()
	NewAuditHandler(audit, nil).GetAlerts(w, httptest.NewRequest(http.MethodGet, "/admin/audit/alerts?source=archive&limit=1000", nil))

	var resp AuditLogListResponse
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "archive", resp.Source)
	assert.Equal(t, 1, resp.Count)

	w = httptest.NewRecorder()
	NewAuditHandler(&MockAuditService{}, nil).GetAlerts(w, httptest.NewRequest(http.MethodGet, "/admin/audit/alerts?source=archive", nil))
	AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

func TestGetUserLogs_Sources(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		archiveErr error
		wantStatus int
		wantSource string
	}{
		{"memory by default", "", nil, http.StatusOK, "memory"},
		{"archive", "?source=archive&offset=10&limit=5", nil, http.StatusOK, "archive"},
		{"archive disabled", "?source=archive", models.ErrNotFound, http.StatusNotFound, ""},
		{"archive failure", "?source=archive", fmt.Errorf("query: %w", models.ErrInternalServer), http.StatusInternalServerError, ""},
		{"negative offset", "?source=archive&offset=-1", nil, http.StatusBadRequest, ""},
		{"unknown source", "?source=disk", nil, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit := &MockAuditService{
				ByUserFunc: func(_ context.Context, userID string, _ int) []models.AuditLogEntry {
					return []models.AuditLogEntry{{ID: "mem", UserID: userID}}
				},
				ArchiveFunc: func(_ context.Context, userID string, limit, offset int) ([]models.AuditLogEntry, error) {
					if tt.archiveErr != nil {
						return nil, tt.archiveErr
					}
					assert.Equal(t, 5, limit)
					assert.Equal(t, 10, offset)
					return []models.AuditLogEntry{{ID: "db", UserID: userID}}, nil
				},
			}

			req := httptest.NewRequest(http.MethodGet, "/admin/audit/users/user-1"+tt.query, nil)
			req = WithChiRouteContext(req, map[string]string{"id": "user-1"})
			w := httptest.NewRecorder()
			NewAuditHandler(audit, nil).GetUserLogs(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantSource != "" {
				var resp AuditLogListResponse
				AssertJSONResponse(t, w, tt.wantStatus, &resp)
				assert.Equal(t, tt.wantSource, resp.Source)
				assert.Equal(t, 1, resp.Count)
			}
		})
	}
}
