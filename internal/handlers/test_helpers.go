package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sembalun/guard/internal/auth"
	"github.com/sembalun/guard/internal/models"
	"github.com/sembalun/guard/internal/services"
	pkghttp "github.com/sembalun/guard/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds session-bound user claims to the request context
func WithAuthContext(req *http.Request, userID, sessionID string) *http.Request {
	return withClaims(req, userID, sessionID, "user")
}

// WithAdminContext adds admin claims to the request context
func WithAdminContext(req *http.Request, userID, sessionID string) *http.Request {
	return withClaims(req, userID, sessionID, "admin")
}

func withClaims(req *http.Request, userID, sessionID, role string) *http.Request {
	claims := &models.TokenClaims{
		Type:      "access",
		UserID:    userID,
		Role:      role,
		SessionID: sessionID,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc     func(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResponse, error)
	RegisterFunc  func(ctx context.Context, email, password, name, ipAddress string) (*services.UserResponse, error)
	LogoutFunc    func(ctx context.Context, claims *models.TokenClaims, ipAddress string)
	LogoutAllFunc func(ctx context.Context, claims *models.TokenClaims, ipAddress string) int
}

func (m *MockAuthService) Login(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password, ipAddress, userAgent)
}

func (m *MockAuthService) Register(ctx context.Context, email, password, name, ipAddress string) (*services.UserResponse, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, email, password, name, ipAddress)
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims, ipAddress string) {
	if m.LogoutFunc != nil {
		m.LogoutFunc(ctx, claims, ipAddress)
	}
}

func (m *MockAuthService) LogoutAll(ctx context.Context, claims *models.TokenClaims, ipAddress string) int {
	if m.LogoutAllFunc == nil {
		return 0
	}
	return m.LogoutAllFunc(ctx, claims, ipAddress)
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	GetActiveSessionsFunc     func(ctx context.Context, userID string) []*models.Session
	RevokeUserSessionFunc     func(ctx context.Context, userID, sessionID string) bool
	RevokeAllUserSessionsFunc func(ctx context.Context, userID string) int
}

func (m *MockSessionService) GetActiveSessions(ctx context.Context, userID string) []*models.Session {
	if m.GetActiveSessionsFunc == nil {
		return nil
	}
	return m.GetActiveSessionsFunc(ctx, userID)
}

func (m *MockSessionService) RevokeUserSession(ctx context.Context, userID, sessionID string) bool {
	if m.RevokeUserSessionFunc == nil {
		return false
	}
	return m.RevokeUserSessionFunc(ctx, userID, sessionID)
}

func (m *MockSessionService) RevokeAllUserSessions(ctx context.Context, userID string) int {
	if m.RevokeAllUserSessionsFunc == nil {
		return 0
	}
	return m.RevokeAllUserSessionsFunc(ctx, userID)
}

// MockAuditService implements AuditServiceInterface and records every Log call
type MockAuditService struct {
	mu      sync.Mutex
	Entries []models.AuditLogEntry

	RecentFunc  func(ctx context.Context, limit int) []models.AuditLogEntry
	ByUserFunc  func(ctx context.Context, userID string, limit int) []models.AuditLogEntry
	ArchiveFunc func(ctx context.Context, userID string, limit, offset int) ([]models.AuditLogEntry, error)
	AlertsFunc  func(ctx context.Context, limit int) []models.AuditLogEntry

	ArchivedAlertsFunc func(ctx context.Context, limit int) ([]models.AuditLogEntry, error)
}

func (m *MockAuditService) Log(_ context.Context, event string, details map[string]interface{}, opts models.LogOptions) models.AuditLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := models.AuditLogEntry{
		ID:        "entry-" + event,
		Event:     event,
		Severity:  opts.Severity,
		UserID:    opts.UserID,
		SessionID: opts.SessionID,
		IPAddress: opts.IPAddress,
		Details:   details,
	}
	m.Entries = append(m.Entries, entry)
	return entry
}

// Last returns the most recent logged entry
func (m *MockAuditService) Last() (models.AuditLogEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Entries) == 0 {
		return models.AuditLogEntry{}, false
	}
	return m.Entries[len(m.Entries)-1], true
}

func (m *MockAuditService) GetRecentLogs(ctx context.Context, limit int) []models.AuditLogEntry {
	if m.RecentFunc == nil {
		return nil
	}
	return m.RecentFunc(ctx, limit)
}

func (m *MockAuditService) GetLogsByUser(ctx context.Context, userID string, limit int) []models.AuditLogEntry {
	if m.ByUserFunc == nil {
		return nil
	}
	return m.ByUserFunc(ctx, userID, limit)
}

func (m *MockAuditService) GetArchivedLogsByUser(ctx context.Context, userID string, limit, offset int) ([]models.AuditLogEntry, error) {
	if m.ArchiveFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ArchiveFunc(ctx, userID, limit, offset)
}

func (m *MockAuditService) GetSecurityAlerts(ctx context.Context, limit int) []models.AuditLogEntry {
	if m.AlertsFunc == nil {
		return nil
	}
	return m.AlertsFunc(ctx, limit)
}

// MockRateLimitResetter records reset keys
type MockRateLimitResetter struct {
	Keys []string
}

func (m *MockRateLimitResetter) ResetRateLimit(_ context.Context, key string) {
	m.Keys = append(m.Keys, key)
}

func (m *MockAuditService) GetArchivedSecurityAlerts(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	if m.ArchivedAlertsFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ArchivedAlertsFunc(ctx, limit)
}
