package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sembalun/guard/internal/auth"
	"github.com/sembalun/guard/internal/clock"
	"github.com/sembalun/guard/internal/handlers"
	"github.com/sembalun/guard/internal/middleware"
	"github.com/sembalun/guard/internal/models"
	"github.com/sembalun/guard/internal/repositories"
	"github.com/sembalun/guard/internal/routes"
	"github.com/sembalun/guard/internal/services"
	pkgauth "github.com/sembalun/guard/pkg/auth"
	pkghttp "github.com/sembalun/guard/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	userEmail  = "dewi@sembalun.app"
	adminEmail = "admin@sembalun.app"
	password   = "SecureP@ss123"
)

type stack struct {
	router http.Handler
	clock  *clock.VirtualClock
	audit  *services.SecurityAuditLogger
}

func newStack(t *testing.T) *stack {
	t.Helper()

	vc := clock.NewVirtualClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hasher := pkgauth.NewHasher(bcrypt.MinCost)

	users := &services.MockUserRepository{}
	hash, err := hasher.Hash(password)
	require.NoError(t, err)
	for email, role := range map[string]string{userEmail: models.RoleUser, adminEmail: models.RoleAdmin} {
		_, err := users.Create(context.Background(), &models.User{
			Email: email, PasswordHash: hash, Name: role, Role: role, Status: models.UserStatusActive,
		})
		require.NoError(t, err)
	}

	limiter := services.NewRateLimiter(repositories.NewMemoryRateLimitRepository(), vc, logger)
	sessions := services.NewSessionSecurity(repositories.NewSessionRepository(), models.DefaultSessionPolicy(), vc, logger)
	audit := services.NewSecurityAuditLogger(repositories.NewAuditLogRepository(1000), nil, nil,
		services.AuditLoggerConfig{AlertMinSeverity: models.SeverityCritical}, vc, logger)
	tokens := auth.NewTokenManager("routes-test-secret-0123456789abcd", 2*time.Hour, vc)

	authService := services.NewAuthService(services.AuthServiceDeps{
		Users:    users,
		Hasher:   hasher,
		Tokens:   tokens,
		Limiter:  limiter,
		Sessions: sessions,
		Audit:    audit,
		Policy: services.LoginPolicy{
			PerEmail: models.RateLimitRule{Max: 5, Window: 15 * time.Minute},
			PerIP:    models.RateLimitRule{Max: 20, Window: 15 * time.Minute},
		},
		Clock:  vc,
		Logger: logger,
	})

	ipConfig := &pkghttp.IPConfig{}
	router := chi.NewRouter()
	routes.RegisterRoutes(router, routes.Handlers{
		Auth:      handlers.NewAuthHandler(authService, ipConfig, auth.CookieConfig{SameSite: "strict"}),
		Sessions:  handlers.NewSessionHandler(sessions, audit, ipConfig),
		Audit:     handlers.NewAuditHandler(audit, ipConfig),
		RateLimit: handlers.NewRateLimitHandler(limiter, audit, ipConfig),
		Health:    handlers.NewHealthHandler(nil),
	}, auth.SessionMiddleware(tokens, sessions, audit, ipConfig), middleware.DefaultRateLimitConfig(ipConfig))

	return &stack{router: router, clock: vc, audit: audit}
}

func (s *stack) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *stack) login(t *testing.T, email string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/auth/login", "", handlers.LoginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp services.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func sessionRejection(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusUnauthorized, w.Code)
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "session_invalid", resp.Error)
	return resp.Details
}

func TestLoginListLogout(t *testing.T) {
	s := newStack(t)
	token := s.login(t, userEmail)

	w := s.do(t, http.MethodGet, "/sessions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list handlers.SessionListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.True(t, list.Sessions[0].Current)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/auth/logout", token, nil).Code)

	// the token is still signed and unexpired but its session is gone
	assert.Equal(t, "not_found", sessionRejection(t, s.do(t, http.MethodGet, "/sessions", token, nil)))
}

func TestIdleSessionIsRejected(t *testing.T) {
	s := newStack(t)
	token := s.login(t, userEmail)

	s.clock.Advance(29 * time.Minute)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/sessions", token, nil).Code)

	// the request above refreshed activity
	s.clock.Advance(29 * time.Minute)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/sessions", token, nil).Code)

	s.clock.Advance(31 * time.Minute)
	assert.Equal(t, "idle", sessionRejection(t, s.do(t, http.MethodGet, "/sessions", token, nil)))

	rejected := 0
	for _, e := range s.audit.GetRecentLogs(context.Background(), 100) {
		if e.Event == models.AuditEventSessionRejected {
			rejected++
			assert.Equal(t, models.SeverityMedium, e.Severity)
		}
	}
	assert.Equal(t, 1, rejected)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	s := newStack(t)
	userToken := s.login(t, userEmail)
	adminToken := s.login(t, adminEmail)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/admin/audit/recent", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/admin/audit/recent", userToken, nil).Code)

	w := s.do(t, http.MethodGet, "/admin/audit/recent?limit=10", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs handlers.AuditLogListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	assert.GreaterOrEqual(t, logs.Count, 2)
}

func TestAdminUnblocksRateLimitedAccount(t *testing.T) {
	s := newStack(t)
	adminToken := s.login(t, adminEmail)

	for i := 0; i < 5; i++ {
		w := s.do(t, http.MethodPost, "/auth/login", "", handlers.LoginRequest{Email: userEmail, Password: "WrongP@ss123"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := s.do(t, http.MethodPost, "/auth/login", "", handlers.LoginRequest{Email: userEmail, Password: password})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = s.do(t, http.MethodDelete, "/admin/rate-limits/"+services.EmailRateLimitKey(userEmail), adminToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	s.login(t, userEmail)
}

func TestAdminRevokesUserSessions(t *testing.T) {
	s := newStack(t)
	userToken := s.login(t, userEmail)
	adminToken := s.login(t, adminEmail)

	w := s.do(t, http.MethodGet, "/sessions", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list handlers.SessionListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	userID := list.Sessions[0].UserID

	w = s.do(t, http.MethodDelete, "/admin/users/"+userID+"/sessions", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var revoked handlers.RevokedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &revoked))
	assert.Equal(t, 1, revoked.Revoked)

	assert.Equal(t, "not_found", sessionRejection(t, s.do(t, http.MethodGet, "/sessions", userToken, nil)))
}

func TestHealth(t *testing.T) {
	s := newStack(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil).Code)
}
