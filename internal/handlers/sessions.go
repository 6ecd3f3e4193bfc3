package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sembalun/guard/internal/auth"
	"github.com/sembalun/guard/internal/models"
	pkghttp "github.com/sembalun/guard/pkg/http"
)

// SessionServiceInterface is the part of SessionSecurity the HTTP layer uses
type SessionServiceInterface interface {
	GetActiveSessions(ctx context.Context, userID string) []*models.Session
	RevokeUserSession(ctx context.Context, userID, sessionID string) bool
	RevokeAllUserSessions(ctx context.Context, userID string) int
}

// SessionHandler serves session listing and revocation
type SessionHandler struct {
	sessions SessionServiceInterface
	audit    auth.AuditRecorder
	ipConfig *pkghttp.IPConfig
}

func NewSessionHandler(sessions SessionServiceInterface, audit auth.AuditRecorder, ipConfig *pkghttp.IPConfig) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		audit:    audit,
		ipConfig: ipConfig,
	}
}

// SessionResponse is a session as shown to its owner
type SessionResponse struct {
	*models.Session
	Current bool `json:"current"`
}

// SessionListResponse wraps a list of sessions
type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Count    int               `json:"count"`
}

// RevokedResponse reports how many sessions were revoked
type RevokedResponse struct {
	Revoked int `json:"revoked"`
}

func toSessionList(sessions []*models.Session, currentID string) SessionListResponse {
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionResponse{Session: s, Current: s.ID == currentID})
	}
	return SessionListResponse{Sessions: out, Count: len(out)}
}

// ListMine returns the caller's sessions, most recently active first
// @Router /sessions [get]
func (h *SessionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessions := h.sessions.GetActiveSessions(r.Context(), claims.UserID)
	pkghttp.WriteJSON(w, http.StatusOK, toSessionList(sessions, claims.SessionID))
}

// RevokeMine revokes one of the caller's sessions. Another user's session id
// is answered exactly like an unknown one.
// @Router /sessions/{id} [delete]
func (h *SessionHandler) RevokeMine(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "id"))
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "session id is required")
		return
	}

	if !h.sessions.RevokeUserSession(r.Context(), claims.UserID, sessionID) {
		pkghttp.WriteNotFound(w, "session not found")
		return
	}

	h.audit.Log(r.Context(), models.AuditEventSessionRevoked, map[string]interface{}{
		"revoked_session_id": sessionID,
		"current":            sessionID == claims.SessionID,
	}, models.LogOptions{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
	})

	w.WriteHeader(http.StatusNoContent)
}

// ListForUser lets an admin inspect another user's sessions
// @Router /admin/users/{id}/sessions [get]
func (h *SessionHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user id is required")
		return
	}

	sessions := h.sessions.GetActiveSessions(r.Context(), userID)
	pkghttp.WriteJSON(w, http.StatusOK, toSessionList(sessions, ""))
}

// RevokeAllForUser lets an admin force a user to sign in again everywhere
// @Router /admin/users/{id}/sessions [delete]
func (h *SessionHandler) RevokeAllForUser(w http.ResponseWriter, r *http.Request) {
	admin := auth.GetUserFromContext(r)
	if admin == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user id is required")
		return
	}

	count := h.sessions.RevokeAllUserSessions(r.Context(), userID)

	h.audit.Log(r.Context(), models.AuditEventSessionRevoked, map[string]interface{}{
		"target_user_id":   userID,
		"sessions_revoked": count,
		"admin_id":         admin.UserID,
	}, models.LogOptions{
		UserID:    userID,
		SessionID: admin.SessionID,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		Severity:  models.SeverityMedium,
	})

	pkghttp.WriteJSON(w, http.StatusOK, RevokedResponse{Revoked: count})
}

// RateLimitResetter clears a throttling window
type RateLimitResetter interface {
	ResetRateLimit(ctx context.Context, key string)
}

// RateLimitHandler exposes manual unblocking to admins
type RateLimitHandler struct {
	limiter  RateLimitResetter
	audit    auth.AuditRecorder
	ipConfig *pkghttp.IPConfig
}

func NewRateLimitHandler(limiter RateLimitResetter, audit auth.AuditRecorder, ipConfig *pkghttp.IPConfig) *RateLimitHandler {
	return &RateLimitHandler{
		limiter:  limiter,
		audit:    audit,
		ipConfig: ipConfig,
	}
}

// Reset clears the window for a key such as "login:alice@example.com"
// @Router /admin/rate-limits/{key} [delete]
func (h *RateLimitHandler) Reset(w http.ResponseWriter, r *http.Request) {
	admin := auth.GetUserFromContext(r)
	if admin == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || strings.TrimSpace(key) == "" {
		pkghttp.WriteBadRequest(w, "rate limit key is required")
		return
	}

	h.limiter.ResetRateLimit(r.Context(), key)

	h.audit.Log(r.Context(), models.AuditEventRateLimitReset, map[string]interface{}{
		"key":      key,
		"admin_id": admin.UserID,
	}, models.LogOptions{
		UserID:    admin.UserID,
		SessionID: admin.SessionID,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		Severity:  models.SeverityMedium,
	})

	w.WriteHeader(http.StatusNoContent)
}
