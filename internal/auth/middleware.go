package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sembalun/guard/internal/models"
	pkghttp "github.com/sembalun/guard/pkg/http"
)

type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
)

// SessionGuard validates and refreshes server-side sessions
type SessionGuard interface {
	ValidateSession(ctx context.Context, sessionID string) models.SessionValidation
	UpdateActivity(ctx context.Context, sessionID string)
}

// AuditRecorder records security events
type AuditRecorder interface {
	Log(ctx context.Context, event string, details map[string]interface{}, opts models.LogOptions) models.AuditLogEntry
}

// SessionMiddleware verifies the access token, then checks that its session is
// still live. Live sessions have their activity refreshed before the handler runs.
func SessionMiddleware(tm *TokenManager, sessions SessionGuard, audit AuditRecorder, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing credentials")
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			validation := sessions.ValidateSession(r.Context(), claims.SessionID)
			if !validation.IsValid {
				severity := models.SeverityMedium
				if validation.Kind == models.SessionNotFound {
					// signed token for a session we never issued or already revoked
					severity = models.SeverityHigh
				}
				audit.Log(r.Context(), models.AuditEventSessionRejected,
					map[string]interface{}{"reason": validation.Reason, "path": r.URL.Path},
					models.LogOptions{
						UserID:    claims.UserID,
						SessionID: claims.SessionID,
						IPAddress: pkghttp.ExtractClientIP(r, ipConfig),
						Severity:  severity,
					})
				pkghttp.WriteSessionRejected(w, validation.Reason)
				return
			}

			sessions.UpdateActivity(r.Context(), claims.SessionID)

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole rejects callers whose token does not carry role. Must run after SessionMiddleware.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			if claims.Role != role {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// WithClaims returns a copy of ctx carrying claims
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// extractToken prefers the Authorization header and falls back to the session cookie
func extractToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}

	if token, err := GetSessionCookie(r); err == nil && token != "" {
		return token, true
	}
	return "", false
}
