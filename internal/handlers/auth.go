package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/sembalun/guard/internal/auth"
	"github.com/sembalun/guard/internal/models"
	"github.com/sembalun/guard/internal/services"
	pkghttp "github.com/sembalun/guard/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResponse, error)
	Register(ctx context.Context, email, password, name, ipAddress string) (*services.UserResponse, error)
	Logout(ctx context.Context, claims *models.TokenClaims, ipAddress string)
	LogoutAll(ctx context.Context, claims *models.TokenClaims, ipAddress string) int
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service      AuthServiceInterface
	ipConfig     *pkghttp.IPConfig
	cookieConfig auth.CookieConfig
}

func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, cookieConfig auth.CookieConfig) *AuthHandler {
	return &AuthHandler{
		service:      service,
		ipConfig:     ipConfig,
		cookieConfig: cookieConfig,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
}

// LogoutAllResponse reports how many sessions were closed
type LogoutAllResponse struct {
	SessionsRevoked int `json:"sessions_revoked"`
}

// Login authenticates the caller and opens a session
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, w, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	authResp, err := h.service.Login(r.Context(), req.Email, req.Password, ipAddress, pkghttp.ExtractUserAgent(r))
	if err != nil {
		var rle *services.RateLimitedError
		switch {
		case errors.As(err, &rle):
			pkghttp.WriteRateLimited(w, "Too many login attempts. Please try again later.", rle.RetryAfter)
		case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrAccountDisabled):
			// one message for every credential problem so accounts cannot be enumerated
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	auth.SetSessionCookie(w, authResp.AccessToken, authResp.ExpiresAt, h.cookieConfig)
	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// Register creates an account. Duplicate e-mails get the same response as new ones.
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, w, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name, pkghttp.ExtractClientIP(r, h.ipConfig))
	switch {
	case err == nil, errors.Is(err, models.ErrConflict):
		pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
			"message": "Registration received. You can sign in once your account is active.",
		})
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Password does not meet the strength requirements")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// Logout closes the caller's current session
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	h.service.Logout(r.Context(), claims, pkghttp.ExtractClientIP(r, h.ipConfig))
	auth.ClearSessionCookie(w, h.cookieConfig)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll closes every session of the caller, including the current one
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	count := h.service.LogoutAll(r.Context(), claims, pkghttp.ExtractClientIP(r, h.ipConfig))
	auth.ClearSessionCookie(w, h.cookieConfig)
	pkghttp.WriteJSON(w, http.StatusOK, LogoutAllResponse{SessionsRevoked: count})
}
