package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sembalun/guard/internal/auth"
	"github.com/sembalun/guard/internal/clock"
	"github.com/sembalun/guard/internal/models"
	pkgauth "github.com/sembalun/guard/pkg/auth"
	pkglogger "github.com/sembalun/guard/pkg/logger"
)

// UserRepository defines the user lookups the auth flow needs
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

// PasswordHasher hashes and verifies passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) error
}

// LoginPolicy bounds login attempts per account and per client address
type LoginPolicy struct {
	PerEmail models.RateLimitRule
	PerIP    models.RateLimitRule
}

// RateLimitedError is returned when a login is refused by the rate limiter
type RateLimitedError struct {
	Scope      string // "email" or "ip"
	ResetTime  time.Time
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many login attempts (%s), retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error {
	return models.ErrRateLimitExceeded
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// AuthResponse represents the response from a successful login
type AuthResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Session     *models.Session `json:"session"`
	User        *UserResponse   `json:"user"`
}

// AuthService runs the login flow on top of the rate limiter, session store and audit log
type AuthService struct {
	users    UserRepository
	hasher   PasswordHasher
	tm       *auth.TokenManager
	limiter  *RateLimiter
	sessions *SessionSecurity
	audit    *SecurityAuditLogger
	timing   *auth.TimingDelay
	policy   LoginPolicy
	clock    clock.Clock
	logger   *slog.Logger
}

// AuthServiceDeps groups the collaborators of AuthService
type AuthServiceDeps struct {
	Users    UserRepository
	Hasher   PasswordHasher
	Tokens   *auth.TokenManager
	Limiter  *RateLimiter
	Sessions *SessionSecurity
	Audit    *SecurityAuditLogger
	Timing   *auth.TimingDelay
	Policy   LoginPolicy
	Clock    clock.Clock
	Logger   *slog.Logger
}

func NewAuthService(deps AuthServiceDeps) *AuthService {
	return &AuthService{
		users:    deps.Users,
		hasher:   deps.Hasher,
		tm:       deps.Tokens,
		limiter:  deps.Limiter,
		sessions: deps.Sessions,
		audit:    deps.Audit,
		timing:   deps.Timing,
		policy:   deps.Policy,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
}

// EmailRateLimitKey is the limiter key for login attempts against one account
func EmailRateLimitKey(email string) string {
	return "login:" + normalizeEmail(email)
}

// IPRateLimitKey is the limiter key for login attempts from one client address
func IPRateLimitKey(ip string) string {
	return "login-ip:" + ip
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login authenticates email/password and opens a new session
func (s *AuthService) Login(ctx context.Context, email, password, ipAddress, userAgent string) (*AuthResponse, error) {
	start := time.Now()
	email = normalizeEmail(email)
	if email == "" {
		return nil, models.ErrUnauthorized
	}

	if err := s.checkLoginLimits(ctx, email, ipAddress); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.loginFailed(ctx, start, "", email, ipAddress, "invalid_credentials")
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		s.loginFailed(ctx, start, user.ID, email, ipAddress, "invalid_credentials")
		return nil, models.ErrUnauthorized
	}

	if user.Status == models.UserStatusDisabled {
		s.loginFailed(ctx, start, user.ID, email, ipAddress, "account_disabled")
		return nil, models.ErrAccountDisabled
	}

	s.limiter.ResetRateLimit(ctx, EmailRateLimitKey(email))

	sessionID := uuid.New().String()
	session := s.sessions.CreateSession(ctx, user.ID, sessionID, models.SessionMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	})

	token, expiresAt, err := s.tm.GenerateAccessToken(user, sessionID)
	if err != nil {
		s.sessions.RevokeSession(ctx, sessionID)
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Log(ctx, models.AuditEventLoginSuccess, nil, models.LogOptions{
		UserID:    user.ID,
		SessionID: sessionID,
		IPAddress: ipAddress,
		Severity:  models.SeverityLow,
	})
	s.logger.Info("user logged in", slog.String("user_id", user.ID))

	return &AuthResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		Session:     session,
		User:        userModelToResponse(user),
	}, nil
}

func (s *AuthService) checkLoginLimits(ctx context.Context, email, ipAddress string) error {
	checks := []struct {
		scope string
		key   string
		rule  models.RateLimitRule
	}{
		{"email", EmailRateLimitKey(email), s.policy.PerEmail},
		{"ip", IPRateLimitKey(ipAddress), s.policy.PerIP},
	}

	for _, c := range checks {
		result := s.limiter.CheckRateLimit(ctx, c.key, c.rule)
		if result.Allowed {
			continue
		}

		s.audit.Log(ctx, models.AuditEventLoginRateLimited, map[string]interface{}{
			"scope":      c.scope,
			"email":      pkglogger.SanitizedEmail(email),
			"reset_time": result.ResetTime.UTC().Format(time.RFC3339),
		}, models.LogOptions{
			IPAddress: ipAddress,
			Severity:  models.SeverityHigh,
		})

		return &RateLimitedError{
			Scope:      c.scope,
			ResetTime:  result.ResetTime,
			RetryAfter: result.RetryAfter(s.clock.Now()),
		}
	}

	return nil
}

func (s *AuthService) loginFailed(ctx context.Context, start time.Time, userID, email, ipAddress, reason string) {
	s.audit.Log(ctx, models.AuditEventLoginFailed, map[string]interface{}{
		"reason": reason,
		"email":  pkglogger.SanitizedEmail(email),
	}, models.LogOptions{
		UserID:    userID,
		IPAddress: ipAddress,
		Severity:  models.SeverityMedium,
	})

	if s.timing != nil {
		s.timing.WaitFrom(start, false)
	}
}

// Register creates a new account with the default role
func (s *AuthService) Register(ctx context.Context, email, password, name, ipAddress string) (*UserResponse, error) {
	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user, err := s.users.Create(ctx, &models.User{
		Email:        normalizeEmail(email),
		PasswordHash: hash,
		Name:         strings.TrimSpace(name),
		Role:         models.RoleUser,
		Status:       models.UserStatusActive,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Log(ctx, models.AuditEventRegister, nil, models.LogOptions{
		UserID:    user.ID,
		IPAddress: ipAddress,
	})

	return userModelToResponse(user), nil
}

// Logout revokes the caller's current session
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims, ipAddress string) {
	revoked := s.sessions.RevokeSession(ctx, claims.SessionID)

	s.audit.Log(ctx, models.AuditEventLogout, map[string]interface{}{
		"revoked": revoked,
	}, models.LogOptions{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		IPAddress: ipAddress,
	})
}

// LogoutAll revokes every session of the caller and returns how many were removed
func (s *AuthService) LogoutAll(ctx context.Context, claims *models.TokenClaims, ipAddress string) int {
	count := s.sessions.RevokeAllUserSessions(ctx, claims.UserID)

	s.audit.Log(ctx, models.AuditEventLogoutAll, map[string]interface{}{
		"sessions_revoked": count,
	}, models.LogOptions{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		IPAddress: ipAddress,
		Severity:  models.SeverityMedium,
	})

	return count
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
	}
}
