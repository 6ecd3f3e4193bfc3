package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/sembalun/guard/internal/auth"
	pkghttp "github.com/sembalun/guard/pkg/http"
)

// RateLimitConfig holds request-rate limits for the HTTP surface. These are a
// coarse flood guard in front of the per-account login limiter.
type RateLimitConfig struct {
	PublicRequestsPerMinute int
	UserRequestsPerMinute   int
	IPConfig                *pkghttp.IPConfig
}

// DefaultRateLimitConfig returns 10 requests/min for public auth routes and 120/min per signed-in user
func DefaultRateLimitConfig(ipConfig *pkghttp.IPConfig) RateLimitConfig {
	return RateLimitConfig{
		PublicRequestsPerMinute: 10,
		UserRequestsPerMinute:   120,
		IPConfig:                ipConfig,
	}
}

func limitHandler(w http.ResponseWriter, r *http.Request) {
	retryAfter := time.Minute
	if v := w.Header().Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	pkghttp.WriteRateLimited(w, "Too many requests", retryAfter)
}

// RateLimitByIP limits requests per client address. Forwarding headers are only
// trusted from configured proxies.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.PublicRequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(limitHandler),
	)
}

// RateLimitByUser limits requests per authenticated user, falling back to the
// client address when no claims are present
func RateLimitByUser(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.UserRequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
				return "user:" + claims.UserID, nil
			}
			return "ip:" + pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(limitHandler),
	)
}
