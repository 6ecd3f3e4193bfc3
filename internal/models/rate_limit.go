package models

import "time"

// RateLimitRecord tracks attempts for one key within the current window
type RateLimitRecord struct {
	Count     int       `json:"count"`
	ResetTime time.Time `json:"reset_time"`
}

// Expired reports whether the window has closed at now
func (r RateLimitRecord) Expired(now time.Time) bool {
	return !now.Before(r.ResetTime)
}

// RateLimitRule bounds attempts per window
type RateLimitRule struct {
	Max    int
	Window time.Duration
}

// RateLimitKind tags the outcome of a rate limit check
type RateLimitKind string

const (
	RateLimitAllowed RateLimitKind = "allowed"
	RateLimitLimited RateLimitKind = "rate_limited"
)

// RateLimitResult is the outcome of a single CheckRateLimit call.
// A denied attempt is a value, never an error.
type RateLimitResult struct {
	Kind      RateLimitKind `json:"kind"`
	Allowed   bool          `json:"allowed"`
	Remaining int           `json:"remaining"`
	Limit     int           `json:"limit"`
	ResetTime time.Time     `json:"reset_time"`
}

// RetryAfter returns how long the caller must wait before the window resets
func (r RateLimitResult) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || !r.ResetTime.After(now) {
		return 0
	}
	return r.ResetTime.Sub(now)
}

// AllowedResult builds a result for an admitted attempt
func AllowedResult(limit, remaining int, resetTime time.Time) RateLimitResult {
	return RateLimitResult{
		Kind:      RateLimitAllowed,
		Allowed:   true,
		Remaining: remaining,
		Limit:     limit,
		ResetTime: resetTime,
	}
}

// LimitedResult builds a result for a rejected attempt
func LimitedResult(limit int, resetTime time.Time) RateLimitResult {
	return RateLimitResult{
		Kind:      RateLimitLimited,
		Allowed:   false,
		Remaining: 0,
		Limit:     limit,
		ResetTime: resetTime,
	}
}

// Valid reports whether the rule can admit at least one attempt per window
func (r RateLimitRule) Valid() bool {
	return r.Max > 0 && r.Window > 0
}

// ApplyAttempt advances a fixed-window counter by one attempt at now.
// found is false when no record exists for the key yet. The returned record
// must be stored back by the caller in the same critical section.
func ApplyAttempt(rec RateLimitRecord, found bool, rule RateLimitRule, now time.Time) (RateLimitRecord, RateLimitResult) {
	if !found || rec.Expired(now) {
		rec = RateLimitRecord{Count: 1, ResetTime: now.Add(rule.Window)}
		return rec, AllowedResult(rule.Max, rule.Max-1, rec.ResetTime)
	}

	if rec.Count >= rule.Max {
		return rec, LimitedResult(rule.Max, rec.ResetTime)
	}

	rec.Count++
	return rec, AllowedResult(rule.Max, rule.Max-rec.Count, rec.ResetTime)
}
