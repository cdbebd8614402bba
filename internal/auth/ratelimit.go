package auth

import (
	"context"
	"strings"
	"time"

	"github.com/auxora-tech/casa-saas/internal/obs"
)

// Counter is an atomic fixed-window counter service.
type Counter interface {
	// Increment adds one to key, starting a window of the given length on the first hit,
	// and returns the new count and the time left in the window.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Reset(ctx context.Context, key string) error
}

// LimitAction names a rate limited operation.
type LimitAction string

const (
	LimitMagicLink LimitAction = "magic_link"
	LimitSignup    LimitAction = "signup"
)

// LimitScope names the key a counter is partitioned by.
type LimitScope string

const (
	ScopeEmail  LimitScope = "email"
	ScopeOrigin LimitScope = "ip"
)

// LimitRule caps attempts per scope within Window.
type LimitRule struct {
	Scope LimitScope
	Limit int64
}

// DefaultLimitWindow is the window shared by every rule.
const DefaultLimitWindow = time.Hour

// DefaultLimits are the thresholds applied per action.
var DefaultLimits = map[LimitAction][]LimitRule{
	LimitMagicLink: {{Scope: ScopeEmail, Limit: 3}, {Scope: ScopeOrigin, Limit: 10}},
	LimitSignup:    {{Scope: ScopeOrigin, Limit: 5}},
}

// RateLimiter enforces independent per-email and per-origin counters.
type RateLimiter struct {
	counter Counter
	window  time.Duration
	rules   map[LimitAction][]LimitRule
}

// NewRateLimiter returns a limiter using DefaultLimits over counter.
func NewRateLimiter(counter Counter) *RateLimiter {
	return &RateLimiter{counter: counter, window: DefaultLimitWindow, rules: DefaultLimits}
}

// Check counts one attempt against every rule of action and fails with RateLimited
// if any counter is over its limit. All counters are incremented either way.
func (l *RateLimiter) Check(ctx context.Context, action LimitAction, email, ip string) error {
	var retryAfter time.Duration
	limited := false
	for _, rule := range l.rules[action] {
		value := scopeValue(rule.Scope, email, ip)
		if value == "" {
			continue
		}
		count, ttl, err := l.counter.Increment(ctx, limitKey(action, rule.Scope, value), l.window)
		if err != nil {
			return dependencyFailure("rate limiter unavailable", err)
		}
		if count > rule.Limit {
			limited = true
			obs.RateLimited.WithLabelValues(string(action), string(rule.Scope)).Inc()
			if ttl <= 0 {
				ttl = l.window
			}
			if ttl > retryAfter {
				retryAfter = ttl
			}
		}
	}
	if !limited {
		return nil
	}
	return &Error{
		Kind:       KindRateLimited,
		Message:    "too many requests, please try again later",
		RetryAfter: retryAfter,
	}
}

// Reset clears one counter.
func (l *RateLimiter) Reset(ctx context.Context, action LimitAction, scope LimitScope, value string) error {
	return l.counter.Reset(ctx, limitKey(action, scope, value))
}

func scopeValue(scope LimitScope, email, ip string) string {
	switch scope {
	case ScopeEmail:
		return NormalizeEmail(email)
	case ScopeOrigin:
		if ip = strings.TrimSpace(ip); ip == "" {
			return "unknown"
		}
		return ip
	}
	return ""
}

func limitKey(action LimitAction, scope LimitScope, value string) string {
	return "rl:" + string(action) + ":" + string(scope) + ":" + value
}
