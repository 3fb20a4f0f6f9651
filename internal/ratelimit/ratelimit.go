// Package ratelimit provides fixed-window rate limiting for login and payment initiation.
// When no store is configured every check passes, and store errors fail open.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Store is the minimal counter interface the limiter needs.
type Store interface {
	// Incr atomically increments a counter key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the TTL on a key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time-to-live on a key.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Limiter performs rate limit checks against a Store.
type Limiter struct {
	store Store
}

// New creates a Limiter backed by store. A nil store allows everything.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Enabled reports whether checks are enforced.
func (l *Limiter) Enabled() bool { return l != nil && l.store != nil }

// Allow counts one request for scope/key and reports whether it fits within
// limit per window. When refused, retryAfter is the seconds until the window resets.
func (l *Limiter) Allow(ctx context.Context, scope, key string, limit int, window time.Duration) (allowed bool, retryAfter int) {
	if !l.Enabled() || limit <= 0 {
		return true, 0
	}

	k := fmt.Sprintf("rl:%s:%s", scope, key)
	count, err := l.store.Incr(ctx, k)
	if err != nil {
		return true, 0
	}
	if count == 1 {
		_ = l.store.Expire(ctx, k, window)
	}
	if count <= int64(limit) {
		return true, 0
	}

	ttl, _ := l.store.TTL(ctx, k)
	retry := int(ttl.Seconds())
	if retry < 1 {
		retry = int(window.Seconds())
	}
	return false, retry
}

// ClientIP extracts the caller address, honouring the first X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
