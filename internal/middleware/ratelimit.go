package middleware

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitConfig defines the rate limiting configuration.
type RateLimitConfig struct {
	// RequestsPerWindow is the maximum number of requests allowed per
	// window. Must be > 0.
	RequestsPerWindow int
	// WindowDuration is the time window for the rate limit. Must be > 0.
	WindowDuration time.Duration
}

// Validate checks that the RateLimitConfig has valid values.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// defaultGlobalLimit is the default global rate limit.
var defaultGlobalLimit = RateLimitConfig{
	RequestsPerWindow: 100,
	WindowDuration:    time.Minute,
}

// defaultPaymentLimit is the default limit for mutating payment endpoints.
var defaultPaymentLimit = RateLimitConfig{
	RequestsPerWindow: 30,
	WindowDuration:    time.Minute,
}

// DefaultGlobalLimit returns a copy of the default global rate limit config.
func DefaultGlobalLimit() RateLimitConfig {
	return defaultGlobalLimit
}

// DefaultPaymentLimit returns a copy of the default payment endpoint rate
// limit config.
func DefaultPaymentLimit() RateLimitConfig {
	return defaultPaymentLimit
}

// RateLimitStore defines the interface for rate limit state storage.
// This allows for different backends (in-memory, Redis, etc.).
type RateLimitStore interface {
	// Allow checks if a request from the given key should be allowed.
	// Returns whether it is allowed, the remaining quota in the current
	// window, and the number of seconds until the limit resets.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, retryAfter int)
}

// bucket represents a rate limit bucket for a single key.
type bucket struct {
	count     int
	windowEnd time.Time
}

// InMemoryRateLimitStore implements RateLimitStore using a fixed window
// counter. Thread-safe for concurrent access.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		buckets: make(map[string]*bucket),
	}
}

// Allow implements the RateLimitStore interface.
func (s *InMemoryRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	b, exists := s.buckets[key]
	if !exists || now.After(b.windowEnd) {
		s.buckets[key] = &bucket{
			count:     1,
			windowEnd: now.Add(config.WindowDuration),
		}
		return true, config.RequestsPerWindow - 1, 0
	}

	if b.count >= config.RequestsPerWindow {
		retryAfter := int(time.Until(b.windowEnd).Seconds()) + 1
		return false, 0, retryAfter
	}

	b.count++
	return true, config.RequestsPerWindow - b.count, 0
}

// RedisRateLimitStore implements RateLimitStore backed by Redis, so limits
// hold across replicas. It fails open: if Redis is unreachable the request
// is allowed rather than blocking traffic on a cache outage.
type RedisRateLimitStore struct {
	client *redis.Client
}

// NewRedisRateLimitStore creates a new Redis-backed rate limit store.
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

// Allow implements the RateLimitStore interface using INCR with a window
// TTL set on first increment.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return true, config.RequestsPerWindow, 0
	}

	if count == 1 {
		if err := s.client.Expire(ctx, key, config.WindowDuration).Err(); err != nil {
			return true, config.RequestsPerWindow - 1, 0
		}
	}

	if int(count) > config.RequestsPerWindow {
		ttl, err := s.client.TTL(ctx, key).Result()
		retryAfter := int(config.WindowDuration.Seconds())
		if err == nil && ttl > 0 {
			retryAfter = int(ttl.Seconds()) + 1
		}
		return false, 0, retryAfter
	}

	return true, config.RequestsPerWindow - int(count), 0
}

// RateLimit returns a middleware that applies the given limit per client.
// The key is the authenticated organization when present, otherwise the
// client IP, so one noisy tenant cannot exhaust another's quota.
func RateLimit(store RateLimitStore, config RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetOrgID(r.Context())
			if key == "" {
				key = clientIP(r)
			}
			key = "ratelimit:" + NormalizePath(r.URL.Path) + ":" + key

			allowed, remaining, retryAfter := store.Allow(r.Context(), key, config)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				SetErrorCode(r.Context(), "rate_limited")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				io.WriteString(w, `{"error":{"code":"rate_limited","message":"Too many requests"}}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client IP, preferring X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
