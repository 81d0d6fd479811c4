// Package middleware provides HTTP middleware components for the gramfront server.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitConfig is a fixed window budget: RequestsPerWindow requests per
// WindowDuration, both positive.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

func (c RateLimitConfig) Validate() error {
	switch {
	case c.RequestsPerWindow <= 0:
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	case c.WindowDuration <= 0:
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// Per-minute budgets. Attach and commit fan out to the object store, so they
// get the smallest one.
const (
	defaultGlobalPerMinute = 100
	defaultSearchPerMinute = 30
	defaultUploadPerMinute = 10
)

func perMinute(n int) RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: n, WindowDuration: time.Minute}
}

// DefaultGlobalLimit applies to every route.
func DefaultGlobalLimit() RateLimitConfig { return perMinute(defaultGlobalPerMinute) }

// DefaultUploadLimit applies to file attach and commit.
func DefaultUploadLimit() RateLimitConfig { return perMinute(defaultUploadPerMinute) }

// DefaultSearchLimit applies to the followings search.
func DefaultSearchLimit() RateLimitConfig { return perMinute(defaultSearchPerMinute) }

// RateLimitStore counts requests per key.
type RateLimitStore interface {
	// Allow counts one request for key. remaining is what is left of the
	// window; retryAfter, set only when blocked, is whole seconds until it
	// resets.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, retryAfter int)
}

type bucket struct {
	count     int
	windowEnd time.Time
}

// InMemoryRateLimitStore keeps one fixed window per key in process memory.
// Each replica limits on its own.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]bucket
}

func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{buckets: make(map[string]bucket)}
}

func (s *InMemoryRateLimitStore) Allow(_ context.Context, key string, config RateLimitConfig) (bool, int, int) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || now.After(b.windowEnd) {
		b = bucket{windowEnd: now.Add(config.WindowDuration)}
	}
	if b.count >= config.RequestsPerWindow {
		return false, 0, retryAfterSeconds(b.windowEnd.Sub(now))
	}
	b.count++
	s.buckets[key] = b
	return true, config.RequestsPerWindow - b.count, 0
}

// Cleanup drops buckets whose window has ended.
func (s *InMemoryRateLimitStore) Cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		if now.After(b.windowEnd) {
			delete(s.buckets, key)
		}
	}
}

// RunPeriodicCleanup calls Cleanup every interval until stop is closed. An
// interval of a few windows keeps the map small.
func (s *InMemoryRateLimitStore) RunPeriodicCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// fixedWindowScript counts a hit on KEYS[1], opening an ARGV[1] ms window on
// the first one, and returns {count, pttl}. A key that lost its TTL gets a
// fresh one.
var fixedWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

const redisRateLimitPrefix = "ratelimit:"

// RedisRateLimitStore shares windows across replicas. When Redis fails the
// request is let through and counted on Metrics.
type RedisRateLimitStore struct {
	client  redis.UniversalClient
	metrics *Metrics
}

func NewRedisRateLimitStore(client redis.UniversalClient) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

// WithMetrics counts Redis failures on m.
func (s *RedisRateLimitStore) WithMetrics(m *Metrics) *RedisRateLimitStore {
	s.metrics = m
	return s
}

func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	count, ttl, err := s.hit(ctx, key, config.WindowDuration)
	if err != nil {
		slog.WarnContext(ctx, "rate limit store unavailable, allowing request", "error", err)
		if s.metrics != nil {
			s.metrics.IncRateLimitRedisErrors()
		}
		return true, config.RequestsPerWindow, 0
	}
	if count > config.RequestsPerWindow {
		return false, 0, retryAfterSeconds(ttl)
	}
	return true, config.RequestsPerWindow - count, 0
}

func (s *RedisRateLimitStore) hit(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	res, err := fixedWindowScript.Run(ctx, s.client, []string{redisRateLimitPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected script result %v", res)
	}
	return int(res[0]), time.Duration(res[1]) * time.Millisecond, nil
}

// retryAfterSeconds rounds d up to whole seconds, never below 1.
func retryAfterSeconds(d time.Duration) int {
	return max(1, int((d+time.Second-1)/time.Second))
}

// KeyFunc picks the rate limit key for a request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc keys by client address: the first X-Forwarded-For hop, then
// X-Real-IP, then the connection's host.
func IPKeyFunc() KeyFunc {
	return clientIP
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// UserKeyFunc keys by viewer as "user:<id>", or "ip:<addr>" when the request
// carries no valid access token.
func UserKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		if id := GetUserID(r.Context()); id != "" {
			return "user:" + id
		}
		return "ip:" + clientIP(r)
	}
}

func keyType(key string) string {
	if strings.HasPrefix(key, "user:") {
		return "user"
	}
	return "ip"
}

// RateLimiter answers 429 with the error envelope once keyFunc's key runs
// out of budget. metrics may be nil.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	limit := strconv.Itoa(config.RequestsPerWindow)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			endpoint, kind := routeLabel(r), keyType(key)
			if metrics != nil {
				metrics.IncRateLimitRequests(endpoint, kind)
			}

			allowed, remaining, retryAfter := store.Allow(r.Context(), key, config)
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			if metrics != nil {
				metrics.IncRateLimitBlocked(endpoint, kind)
			}
			writeRateLimited(w, r, retryAfter)
		})
	}
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, retryAfter int) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), "rate_limited"))

	reset := time.Now().Add(time.Duration(retryAfter) * time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	body.Error.Code, body.Error.Message = "rate_limited", "Too many requests"
	_ = json.NewEncoder(w).Encode(body)
}
