// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the two request limiters, both installed on API groups
// after authentication so authenticated devices are keyed by id alone:
//
//   - RateLimiter: an in-memory token bucket per caller that absorbs bursts
//     (golang.org/x/time/rate).
//   - DeviceQuota: the fixed-window per-device quota.
//
// Both skip requests that IdempotencyValidator marked as replays.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tbourn/pos-device-bridge/internal/observability"
	"github.com/tbourn/pos-device-bridge/internal/ratelimit"
)

// keyFunc selects the identity used to key a token bucket.
type keyFunc func(*gin.Context) string

// KeyByDeviceOrIP keys buckets by authenticated device when known, else by
// client IP.
func KeyByDeviceOrIP() keyFunc {
	return func(c *gin.Context) string {
		if id := DeviceIDFrom(c); id != 0 {
			return "device:" + strconv.FormatUint(uint64(id), 10)
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token bucket. Idle buckets are evicted after ttl
// during lookups. Safe for concurrent use.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    keyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst (minimum 1).
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

// getVisitor returns the bucket for key. Idle buckets are swept every 5000
// lookups, before the requested one is refreshed.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, vv := range rl.visitors {
			if now.Sub(vv.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether the request is an idempotent replay.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the bucket and answers 429 with Retry-After: 1 when empty.
// Denials report the burst size as X-RateLimit-Limit with nothing remaining.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	limit := strconv.Itoa(rl.burst)
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		if rl.getVisitor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", "0")
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success":     false,
			"request_id":  c.Writer.Header().Get(requestIDHeader),
			"code":        "rate_limited",
			"message":     "rate limit exceeded",
			"retry_after": 1,
		})
	}
}

// QuotaAllower decides one request against a fixed-window quota.
type QuotaAllower interface {
	Allow(ctx context.Context, identity string, limit int, window time.Duration) (ratelimit.Decision, error)
}

// DeviceQuota enforces limit requests per window per caller identity.
// Authenticated devices are keyed by id; anonymous callers by a hash of IP,
// User-Agent and path. Every response carries X-RateLimit-Limit and
// X-RateLimit-Remaining. Limiter failures let the request through with the
// limit and an unknown (-1) remaining count.
func DeviceQuota(l QuotaAllower, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 || IsRateBypass(c) {
			c.Next()
			return
		}
		deviceID := DeviceIDFrom(c)
		id := ratelimit.Identity(deviceID, c.ClientIP(), c.Request.UserAgent(), c.Request.URL.Path)

		d, err := l.Allow(c.Request.Context(), id, limit, window)
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Str("identity", identityKind(id)).Msg("rate limiter unavailable; allowing request")
			c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
			c.Header("X-RateLimit-Remaining", "-1")
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if d.Allowed {
			c.Next()
			return
		}

		secs := int((d.RetryAfter + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		observability.RateLimitDenied.WithLabelValues(identityKind(id)).Inc()
		LoggerFrom(c).Debug().Str("identity", identityKind(id)).Int("retry_after", secs).Msg("device quota exceeded")
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success":     false,
			"request_id":  c.Writer.Header().Get(requestIDHeader),
			"code":        "rate_limited",
			"message":     "Too many requests. Please slow down.",
			"retry_after": secs,
		})
	}
}

func identityKind(id string) string {
	kind, _, _ := strings.Cut(id, ":")
	return kind
}
