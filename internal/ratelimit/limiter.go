package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Decision is the outcome of one Allow call. Remaining never goes negative.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter applies fixed-window quotas on top of a Store.
type Limiter struct {
	store Store
}

// New returns a Limiter backed by store.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Allow counts one call for identity and decides whether it fits within
// limit calls per window. Store failures are returned with an allowing
// Decision so callers can fail open.
func (l *Limiter) Allow(ctx context.Context, identity string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit}, nil
	}
	n, ttl, err := l.store.Incr(ctx, "rl:"+identity, window)
	if err != nil {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, err
	}
	d := Decision{Limit: limit, Remaining: limit - n}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if n <= limit {
		d.Allowed = true
		return d, nil
	}
	d.RetryAfter = ttl
	if d.RetryAfter <= 0 {
		d.RetryAfter = time.Second
	}
	return d, nil
}

// Identity derives the quota key for a caller. Authenticated devices are
// keyed by device id alone, so nothing the client sends in headers can move
// them into another bucket. Anonymous callers are keyed by a hash of their
// network address, client signature, and path.
func Identity(deviceID uint, ip, userAgent, path string) string {
	if deviceID != 0 {
		return "device:" + strconv.FormatUint(uint64(deviceID), 10)
	}
	sum := sha256.Sum256([]byte(ip + "|" + userAgent + "|" + path))
	return "anon:" + hex.EncodeToString(sum[:])
}
