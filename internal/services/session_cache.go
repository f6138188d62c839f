package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/pos-device-bridge/internal/domain"
	"github.com/tbourn/pos-device-bridge/internal/observability"
	"github.com/tbourn/pos-device-bridge/internal/upstream"
)

// SessionCache holds the resolved upstream operating context for a short
// TTL. Concurrent misses share one resolution. Failures are never cached and
// never fall back to a stale context.
type SessionCache struct {
	Engine  upstream.Engine
	TTL     time.Duration
	Now     func() time.Time
	Timeout time.Duration

	mu      sync.RWMutex
	cached  *domain.SessionContext
	expires time.Time
	gen     uint64

	flight singleflight.Group
}

// NewSessionCache returns a cache over engine with the given TTL.
func NewSessionCache(engine upstream.Engine, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SessionCache{Engine: engine, TTL: ttl, Now: time.Now, Timeout: 10 * time.Second}
}

// Get returns the current SessionContext, resolving it on miss or expiry.
// It fails with ErrSessionNotFound when no complete context exists and with
// ErrUpstreamUnavailable when the engine cannot be queried.
func (c *SessionCache) Get(ctx context.Context) (*domain.SessionContext, error) {
	now := c.Now()

	c.mu.RLock()
	cached, expires, gen := c.cached, c.expires, c.gen
	c.mu.RUnlock()
	if cached != nil && now.Before(expires) {
		observability.SessionCache.WithLabelValues("hit").Inc()
		cp := *cached
		return &cp, nil
	}
	observability.SessionCache.WithLabelValues("miss").Inc()

	// Keyed by generation so an Invalidate during a flight starts a new one.
	v, err, _ := c.flight.Do("ctx:"+strconv.FormatUint(gen, 10), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.Timeout)
		defer cancel()

		sc, err := c.resolve(rctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.cached = sc
			c.expires = sc.ResolvedAt.Add(c.TTL)
		}
		c.mu.Unlock()
		return sc, nil
	})
	if err != nil {
		observability.SessionCache.WithLabelValues("failure").Inc()
		return nil, err
	}
	cp := *(v.(*domain.SessionContext))
	return &cp, nil
}

// Invalidate drops the cached context so the next Get rebuilds it.
func (c *SessionCache) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.expires = time.Time{}
	c.gen++
	c.mu.Unlock()
}

// resolve walks the dependency chain in order and stops at the first gap.
func (c *SessionCache) resolve(ctx context.Context) (*domain.SessionContext, error) {
	ctx, span := otel.Tracer("services/SessionCache").Start(ctx, "resolve")
	defer span.End()

	now := c.Now()
	fail := func(step string, err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, step)
		if errors.Is(err, upstream.ErrNoOpenSession) || errors.Is(err, upstream.ErrNotFound) {
			log.Error().Bool("alert", true).Str("component", "session_cache").Str("step", step).Err(err).
				Msg("no active session context; order creation is blocked")
			return fmt.Errorf("%w: %s: %v", ErrSessionNotFound, step, err)
		}
		log.Warn().Str("component", "session_cache").Str("step", step).Err(err).Msg("upstream lookup failed")
		return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, step, err)
	}

	term, err := c.Engine.Terminal(ctx)
	if err != nil {
		return nil, fail("terminal", err)
	}
	sess, err := c.Engine.ActiveSession(ctx, now)
	if err != nil {
		return nil, fail("session", err)
	}
	ts, err := c.Engine.TerminalSession(ctx, term.ID, sess.ID)
	if err != nil {
		return nil, fail("terminal_session", err)
	}
	shift, err := c.Engine.OpenEmployeeShift(ctx, sess.ID)
	if err != nil {
		return nil, fail("employee_shift", err)
	}
	tray, err := c.Engine.CashTraySession(ctx, term.ID, sess.ID)
	if err != nil {
		return nil, fail("cash_tray", err)
	}
	rev, err := c.Engine.RevenueConfig(ctx)
	if err != nil {
		return nil, fail("revenue", err)
	}

	span.SetAttributes(attribute.Int64("session.id", int64(sess.ID)))
	return &domain.SessionContext{
		Terminal:        *term,
		Session:         *sess,
		TerminalSession: *ts,
		EmployeeShift:   *shift,
		CashTray:        *tray,
		Revenue:         *rev,
		ResolvedAt:      now,
	}, nil
}
