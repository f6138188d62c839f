package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/domain"
	"github.com/tbourn/pos-device-bridge/internal/observability"
	"github.com/tbourn/pos-device-bridge/internal/repo"
)

// Deliverer pushes a persisted event to whoever is listening right now.
type Deliverer interface {
	Deliver(d domain.Delivery) error
}

// ReplayEvent is one entry of a replay response.
type ReplayEvent struct {
	ID        uint            `json:"id"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

type broadcastJob struct {
	rec       *domain.BroadcastEvent
	persisted bool // set by Dispatch; the worker only delivers
}

// shard is one FIFO lane. Every channel hashes to exactly one shard, so
// events on a channel are stamped, persisted and delivered in publish order.
type shard struct {
	mu    sync.Mutex // orders stamp+send among concurrent publishers
	queue chan broadcastJob
}

// Broadcaster appends every event to the replay log before attempting live
// delivery. Persistence and delivery happen on worker goroutines so callers
// only wait for a queue slot.
type Broadcaster struct {
	DB        *gorm.DB
	Deliverer Deliverer
	Workers   int

	// PersistTimeout bounds each append made by a worker.
	PersistTimeout time.Duration
	// Now stamps events at enqueue time; defaults to time.Now.
	Now func() time.Time

	shards []*shard
	mu     sync.RWMutex
	closed bool
	start  sync.Once
	wg     sync.WaitGroup
}

// NewBroadcaster returns a stopped broadcaster with one lane per worker.
// queueSize is the total capacity, split across lanes.
func NewBroadcaster(db *gorm.DB, d Deliverer, queueSize, workers int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 2
	}
	per := (queueSize + workers - 1) / workers
	shards := make([]*shard, workers)
	for i := range shards {
		shards[i] = &shard{queue: make(chan broadcastJob, per)}
	}
	return &Broadcaster{
		DB:             db,
		Deliverer:      d,
		Workers:        workers,
		PersistTimeout: 5 * time.Second,
		Now:            time.Now,
		shards:         shards,
	}
}

// Start launches one worker per lane. Calling it more than once has no
// effect.
func (b *Broadcaster) Start() {
	b.start.Do(func() {
		for i, sh := range b.shards {
			b.wg.Add(1)
			go b.worker(i, sh.queue)
		}
	})
}

// Stop refuses new events, lets workers drain what is queued, and waits.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for _, sh := range b.shards {
			close(sh.queue)
		}
	}
	b.mu.Unlock()
	b.Start() // a never-started broadcaster still drains
	b.wg.Wait()
}

// Publish enqueues ev for persistence and delivery. The event is encoded and
// timestamped here, so its replay position matches its publish order. It
// blocks only until the event is queued or ctx is done.
func (b *Broadcaster) Publish(ctx context.Context, ev domain.Event) error {
	if strings.TrimSpace(ev.Channel) == "" || strings.TrimSpace(ev.Name) == "" {
		return fmt.Errorf("%w: channel and event are required", ErrInvalidInput)
	}
	rec, err := toRecord(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return b.enqueue(ctx, broadcastJob{rec: rec})
}

// Dispatch enqueues live delivery of a record persisted elsewhere, typically
// by RecordTx inside a transaction that has since committed.
func (b *Broadcaster) Dispatch(ctx context.Context, rec *domain.BroadcastEvent) error {
	return b.enqueue(ctx, broadcastJob{rec: rec, persisted: true})
}

func (b *Broadcaster) enqueue(ctx context.Context, j broadcastJob) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrQueueClosed
	}
	sh := b.shardFor(j.rec.Channel)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !j.persisted {
		j.rec.CreatedAt = domain.EventTime(b.Now())
	}
	select {
	case sh.queue <- j:
		observability.BroadcastQueueDepth.Inc()
		return nil
	case <-ctx.Done():
		observability.BroadcastEvents.WithLabelValues("dropped").Inc()
		return ctx.Err()
	}
}

func (b *Broadcaster) shardFor(channel string) *shard {
	if len(b.shards) == 1 {
		return b.shards[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(channel))
	return b.shards[h.Sum32()%uint32(len(b.shards))]
}

// RecordTx appends ev to the replay log using tx, so the record commits or
// rolls back with the caller's state change.
func (b *Broadcaster) RecordTx(ctx context.Context, tx *gorm.DB, ev domain.Event) (*domain.BroadcastEvent, error) {
	rec, err := toRecord(ev)
	if err != nil {
		return nil, err
	}
	if err := repo.AppendBroadcastEvent(ctx, tx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Replay returns every event on channel created at or after since, oldest
// first. It is a pure read and may be repeated freely.
func (b *Broadcaster) Replay(ctx context.Context, channel string, since time.Time) ([]ReplayEvent, error) {
	ctx, span := otel.Tracer("services/Broadcaster").Start(ctx, "Replay")
	defer span.End()
	span.SetAttributes(attribute.String("channel", channel))

	if strings.TrimSpace(channel) == "" {
		return nil, fmt.Errorf("%w: channel is required", ErrInvalidInput)
	}
	rows, err := repo.ListBroadcastEventsSince(ctx, b.DB, channel, since, 0)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := make([]ReplayEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, ReplayEvent{
			ID:        r.ID,
			Event:     r.Event,
			Payload:   json.RawMessage(r.Payload),
			Timestamp: r.CreatedAt,
		})
	}
	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}

func (b *Broadcaster) worker(n int, queue <-chan broadcastJob) {
	defer b.wg.Done()
	lg := log.With().Str("component", "broadcaster").Int("worker", n).Logger()

	for j := range queue {
		observability.BroadcastQueueDepth.Dec()

		rec := j.rec
		if !j.persisted {
			if err := b.persist(rec); err != nil {
				// Only replayable events are delivered live.
				observability.BroadcastEvents.WithLabelValues("persist_failed").Inc()
				lg.Error().Err(err).Str("channel", rec.Channel).Str("event", rec.Event).Msg("broadcast persist failed")
				continue
			}
			observability.BroadcastEvents.WithLabelValues("persisted").Inc()
		}

		if b.Deliverer == nil {
			continue
		}
		err := b.Deliverer.Deliver(domain.Delivery{
			ID:        rec.ID,
			Channel:   rec.Channel,
			Event:     rec.Event,
			Payload:   json.RawMessage(rec.Payload),
			Timestamp: rec.CreatedAt,
		})
		if err != nil {
			observability.BroadcastEvents.WithLabelValues("delivery_failed").Inc()
			lg.Warn().Err(err).Str("channel", rec.Channel).Uint("id", rec.ID).Msg("live delivery failed; event remains replayable")
			continue
		}
		observability.BroadcastEvents.WithLabelValues("delivered").Inc()
	}
}

func (b *Broadcaster) persist(rec *domain.BroadcastEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.PersistTimeout)
	defer cancel()
	return repo.AppendBroadcastEvent(ctx, b.DB, rec)
}

func toRecord(ev domain.Event) (*domain.BroadcastEvent, error) {
	var raw []byte
	switch p := ev.Payload.(type) {
	case json.RawMessage:
		raw = p
	case datatypes.JSON:
		raw = p
	case nil:
		raw = []byte("{}")
	default:
		var err error
		if raw, err = json.Marshal(p); err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", ev.Name, err)
		}
	}
	if !json.Valid(raw) {
		return nil, errors.New("broadcast payload is not valid JSON")
	}
	return &domain.BroadcastEvent{
		Channel:      ev.Channel,
		Event:        ev.Name,
		Payload:      datatypes.JSON(raw),
		PrintEventID: ev.PrintEventID,
		CreatedAt:    domain.EventTime(time.Now()),
	}, nil
}
