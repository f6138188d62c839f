package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/domain"
	"github.com/tbourn/pos-device-bridge/internal/observability"
	"github.com/tbourn/pos-device-bridge/internal/repo"
)

// EventPublisher enqueues an event for durable broadcast.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// PendingJob is a print job together with the payload a relay prints from.
type PendingJob struct {
	Job     domain.PrintEvent   `json:"job"`
	Payload domain.PrintPayload `json:"payload"`
}

// BulkFailure names one order a bulk call could not update.
type BulkFailure struct {
	ID    uint   `json:"id"`
	Error string `json:"error"`
}

// BulkPrintResult reports per-order outcomes of MarkOrdersPrinted.
type BulkPrintResult struct {
	Updated []uint        `json:"updated"`
	Failed  []BulkFailure `json:"failed"`
}

// PrintQueue tracks print jobs from creation to acknowledgment. The retry
// policy is stored on each job row: attempts, the cap, and the earliest
// time of the next attempt.
type PrintQueue struct {
	DB     *gorm.DB
	Events EventPublisher

	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	RetryInterval time.Duration
	Currency      string
	Now           func() time.Time

	money *message.Printer
}

// NewPrintQueue returns a queue with a 3-attempt cap and 5s..5m backoff.
func NewPrintQueue(db *gorm.DB, events EventPublisher) *PrintQueue {
	return &PrintQueue{
		DB:            db,
		Events:        events,
		MaxAttempts:   3,
		BaseBackoff:   5 * time.Second,
		MaxBackoff:    5 * time.Minute,
		RetryInterval: 10 * time.Second,
		Now:           func() time.Time { return time.Now().UTC() },
		money:         message.NewPrinter(language.English),
	}
}

// Backoff returns the wait before attempt n+1 after n failures: BaseBackoff
// doubled per earlier failure, capped at MaxBackoff, without jitter so the
// stored next_attempt_at is reproducible.
func (q *PrintQueue) Backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     q.BaseBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         q.MaxBackoff,
	}
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < failures && d < q.MaxBackoff; i++ {
		d = b.NextBackOff()
	}
	return min(d, q.MaxBackoff)
}

// CreateJob records a print job for an order and publishes it on
// admin.print. items are the lines to print; for refills, the refill round.
func (q *PrintQueue) CreateJob(ctx context.Context, deviceOrderID uint, kind domain.PrintType, refill *int, items []domain.DeviceOrderItem) (*domain.PrintEvent, error) {
	ctx, span := otel.Tracer("services/PrintQueue").Start(ctx, "CreateJob")
	defer span.End()
	span.SetAttributes(attribute.Int64("device_order.id", int64(deviceOrderID)), attribute.String("print.type", string(kind)))

	order, err := repo.GetDeviceOrder(ctx, q.DB, deviceOrderID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if order.DeviceID == 0 {
		return nil, ErrMissingDevice
	}

	lines := toPrintItems(items)
	meta, err := json.Marshal(lines)
	if err != nil {
		return nil, err
	}
	pe := &domain.PrintEvent{
		DeviceOrderID: order.ID,
		EventType:     kind,
		RefillNumber:  refill,
		Meta:          datatypes.JSON(meta),
		Status:        domain.PrintPending,
		MaxAttempts:   q.maxAttempts(),
	}
	if err := repo.CreatePrintEvent(ctx, q.DB, pe); err != nil {
		span.RecordError(err)
		return nil, err
	}
	observability.PrintJobs.WithLabelValues("created").Inc()

	if err := q.publish(ctx, pe, order, lines); err != nil {
		// The job is durable and will be listed to relays; live fan-out is best-effort.
		log.Warn().Err(err).Str("component", "print_queue").Uint("print_event_id", pe.ID).Msg("print publish failed")
	}
	return pe, nil
}

// Ack marks a job acknowledged and the order printed. Repeated acks return
// the job unchanged.
func (q *PrintQueue) Ack(ctx context.Context, id uint) (*domain.PrintEvent, error) {
	ctx, span := otel.Tracer("services/PrintQueue").Start(ctx, "Ack")
	defer span.End()

	now := q.Now()
	err := q.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pe, err := repo.GetPrintEvent(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrPrintEventNotFound
		}
		if err != nil {
			return err
		}
		acked, err := repo.AckPrintEvent(ctx, tx, id, now)
		if err != nil || !acked {
			return err
		}
		if _, err := repo.MarkOrderPrinted(ctx, tx, pe.DeviceOrderID, now); err != nil {
			return err
		}
		if pe.Status == domain.PrintEscalated {
			log.Info().Str("component", "print_queue").Uint("print_event_id", id).Msg("escalated print job acknowledged late")
		}
		observability.PrintJobs.WithLabelValues("acknowledged").Inc()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return repo.GetPrintEvent(ctx, q.DB, id)
}

// Fail records a failed attempt. Below the cap the job is scheduled for
// retry with exponential backoff; reaching the cap escalates it. Failures on
// acknowledged jobs are ignored, and failures on escalated jobs return
// ErrPrintJobExhausted.
func (q *PrintQueue) Fail(ctx context.Context, id uint, reason string) (*domain.PrintEvent, error) {
	ctx, span := otel.Tracer("services/PrintQueue").Start(ctx, "Fail")
	defer span.End()

	for try := 0; try < 5; try++ {
		pe, err := repo.GetPrintEvent(ctx, q.DB, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPrintEventNotFound
		}
		if err != nil {
			return nil, err
		}
		if pe.IsAcknowledged {
			return pe, nil
		}
		limit := pe.MaxAttempts
		if limit <= 0 {
			limit = q.maxAttempts()
		}
		if pe.Status == domain.PrintEscalated || pe.Attempts >= limit {
			return pe, ErrPrintJobExhausted
		}

		now := q.Now()
		failures := pe.Attempts + 1
		status := domain.PrintRetrying
		var next *time.Time
		if failures >= limit {
			status = domain.PrintEscalated
		} else {
			t := now.Add(q.Backoff(failures))
			next = &t
		}

		ok, err := repo.RecordPrintFailure(ctx, q.DB, id, pe.Attempts, status, next, reason, now)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if !ok {
			continue // raced with another Fail or an Ack; re-evaluate
		}

		lg := log.With().Str("component", "print_queue").Uint("print_event_id", id).
			Int("attempts", failures).Str("reason", reason).Logger()
		if status == domain.PrintEscalated {
			observability.PrintJobs.WithLabelValues("escalated").Inc()
			lg.Error().Bool("alert", true).Uint("device_order_id", pe.DeviceOrderID).
				Msg("print job exhausted retries; operator action required")
		} else {
			observability.PrintJobs.WithLabelValues("retrying").Inc()
			lg.Warn().Time("next_attempt_at", *next).Msg("print attempt failed")
		}
		return repo.GetPrintEvent(ctx, q.DB, id)
	}
	return nil, fmt.Errorf("print event %d: too much contention", id)
}

// RetryDue republishes RETRYING jobs whose next attempt time has passed and
// returns how many were requeued.
func (q *PrintQueue) RetryDue(ctx context.Context) (int, error) {
	now := q.Now()
	due, err := repo.ListDuePrintRetries(ctx, q.DB, now, 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, pe := range due {
		ok, err := repo.RequeuePrintEvent(ctx, q.DB, pe.ID, now)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		n++
		observability.PrintJobs.WithLabelValues("requeued").Inc()

		order, err := repo.GetDeviceOrder(ctx, q.DB, pe.DeviceOrderID)
		if err != nil {
			log.Warn().Err(err).Str("component", "print_queue").Uint("print_event_id", pe.ID).Msg("requeued job has no readable order")
			continue
		}
		var lines []domain.PrintItem
		_ = json.Unmarshal(pe.Meta, &lines)
		pe.Status = domain.PrintPending
		if err := q.publish(ctx, &pe, order, lines); err != nil {
			log.Warn().Err(err).Str("component", "print_queue").Uint("print_event_id", pe.ID).Msg("retry publish failed")
		}
	}
	return n, nil
}

// RunRetries sweeps due retries every RetryInterval until ctx is done.
func (q *PrintQueue) RunRetries(ctx context.Context) {
	t := time.NewTicker(q.RetryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := q.RetryDue(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("component", "print_queue").Msg("retry sweep failed")
			}
		}
	}
}

// Heartbeat records device liveness. It touches nothing but the device row.
func (q *PrintQueue) Heartbeat(ctx context.Context, deviceID uint) error {
	err := repo.TouchHeartbeat(ctx, q.DB, deviceID, q.Now())
	if errors.Is(err, repo.ErrNotFound) {
		return ErrDeviceNotFound
	}
	return err
}

// Pending lists undelivered jobs with their printable payloads. Jobs still
// backing off are left out until their retry time.
func (q *PrintQueue) Pending(ctx context.Context, limit int) ([]PendingJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	jobs, err := repo.ListPendingPrintEvents(ctx, q.DB, q.Now(), limit)
	if err != nil {
		return nil, err
	}
	out := make([]PendingJob, 0, len(jobs))
	for _, pe := range jobs {
		if pe.DeviceOrder == nil {
			continue
		}
		var lines []domain.PrintItem
		_ = json.Unmarshal(pe.Meta, &lines)
		p := q.payload(&pe, pe.DeviceOrder, lines)
		pe.DeviceOrder = nil
		out = append(out, PendingJob{Job: pe, Payload: p})
	}
	return out, nil
}

// MarkOrderPrinted is the legacy direct path used by devices that print
// locally. deviceID 0 skips the ownership check.
func (q *PrintQueue) MarkOrderPrinted(ctx context.Context, deviceID, deviceOrderID uint) (bool, error) {
	order, err := repo.GetDeviceOrder(ctx, q.DB, deviceOrderID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, ErrOrderNotFound
	}
	if err != nil {
		return false, err
	}
	if deviceID != 0 && order.DeviceID != deviceID {
		return false, ErrForbidden
	}
	return repo.MarkOrderPrinted(ctx, q.DB, deviceOrderID, q.Now())
}

// MarkOrdersPrinted applies MarkOrderPrinted to each id independently.
func (q *PrintQueue) MarkOrdersPrinted(ctx context.Context, deviceID uint, ids []uint) BulkPrintResult {
	res := BulkPrintResult{Updated: []uint{}, Failed: []BulkFailure{}}
	for _, id := range ids {
		if _, err := q.MarkOrderPrinted(ctx, deviceID, id); err != nil {
			res.Failed = append(res.Failed, BulkFailure{ID: id, Error: err.Error()})
			continue
		}
		res.Updated = append(res.Updated, id)
	}
	return res
}

func (q *PrintQueue) maxAttempts() int {
	if q.MaxAttempts <= 0 {
		return 3
	}
	return q.MaxAttempts
}

func (q *PrintQueue) publish(ctx context.Context, pe *domain.PrintEvent, order *domain.DeviceOrder, lines []domain.PrintItem) error {
	if q.Events == nil {
		return nil
	}
	p := q.payload(pe, order, lines)
	if err := p.Validate(); err != nil {
		return err
	}
	id := pe.ID
	return q.Events.Publish(ctx, domain.Event{
		Channel:      domain.ChannelAdminPrint,
		Name:         domain.EventOrderPrinted,
		Payload:      p,
		PrintEventID: &id,
	})
}

func (q *PrintQueue) payload(pe *domain.PrintEvent, o *domain.DeviceOrder, lines []domain.PrintItem) domain.PrintPayload {
	if lines == nil {
		lines = []domain.PrintItem{}
	}
	return domain.PrintPayload{
		PrintEventID: pe.ID,
		DeviceID:     o.DeviceID,
		OrderID:      o.ID,
		SessionID:    o.SessionID,
		PrintType:    pe.EventType,
		RefillNumber: pe.RefillNumber,
		Order: domain.PrintOrderSummary{
			ID:             o.ID,
			OrderNumber:    o.OrderNumber,
			TableID:        o.TableID,
			GuestCount:     o.GuestCount,
			Subtotal:       o.Subtotal,
			Tax:            o.Tax,
			Total:          o.Total,
			TotalFormatted: q.formatMoney(o.Total),
			Status:         o.Status,
		},
		Items: lines,
	}
}

func (q *PrintQueue) formatMoney(v float64) string {
	p := q.money
	if p == nil {
		p = message.NewPrinter(language.English)
	}
	return q.Currency + p.Sprintf("%.2f", v)
}

func toPrintItems(items []domain.DeviceOrderItem) []domain.PrintItem {
	out := make([]domain.PrintItem, 0, len(items))
	for _, it := range items {
		out = append(out, domain.PrintItem{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.Price,
			Subtotal: it.Subtotal,
			Note:     it.Note,
		})
	}
	return out
}
