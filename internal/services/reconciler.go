package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/domain"
	"github.com/tbourn/pos-device-bridge/internal/observability"
	"github.com/tbourn/pos-device-bridge/internal/repo"
)

// EventRecorder appends events inside a caller's transaction and hands the
// committed records to live delivery.
type EventRecorder interface {
	RecordTx(ctx context.Context, tx *gorm.DB, ev domain.Event) (*domain.BroadcastEvent, error)
	Dispatch(ctx context.Context, rec *domain.BroadcastEvent) error
}

// Row outcomes, also used as metric labels.
const (
	outcomeApplied           = "applied"
	outcomeClaimedElsewhere  = "claimed_elsewhere"
	outcomeMissingOrder      = "missing_order"
	outcomeInvalidTransition = "invalid_transition"
	outcomeError             = "error"
)

var errStatusMoved = errors.New("order status changed concurrently")

// ReconcileResult summarizes one cycle.
type ReconcileResult struct {
	Scanned           int `json:"scanned"`
	Applied           int `json:"applied"`
	ClaimedElsewhere  int `json:"claimed_elsewhere"`
	MissingOrder      int `json:"missing_order"`
	InvalidTransition int `json:"invalid_transition"`
	Failed            int `json:"failed"`
}

// Reconciler turns closed upstream change-log rows into DeviceOrder status
// transitions. Each row is claimed with a conditional update, so any number
// of reconcilers may run against the same table and every row is applied at
// most once.
//
// Rows that cannot be applied (no matching order, or a transition the table
// forbids) stay claimed and undeleted for an operator to inspect. Rows whose
// transaction fails are rolled back, claim included, and retried next cycle.
type Reconciler struct {
	DB        *gorm.DB
	Events    EventRecorder
	Interval  time.Duration
	BatchSize int

	mu   sync.Mutex
	idle bool
}

// NewReconciler returns a reconciler polling every interval.
func NewReconciler(db *gorm.DB, events EventRecorder, interval time.Duration, batch int) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Reconciler{DB: db, Events: events, Interval: interval, BatchSize: batch}
}

// Run reconciles on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	lg := log.With().Str("component", "reconciler").Logger()
	lg.Info().Dur("interval", r.Interval).Msg("reconciler started")

	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			lg.Error().Err(err).Msg("reconcile cycle skipped")
		}
		select {
		case <-ctx.Done():
			lg.Info().Msg("reconciler stopped")
			return
		case <-t.C:
		}
	}
}

// RunOnce processes one batch of pending rows. An error means the batch
// could not be read at all; per-row failures are counted in the result.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileResult, error) {
	ctx, span := otel.Tracer("services/Reconciler").Start(ctx, "RunOnce")
	defer span.End()
	lg := log.With().Str("component", "reconciler").Logger()

	var res ReconcileResult
	rows, err := repo.ListPendingUpdateLogs(ctx, r.DB, r.BatchSize)
	if err != nil {
		observability.ReconcileCycles.WithLabelValues("error").Inc()
		span.RecordError(err)
		return res, fmt.Errorf("list pending update logs: %w", err)
	}
	res.Scanned = len(rows)
	span.SetAttributes(attribute.Int("rows", len(rows)))

	r.mu.Lock()
	if len(rows) == 0 {
		if !r.idle {
			lg.Info().Msg("no pending order updates")
		}
		r.idle = true
		r.mu.Unlock()
		observability.ReconcileCycles.WithLabelValues("empty").Inc()
		return res, nil
	}
	r.idle = false
	r.mu.Unlock()

	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		outcome, err := r.apply(ctx, lg, row)
		observability.ReconcileRows.WithLabelValues(outcome).Inc()
		switch outcome {
		case outcomeApplied:
			res.Applied++
		case outcomeClaimedElsewhere:
			res.ClaimedElsewhere++
		case outcomeMissingOrder:
			res.MissingOrder++
		case outcomeInvalidTransition:
			res.InvalidTransition++
		default:
			res.Failed++
			lg.Error().Err(err).Uint("log_id", row.ID).Uint("order_id", row.OrderID).Msg("update log rolled back; will retry")
		}
	}

	if res.MissingOrder+res.InvalidTransition > 0 {
		if stale, err := repo.CountStaleUpdateLogs(ctx, r.DB); err == nil {
			observability.ReconcileStaleRows.Set(float64(stale))
			lg.Warn().Int64("stale_rows", stale).Msg("update logs kept for operator attention")
		}
	}

	observability.ReconcileCycles.WithLabelValues("ok").Inc()
	lg.Debug().
		Int("scanned", res.Scanned).
		Int("applied", res.Applied).
		Int("failed", res.Failed).
		Msg("reconcile cycle done")
	return res, nil
}

func (r *Reconciler) apply(ctx context.Context, lg zerolog.Logger, row domain.OrderUpdateLog) (string, error) {
	outcome := outcomeApplied
	var rec *domain.BroadcastEvent

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := repo.ClaimUpdateLog(ctx, tx, row.ID)
		if err != nil {
			return err
		}
		if !claimed {
			outcome = outcomeClaimedElsewhere
			return nil
		}

		order, err := repo.GetDeviceOrderByOrderID(ctx, tx, row.OrderID)
		if errors.Is(err, repo.ErrNotFound) {
			outcome = outcomeMissingOrder
			lg.Error().Uint("log_id", row.ID).Uint("order_id", row.OrderID).
				Msg("update log references unknown order; left for operator")
			return nil
		}
		if err != nil {
			return err
		}

		target, name := domain.OrderCompleted, domain.EventOrderCompleted
		if row.IsVoided {
			target, name = domain.OrderVoided, domain.EventOrderVoided
		}
		if !domain.CanTransitionOrder(order.Status, target) {
			outcome = outcomeInvalidTransition
			lg.Warn().Uint("log_id", row.ID).Uint("order_id", row.OrderID).
				Str("from", string(order.Status)).Str("to", string(target)).
				Msg("update log requests a forbidden transition; left for operator")
			return nil
		}

		moved, err := repo.UpdateOrderStatus(ctx, tx, order.ID, order.Status, target)
		if err != nil {
			return err
		}
		if !moved {
			return errStatusMoved
		}

		rec, err = r.Events.RecordTx(ctx, tx, domain.Event{
			Channel: domain.DeviceChannel(order.DeviceID),
			Name:    name,
			Payload: domain.OrderEventPayload{
				DeviceOrderID:  order.ID,
				OrderID:        order.OrderID,
				OrderNumber:    order.OrderNumber,
				DeviceID:       order.DeviceID,
				SessionID:      order.SessionID,
				TableID:        order.TableID,
				Status:         target,
				PreviousStatus: order.Status,
			},
		})
		if err != nil {
			return err
		}
		return repo.DeleteUpdateLog(ctx, tx, row.ID)
	})
	if err != nil {
		return outcomeError, err
	}

	if rec != nil {
		if err := r.Events.Dispatch(ctx, rec); err != nil {
			lg.Debug().Err(err).Uint("event_id", rec.ID).Msg("live dispatch skipped; event is replayable")
		}
	}
	return outcome, nil
}
