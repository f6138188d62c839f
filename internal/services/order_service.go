package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/domain"
	"github.com/tbourn/pos-device-bridge/internal/repo"
	"github.com/tbourn/pos-device-bridge/internal/upstream"
)

// SessionProvider yields the current upstream operating context.
type SessionProvider interface {
	Get(ctx context.Context) (*domain.SessionContext, error)
}

// PrintJobCreator creates print jobs for orders.
type PrintJobCreator interface {
	CreateJob(ctx context.Context, deviceOrderID uint, kind domain.PrintType, refill *int, items []domain.DeviceOrderItem) (*domain.PrintEvent, error)
}

// OrderItemInput is one requested order line.
type OrderItemInput struct {
	MenuID   uint    `json:"menu_id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Note     string  `json:"note"`
}

// CreateOrderInput is the body of an order creation.
type CreateOrderInput struct {
	TableID    uint             `json:"table_id"`
	GuestCount int              `json:"guest_count"`
	Items      []OrderItemInput `json:"items"`
}

// OrderService is the order write path: creation through the upstream
// engine, refills, and kitchen status updates.
type OrderService struct {
	DB       *gorm.DB
	Sessions SessionProvider
	Engine   upstream.Engine
	Events   EventPublisher
	Print    PrintJobCreator

	// IdempotencyTTL bounds how long a creation key is remembered.
	IdempotencyTTL time.Duration
	// MaxItems caps lines per request.
	MaxItems int
}

// Create opens an order upstream and mirrors it as a CONFIRMED DeviceOrder
// owned by deviceID. With a non-empty key, a repeated call from the same
// device returns the original order and replayed=true. The key is reserved
// before the engine is called, so concurrent duplicates never reach it: the
// loser gets the stored order, or ErrIdempotencyInProgress while the winner
// is still running.
func (s *OrderService) Create(ctx context.Context, deviceID uint, key string, in CreateOrderInput) (order *domain.DeviceOrder, replayed bool, err error) {
	ctx, span := otel.Tracer("services/OrderService").Start(ctx, "Create")
	defer span.End()
	span.SetAttributes(attribute.Int64("device.id", int64(deviceID)), attribute.Int("items", len(in.Items)))

	key = strings.TrimSpace(key)
	if key != "" {
		if o, err := s.replay(ctx, deviceID, key); o != nil || err != nil {
			return o, o != nil, err
		}
	}

	if err := s.validateItems(in.Items); err != nil {
		return nil, false, err
	}
	if in.GuestCount <= 0 {
		in.GuestCount = 1
	}

	var reservation *domain.Idempotency
	if key != "" {
		reservation, err = repo.ReserveIdempotency(ctx, s.DB, deviceID, key, s.idemTTL())
		if errors.Is(err, repo.ErrDuplicate) {
			o, err := s.replay(ctx, deviceID, key)
			if o == nil && err == nil {
				err = ErrIdempotencyInProgress
			}
			return o, o != nil, err
		}
		if err != nil {
			return nil, false, err
		}
		defer func() {
			if err != nil {
				if rerr := repo.ReleaseIdempotency(context.WithoutCancel(ctx), s.DB, reservation.ID); rerr != nil {
					log.Warn().Err(rerr).Str("component", "orders").Msg("idempotency reservation not released")
				}
			}
		}()
	}

	sc, err := s.Sessions.Get(ctx)
	if err != nil {
		return nil, false, err
	}

	lines := make([]upstream.OrderLine, 0, len(in.Items))
	for _, it := range in.Items {
		lines = append(lines, upstream.OrderLine{MenuID: it.MenuID, Quantity: it.Quantity, Price: it.Price, Note: it.Note})
	}
	res, err := s.Engine.CreateOrder(ctx, upstream.OrderRequest{
		SessionID:         sc.Session.ID,
		TerminalSessionID: sc.TerminalSession.ID,
		EmployeeShiftID:   sc.EmployeeShift.ID,
		CashTrayID:        sc.CashTray.ID,
		RevenueID:         sc.Revenue.ID,
		TableID:           in.TableID,
		GuestCount:        in.GuestCount,
		Lines:             lines,
	})
	if err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("%w: create order: %v", ErrUpstreamUnavailable, err)
	}

	items := toOrderItems(in.Items)
	subtotal, tax, total := computeTotals(items, sc.Revenue)
	o := &domain.DeviceOrder{
		OrderID:     res.OrderID,
		OrderNumber: res.OrderNumber,
		DeviceID:    deviceID,
		TableID:     in.TableID,
		SessionID:   sc.Session.ID,
		Status:      domain.OrderPending,
		GuestCount:  in.GuestCount,
		Subtotal:    subtotal,
		Tax:         tax,
		Total:       total,
		Items:       items,
	}
	// The engine accepted the order, so it is confirmed on arrival.
	if domain.CanTransitionOrder(o.Status, domain.OrderConfirmed) {
		o.Status = domain.OrderConfirmed
	}
	if err := repo.CreateDeviceOrder(ctx, s.DB, o); err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	if reservation != nil {
		if err := repo.CompleteIdempotency(ctx, s.DB, reservation.ID, o.ID, http.StatusCreated); err != nil {
			log.Warn().Err(err).Str("component", "orders").Uint("device_order_id", o.ID).Msg("idempotency record not completed")
		}
	}

	if s.Print != nil {
		if _, err := s.Print.CreateJob(ctx, o.ID, domain.PrintInitial, nil, o.Items); err != nil {
			log.Error().Err(err).Str("component", "orders").Uint("device_order_id", o.ID).Msg("initial print job not created")
		}
	}
	s.publish(ctx, o, domain.EventOrderCreated, "", 0, "")
	return o, false, nil
}

// replay returns the order stored for (deviceID, key). A missing record and a
// reservation still in flight both yield (nil, nil); the caller tells them
// apart by trying to reserve.
func (s *OrderService) replay(ctx context.Context, deviceID uint, key string) (*domain.DeviceOrder, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, deviceID, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.InFlight() {
		return nil, ErrIdempotencyInProgress
	}
	o, err := repo.GetDeviceOrder(ctx, s.DB, rec.DeviceOrderID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return o, err
}

// Get returns an order with its items.
func (s *OrderService) Get(ctx context.Context, id uint) (*domain.DeviceOrder, error) {
	o, err := repo.GetDeviceOrder(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// Refill appends a round of items to an open order and queues a REFILL
// ticket for just those items.
func (s *OrderService) Refill(ctx context.Context, deviceID, id uint, in []OrderItemInput) (*domain.DeviceOrder, error) {
	ctx, span := otel.Tracer("services/OrderService").Start(ctx, "Refill")
	defer span.End()

	if err := s.validateItems(in); err != nil {
		return nil, err
	}
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if deviceID != 0 && o.DeviceID != deviceID {
		return nil, ErrForbidden
	}
	if o.Status.IsTerminal() || o.Status == domain.OrderCompleted {
		return nil, fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, id, o.Status)
	}

	sc, err := s.Sessions.Get(ctx)
	if err != nil {
		return nil, err
	}
	items := toOrderItems(in)
	subtotal, tax, total := computeTotals(items, sc.Revenue)

	var refill int
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		refill, err = repo.AppendRefill(ctx, tx, o.ID, items, subtotal, tax, total)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if s.Print != nil {
		if _, err := s.Print.CreateJob(ctx, o.ID, domain.PrintRefill, &refill, items); err != nil {
			log.Error().Err(err).Str("component", "orders").Uint("device_order_id", o.ID).Int("refill", refill).Msg("refill print job not created")
		}
	}
	return s.Get(ctx, id)
}

// UpdateStatus moves an order along the transition table on behalf of a
// kitchen device.
func (s *OrderService) UpdateStatus(ctx context.Context, id uint, next domain.OrderStatus) (*domain.DeviceOrder, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionOrder(o.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	moved, err := repo.UpdateOrderStatus(ctx, s.DB, o.ID, o.Status, next)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, fmt.Errorf("%w: order %d changed concurrently", ErrInvalidTransition, id)
	}
	prev := o.Status
	o.Status = next
	s.publish(ctx, o, domain.EventOrderStatusChanged, prev, 0, "")
	return o, nil
}

// UpdateItemStatus moves one item along the item transition table.
func (s *OrderService) UpdateItemStatus(ctx context.Context, id, itemID uint, next domain.ItemStatus) (*domain.DeviceOrderItem, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	it, err := repo.GetOrderItem(ctx, s.DB, o.ID, itemID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionItem(it.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, it.Status, next)
	}
	moved, err := repo.UpdateItemStatus(ctx, s.DB, o.ID, it.ID, it.Status, next)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, fmt.Errorf("%w: item %d changed concurrently", ErrInvalidTransition, itemID)
	}
	it.Status = next
	s.publish(ctx, o, domain.EventOrderItemStatusChanged, "", it.ID, next)
	return it, nil
}

func (s *OrderService) publish(ctx context.Context, o *domain.DeviceOrder, name string, prev domain.OrderStatus, itemID uint, itemStatus domain.ItemStatus) {
	if s.Events == nil {
		return
	}
	err := s.Events.Publish(ctx, domain.Event{
		Channel: domain.DeviceChannel(o.DeviceID),
		Name:    name,
		Payload: domain.OrderEventPayload{
			DeviceOrderID:  o.ID,
			OrderID:        o.OrderID,
			OrderNumber:    o.OrderNumber,
			DeviceID:       o.DeviceID,
			SessionID:      o.SessionID,
			TableID:        o.TableID,
			Status:         o.Status,
			PreviousStatus: prev,
			ItemID:         itemID,
			ItemStatus:     itemStatus,
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("component", "orders").Str("event", name).Uint("device_order_id", o.ID).Msg("order event not published")
	}
}

func (s *OrderService) validateItems(items []OrderItemInput) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	if s.MaxItems > 0 && len(items) > s.MaxItems {
		return fmt.Errorf("%w: too many items (max %d)", ErrInvalidInput, s.MaxItems)
	}
	for i, it := range items {
		switch {
		case it.MenuID == 0:
			return fmt.Errorf("%w: items[%d].menu_id is required", ErrInvalidInput, i)
		case strings.TrimSpace(it.Name) == "":
			return fmt.Errorf("%w: items[%d].name is required", ErrInvalidInput, i)
		case it.Quantity <= 0:
			return fmt.Errorf("%w: items[%d].quantity must be positive", ErrInvalidInput, i)
		case it.Price < 0:
			return fmt.Errorf("%w: items[%d].price must not be negative", ErrInvalidInput, i)
		}
	}
	return nil
}

func (s *OrderService) idemTTL() time.Duration {
	if s.IdempotencyTTL <= 0 {
		return 24 * time.Hour
	}
	return s.IdempotencyTTL
}

func toOrderItems(in []OrderItemInput) []domain.DeviceOrderItem {
	out := make([]domain.DeviceOrderItem, 0, len(in))
	for _, it := range in {
		out = append(out, domain.DeviceOrderItem{
			MenuID:   it.MenuID,
			Name:     strings.TrimSpace(it.Name),
			Quantity: it.Quantity,
			Price:    it.Price,
			Subtotal: round2(it.Price * float64(it.Quantity)),
			Note:     it.Note,
			Status:   domain.ItemPending,
		})
	}
	return out
}

// computeTotals applies the revenue tax rule to items. Inclusive pricing
// extracts tax from the subtotal; exclusive pricing adds it on top.
func computeTotals(items []domain.DeviceOrderItem, rev domain.RevenueConfig) (subtotal, tax, total float64) {
	for _, it := range items {
		subtotal += it.Subtotal
	}
	subtotal = round2(subtotal)
	rate := rev.TaxRate / 100
	if rev.TaxInclusive {
		tax = round2(subtotal - subtotal/(1+rate))
		return subtotal, tax, subtotal
	}
	tax = round2(subtotal * rate)
	return subtotal, tax, round2(subtotal + tax)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
