// Package handlers provides HTTP handler implementations for the bridge API.
//
// Handlers are transport-thin: they validate input, call the services, and
// translate results into the shared response envelope.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbourn/pos-device-bridge/internal/auth"
	"github.com/tbourn/pos-device-bridge/internal/domain"
	"github.com/tbourn/pos-device-bridge/internal/services"
)

//
// Service contracts (context-aware)
//

// OrderService is the order write path consumed by the order endpoints.
type OrderService interface {
	Create(ctx context.Context, deviceID uint, key string, in services.CreateOrderInput) (*domain.DeviceOrder, bool, error)
	Get(ctx context.Context, id uint) (*domain.DeviceOrder, error)
	Refill(ctx context.Context, deviceID, id uint, items []services.OrderItemInput) (*domain.DeviceOrder, error)
	UpdateStatus(ctx context.Context, id uint, next domain.OrderStatus) (*domain.DeviceOrder, error)
	UpdateItemStatus(ctx context.Context, id, itemID uint, next domain.ItemStatus) (*domain.DeviceOrderItem, error)
}

// PrintService is the print relay surface.
type PrintService interface {
	Pending(ctx context.Context, limit int) ([]services.PendingJob, error)
	Ack(ctx context.Context, id uint) (*domain.PrintEvent, error)
	Fail(ctx context.Context, id uint, reason string) (*domain.PrintEvent, error)
	Heartbeat(ctx context.Context, deviceID uint) error
	MarkOrderPrinted(ctx context.Context, deviceID, deviceOrderID uint) (bool, error)
	MarkOrdersPrinted(ctx context.Context, deviceID uint, ids []uint) services.BulkPrintResult
}

// EventReplayer serves missed events from the broadcast log.
type EventReplayer interface {
	Replay(ctx context.Context, channel string, since time.Time) ([]services.ReplayEvent, error)
}

// DeviceService covers operator actions on devices and sessions.
type DeviceService interface {
	Register(ctx context.Context, name string, kind domain.DeviceKind) (*domain.Device, string, error)
	SendControl(ctx context.Context, deviceID uint, action, message string) error
	ResetSession(ctx context.Context, sessionID uint) (int64, error)
}

// SocketHub owns live websocket connections.
type SocketHub interface {
	Serve(conn *websocket.Conn, claims *auth.Claims)
}

//
// Handler wiring
//

// Deps lists the services behind the endpoints. Nil members leave their
// routes unregistered.
type Deps struct {
	Orders  OrderService
	Print   PrintService
	Events  EventReplayer
	Devices DeviceService
	Hub     SocketHub

	// Upgrader is used by the websocket endpoint; zero value is fine.
	Upgrader websocket.Upgrader
}

// Handlers groups the bridge endpoints.
type Handlers struct {
	orders  OrderService
	print   PrintService
	events  EventReplayer
	devices DeviceService
	hub     SocketHub
	up      websocket.Upgrader
}

// New constructs Handlers bound to d.
func New(d Deps) *Handlers {
	return &Handlers{
		orders:  d.Orders,
		print:   d.Print,
		events:  d.Events,
		devices: d.Devices,
		hub:     d.Hub,
		up:      d.Upgrader,
	}
}

// SuccessResponse is the minimal success body.
type SuccessResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message,omitempty"`
}

// pathID parses a positive numeric path parameter.
func pathID(c *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || n == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return uint(n), true
}
