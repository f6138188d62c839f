package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/pos-device-bridge/internal/auth"
	"github.com/tbourn/pos-device-bridge/internal/domain"
	"github.com/tbourn/pos-device-bridge/internal/http/middleware"
	"github.com/tbourn/pos-device-bridge/internal/services"
)

// ---------- fakes ----------

type fakeOrders struct {
	mu        sync.Mutex
	created   map[string]*domain.DeviceOrder
	orders    map[uint]*domain.DeviceOrder
	err       error
	lastInput services.CreateOrderInput
	lastRefill []services.OrderItemInput
	lastNext  string
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{created: map[string]*domain.DeviceOrder{}, orders: map[uint]*domain.DeviceOrder{}}
}

func (f *fakeOrders) Create(_ context.Context, deviceID uint, key string, in services.CreateOrderInput) (*domain.DeviceOrder, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastInput = in
	if f.err != nil {
		return nil, false, f.err
	}
	if o, ok := f.created[key]; ok && key != "" {
		return o, true, nil
	}
	o := &domain.DeviceOrder{ID: uint(len(f.orders) + 1), DeviceID: deviceID, TableID: in.TableID, Status: domain.OrderConfirmed}
	f.orders[o.ID] = o
	f.created[key] = o
	return o, false, nil
}

func (f *fakeOrders) Get(_ context.Context, id uint) (*domain.DeviceOrder, error) {
	if f.err != nil {
		return nil, f.err
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, services.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrders) Refill(_ context.Context, deviceID, id uint, items []services.OrderItemInput) (*domain.DeviceOrder, error) {
	f.lastRefill = items
	if f.err != nil {
		return nil, f.err
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, services.ErrOrderNotFound
	}
	if o.DeviceID != deviceID {
		return nil, services.ErrForbidden
	}
	o.RefillNumber++
	return o, nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, id uint, next domain.OrderStatus) (*domain.DeviceOrder, error) {
	f.lastNext = string(next)
	o, ok := f.orders[id]
	if !ok {
		return nil, services.ErrOrderNotFound
	}
	if !domain.CanTransitionOrder(o.Status, next) {
		return nil, services.ErrInvalidTransition
	}
	o.Status = next
	return o, nil
}

func (f *fakeOrders) UpdateItemStatus(_ context.Context, id, itemID uint, next domain.ItemStatus) (*domain.DeviceOrderItem, error) {
	f.lastNext = string(next)
	if _, ok := f.orders[id]; !ok {
		return nil, services.ErrOrderNotFound
	}
	if itemID != 1 {
		return nil, services.ErrItemNotFound
	}
	return &domain.DeviceOrderItem{ID: itemID, DeviceOrderID: id, Status: next}, nil
}

type fakePrint struct {
	mu         sync.Mutex
	jobs       []services.PendingJob
	acked      map[uint]int
	failReason string
	failErr    error
	beats      []uint
	lastLimit  int
	printed    map[uint]bool
}

func newFakePrint() *fakePrint {
	return &fakePrint{acked: map[uint]int{}, printed: map[uint]bool{}}
}

func (f *fakePrint) Pending(_ context.Context, limit int) ([]services.PendingJob, error) {
	f.lastLimit = limit
	return f.jobs, nil
}

func (f *fakePrint) Ack(_ context.Context, id uint) (*domain.PrintEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == 404 {
		return nil, services.ErrPrintEventNotFound
	}
	f.acked[id]++
	return &domain.PrintEvent{ID: id, Status: domain.PrintAcknowledged, IsAcknowledged: true}, nil
}

func (f *fakePrint) Fail(_ context.Context, id uint, reason string) (*domain.PrintEvent, error) {
	f.failReason = reason
	if f.failErr != nil {
		return nil, f.failErr
	}
	return &domain.PrintEvent{ID: id, Attempts: 1, Status: domain.PrintRetrying}, nil
}

func (f *fakePrint) Heartbeat(_ context.Context, deviceID uint) error {
	f.beats = append(f.beats, deviceID)
	return nil
}

func (f *fakePrint) MarkOrderPrinted(_ context.Context, deviceID, id uint) (bool, error) {
	if id == 404 {
		return false, services.ErrOrderNotFound
	}
	if deviceID != 0 && id == 403 {
		return false, services.ErrForbidden
	}
	first := !f.printed[id]
	f.printed[id] = true
	return first, nil
}

func (f *fakePrint) MarkOrdersPrinted(ctx context.Context, deviceID uint, ids []uint) services.BulkPrintResult {
	res := services.BulkPrintResult{Updated: []uint{}, Failed: []services.BulkFailure{}}
	for _, id := range ids {
		if _, err := f.MarkOrderPrinted(ctx, deviceID, id); err != nil {
			res.Failed = append(res.Failed, services.BulkFailure{ID: id, Error: err.Error()})
			continue
		}
		res.Updated = append(res.Updated, id)
	}
	return res
}

type fakeReplayer struct {
	channel string
	since   time.Time
	events  []services.ReplayEvent
	err     error
}

func (f *fakeReplayer) Replay(_ context.Context, channel string, since time.Time) ([]services.ReplayEvent, error) {
	f.channel, f.since = channel, since
	return f.events, f.err
}

type fakeDevices struct {
	controls []string
	resets   []uint
}

func (f *fakeDevices) Register(_ context.Context, name string, kind domain.DeviceKind) (*domain.Device, string, error) {
	if name == "" {
		return nil, "", services.ErrInvalidInput
	}
	if kind == "" {
		kind = domain.DeviceOrdering
	}
	return &domain.Device{ID: 12, Name: name, Kind: kind, IsActive: true}, "tok-12", nil
}

func (f *fakeDevices) SendControl(_ context.Context, id uint, action, message string) error {
	if id == 404 {
		return services.ErrDeviceNotFound
	}
	f.controls = append(f.controls, action+":"+message)
	return nil
}

func (f *fakeDevices) ResetSession(_ context.Context, id uint) (int64, error) {
	f.resets = append(f.resets, id)
	return 1714557600000, nil
}

// ---------- router + request helpers ----------

const testSecret = "handler-test-secret"

func testIssuer() *auth.Issuer { return auth.NewIssuer(testSecret, time.Hour) }

func deviceToken(t *testing.T, id uint, kind domain.DeviceKind) string {
	t.Helper()
	tok, err := testIssuer().IssueDevice(&domain.Device{ID: id, Kind: kind})
	require.NoError(t, err)
	return tok
}

func adminToken(t *testing.T) string {
	t.Helper()
	tok, err := testIssuer().IssueAdmin("ops")
	require.NoError(t, err)
	return tok
}

// newTestRouter mounts h behind the same auth middleware the real router
// uses, without rate limiting.
func newTestRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	iss := testIssuer()

	r.GET("/events/missing", middleware.DeviceAuth(iss, false), h.ReplayMissing)

	dev := r.Group("", middleware.DeviceAuth(iss, true))
	dev.POST("/orders", middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil), h.CreateOrder)
	dev.GET("/orders/:id", h.GetOrder)
	dev.POST("/orders/:id/refill", h.RefillOrder)
	dev.PATCH("/orders/:id/status", h.UpdateOrderStatus)
	dev.PATCH("/orders/:id/items/:itemId/status", h.UpdateItemStatus)
	dev.POST("/orders/:id/printed", h.MarkOrderPrinted)
	dev.POST("/orders/printed", h.MarkOrdersPrinted)
	dev.POST("/print/heartbeat", h.Heartbeat)

	relay := r.Group("/print/events", middleware.DeviceAuth(iss, true), middleware.RequireRole(auth.RoleRelay, auth.RoleAdmin))
	relay.GET("", h.ListPrintEvents)
	relay.POST("/:id/ack", h.AckPrintEvent)
	relay.POST("/:id/fail", h.FailPrintEvent)

	admin := r.Group("/admin", middleware.DeviceAuth(iss, true), middleware.RequireRole(auth.RoleAdmin))
	admin.POST("/devices", h.RegisterDevice)
	admin.POST("/devices/:id/control", h.SendControl)
	admin.POST("/sessions/:id/reset", h.ResetSession)

	r.GET("/ws", middleware.DeviceAuth(iss, true), h.ServeWS)
	return r
}

func doJSON(r http.Handler, method, path, token string, body any, hdr ...string) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}
