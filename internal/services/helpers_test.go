package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/pos-device-bridge/internal/domain"
	"github.com/tbourn/pos-device-bridge/internal/repo"
	"github.com/tbourn/pos-device-bridge/internal/upstream"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mkDevice(t *testing.T, db *gorm.DB, kind domain.DeviceKind) *domain.Device {
	t.Helper()
	d, err := repo.CreateDevice(context.Background(), db, "dev-"+uuid.NewString()[:8], kind)
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	return d
}

func mkOrder(t *testing.T, db *gorm.DB, deviceID, orderID uint, status domain.OrderStatus) *domain.DeviceOrder {
	t.Helper()
	o := &domain.DeviceOrder{
		OrderID: orderID, OrderNumber: fmt.Sprintf("T1-%06d", orderID), DeviceID: deviceID, SessionID: 7,
		Status: status, GuestCount: 2, Subtotal: 25, Tax: 3, Total: 28,
		Items: []domain.DeviceOrderItem{
			{MenuID: 1, Name: "Noodles", Quantity: 1, Price: 15, Subtotal: 15, Status: domain.ItemPending},
			{MenuID: 2, Name: "Tea", Quantity: 2, Price: 5, Subtotal: 10, Status: domain.ItemPending},
		},
	}
	if err := repo.CreateDeviceOrder(context.Background(), db, o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// recordingDeliverer captures live deliveries.
type recordingDeliverer struct {
	mu   sync.Mutex
	got  []domain.Delivery
	fail error
}

func (r *recordingDeliverer) Deliver(d domain.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.got = append(r.got, d)
	return nil
}

func (r *recordingDeliverer) all() []domain.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Delivery, len(r.got))
	copy(out, r.got)
	return out
}

// capturePublisher records events synchronously instead of queueing them.
type capturePublisher struct {
	mu  sync.Mutex
	evs []domain.Event
	err error
}

func (c *capturePublisher) Publish(_ context.Context, ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.evs = append(c.evs, ev)
	return nil
}

func (c *capturePublisher) events() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Event, len(c.evs))
	copy(out, c.evs)
	return out
}

// fakeEngine is an in-memory upstream.Engine. Each lookup can be failed
// individually; calls are counted.
type fakeEngine struct {
	mu    sync.Mutex
	calls atomic.Int64
	delay time.Duration

	noSession error
	trayErr   error
	revenue   domain.RevenueConfig
	createErr   error
	createDelay time.Duration
	nextOrder   uint
	created   []upstream.OrderRequest
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		revenue:   domain.RevenueConfig{ID: 4, Name: "Dine in", TaxRate: 10},
		nextOrder: 1000,
	}
}

func (f *fakeEngine) Terminal(context.Context) (*domain.Terminal, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return &domain.Terminal{ID: 1, Code: "T1", Name: "Front"}, nil
}

func (f *fakeEngine) ActiveSession(_ context.Context, now time.Time) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noSession != nil {
		return nil, f.noSession
	}
	return &domain.Session{ID: 7, OpenedAt: now.Add(-time.Hour)}, nil
}

func (f *fakeEngine) TerminalSession(_ context.Context, termID, sessID uint) (*domain.TerminalSession, error) {
	return &domain.TerminalSession{ID: 11, TerminalID: termID, SessionID: sessID}, nil
}

func (f *fakeEngine) OpenEmployeeShift(_ context.Context, sessID uint) (*domain.EmployeeShift, error) {
	return &domain.EmployeeShift{ID: 21, EmployeeID: 3, SessionID: sessID}, nil
}

func (f *fakeEngine) CashTraySession(_ context.Context, _, sessID uint) (*domain.CashTraySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trayErr != nil {
		return nil, f.trayErr
	}
	return &domain.CashTraySession{ID: 31, SessionID: sessID}, nil
}

func (f *fakeEngine) RevenueConfig(context.Context) (*domain.RevenueConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rev := f.revenue
	return &rev, nil
}

func (f *fakeEngine) CreateOrder(_ context.Context, req upstream.OrderRequest) (*upstream.OrderResult, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextOrder++
	f.created = append(f.created, req)
	return &upstream.OrderResult{OrderID: f.nextOrder, OrderNumber: fmt.Sprintf("T1-%06d", f.nextOrder)}, nil
}

func (f *fakeEngine) setNoSession(err error) {
	f.mu.Lock()
	f.noSession = err
	f.mu.Unlock()
}

func (f *fakeEngine) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}
