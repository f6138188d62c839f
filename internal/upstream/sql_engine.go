package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/domain"
)

var tracer = otel.Tracer("upstream/sql")

// Rows of the POS engine's schema, mapped only as far as the bridge reads them.

type TerminalRecord struct {
	ID   uint   `gorm:"primaryKey"`
	Code string `gorm:"type:varchar(32);uniqueIndex"`
	Name string `gorm:"type:varchar(128)"`
}

func (TerminalRecord) TableName() string { return "terminals" }

type SessionRecord struct {
	ID       uint      `gorm:"primaryKey"`
	OpenedAt time.Time `gorm:"index"`
	ClosedAt *time.Time
}

func (SessionRecord) TableName() string { return "sessions" }

type TerminalSessionRecord struct {
	ID         uint `gorm:"primaryKey"`
	TerminalID uint `gorm:"index"`
	SessionID  uint `gorm:"index"`
}

func (TerminalSessionRecord) TableName() string { return "terminal_sessions" }

type EmployeeLogRecord struct {
	ID         uint `gorm:"primaryKey"`
	EmployeeID uint
	SessionID  uint `gorm:"index"`
	StartedAt  time.Time
	EndedAt    *time.Time
}

func (EmployeeLogRecord) TableName() string { return "employee_logs" }

type CashTraySessionRecord struct {
	ID         uint `gorm:"primaryKey"`
	TerminalID uint `gorm:"index"`
	SessionID  uint `gorm:"index"`
	ClosedAt   *time.Time
}

func (CashTraySessionRecord) TableName() string { return "cash_tray_sessions" }

type RevenueRecord struct {
	ID              uint `gorm:"primaryKey"`
	Name            string
	TaxRate         float64
	TaxInclusive    bool
	ServiceChargePc float64
	IsActive        bool
}

func (RevenueRecord) TableName() string { return "revenues" }

type OrderRecord struct {
	ID                uint   `gorm:"primaryKey"`
	OrderNumber       string `gorm:"type:varchar(64)"`
	SessionID         uint
	TerminalSessionID uint
	EmployeeLogID     uint
	CashTraySessionID uint
	RevenueID         uint
	TableID           uint
	GuestCount        int
	Lines             string `gorm:"type:text"`
	IsOpen            bool
	IsVoided          bool
	CreatedAt         time.Time
}

func (OrderRecord) TableName() string { return "orders" }

// SQLEngine implements Engine against the POS database.
type SQLEngine struct {
	DB           *gorm.DB
	TerminalCode string
}

// NewSQLEngine builds an engine that acts for the terminal with code.
func NewSQLEngine(db *gorm.DB, terminalCode string) *SQLEngine {
	return &SQLEngine{DB: db, TerminalCode: terminalCode}
}

// MigrateDev creates the engine tables on a development database. Production
// POS schemas are owned by the engine and must not be migrated.
func MigrateDev(db *gorm.DB) error {
	return db.AutoMigrate(
		&TerminalRecord{}, &SessionRecord{}, &TerminalSessionRecord{},
		&EmployeeLogRecord{}, &CashTraySessionRecord{}, &RevenueRecord{}, &OrderRecord{},
	)
}

func first(q *gorm.DB, dst any) error {
	err := q.First(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (e *SQLEngine) Terminal(ctx context.Context) (*domain.Terminal, error) {
	var r TerminalRecord
	if err := first(e.DB.WithContext(ctx).Where("code = ?", e.TerminalCode), &r); err != nil {
		return nil, err
	}
	return &domain.Terminal{ID: r.ID, Code: r.Code, Name: r.Name}, nil
}

// ActiveSession prefers an open session opened today (in now's location),
// falling back to the most recent open session.
func (e *SQLEngine) ActiveSession(ctx context.Context, now time.Time) (*domain.Session, error) {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UTC()
	db := e.DB.WithContext(ctx)

	var r SessionRecord
	err := first(db.Where("closed_at IS NULL AND opened_at >= ?", startOfDay).Order("opened_at DESC, id DESC"), &r)
	if errors.Is(err, ErrNotFound) {
		err = first(db.Where("closed_at IS NULL").Order("opened_at DESC, id DESC"), &r)
	}
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoOpenSession
	}
	if err != nil {
		return nil, err
	}
	return &domain.Session{ID: r.ID, OpenedAt: r.OpenedAt, ClosedAt: r.ClosedAt}, nil
}

func (e *SQLEngine) TerminalSession(ctx context.Context, terminalID, sessionID uint) (*domain.TerminalSession, error) {
	var r TerminalSessionRecord
	q := e.DB.WithContext(ctx).Where("terminal_id = ? AND session_id = ?", terminalID, sessionID).Order("id DESC")
	if err := first(q, &r); err != nil {
		return nil, err
	}
	return &domain.TerminalSession{ID: r.ID, TerminalID: r.TerminalID, SessionID: r.SessionID}, nil
}

func (e *SQLEngine) OpenEmployeeShift(ctx context.Context, sessionID uint) (*domain.EmployeeShift, error) {
	var r EmployeeLogRecord
	q := e.DB.WithContext(ctx).Where("session_id = ? AND ended_at IS NULL", sessionID).Order("started_at DESC, id DESC")
	if err := first(q, &r); err != nil {
		return nil, err
	}
	return &domain.EmployeeShift{ID: r.ID, EmployeeID: r.EmployeeID, SessionID: r.SessionID, StartedAt: r.StartedAt}, nil
}

func (e *SQLEngine) CashTraySession(ctx context.Context, terminalID, sessionID uint) (*domain.CashTraySession, error) {
	var r CashTraySessionRecord
	q := e.DB.WithContext(ctx).
		Where("terminal_id = ? AND session_id = ? AND closed_at IS NULL", terminalID, sessionID).
		Order("id DESC")
	if err := first(q, &r); err != nil {
		return nil, err
	}
	return &domain.CashTraySession{ID: r.ID, SessionID: r.SessionID}, nil
}

func (e *SQLEngine) RevenueConfig(ctx context.Context) (*domain.RevenueConfig, error) {
	var r RevenueRecord
	if err := first(e.DB.WithContext(ctx).Where("is_active = ?", true).Order("id ASC"), &r); err != nil {
		return nil, err
	}
	return &domain.RevenueConfig{
		ID: r.ID, Name: r.Name, TaxRate: r.TaxRate, TaxInclusive: r.TaxInclusive, ServiceChargePc: r.ServiceChargePc,
	}, nil
}

// CreateOrder opens an order in the engine. On MySQL it goes through the
// engine's create_order procedure so the engine's own triggers and numbering
// apply; other dialects (development) insert into the orders table directly.
func (e *SQLEngine) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	ctx, span := tracer.Start(ctx, "CreateOrder", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.Int64("session.id", int64(req.SessionID)), attribute.Int("lines", len(req.Lines)))

	lines, err := json.Marshal(req.Lines)
	if err != nil {
		return nil, err
	}

	if e.DB.Dialector.Name() == "mysql" {
		var res OrderResult
		err := e.DB.WithContext(ctx).
			Raw("CALL create_order(?, ?, ?, ?, ?, ?, ?, ?)",
				req.SessionID, req.TerminalSessionID, req.EmployeeShiftID, req.CashTrayID,
				req.RevenueID, req.TableID, req.GuestCount, string(lines)).
			Scan(&res).Error
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if res.OrderID == 0 {
			return nil, fmt.Errorf("upstream: create_order returned no order id")
		}
		return &res, nil
	}

	rec := &OrderRecord{
		SessionID:         req.SessionID,
		TerminalSessionID: req.TerminalSessionID,
		EmployeeLogID:     req.EmployeeShiftID,
		CashTraySessionID: req.CashTrayID,
		RevenueID:         req.RevenueID,
		TableID:           req.TableID,
		GuestCount:        req.GuestCount,
		Lines:             string(lines),
		IsOpen:            true,
		CreatedAt:         time.Now().UTC(),
	}
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		rec.OrderNumber = fmt.Sprintf("%s-%06d", e.TerminalCode, rec.ID)
		return tx.Model(rec).Update("order_number", rec.OrderNumber).Error
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &OrderResult{OrderID: rec.ID, OrderNumber: rec.OrderNumber}, nil
}

var _ Engine = (*SQLEngine)(nil)
