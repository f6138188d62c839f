// Package upstream adapts the POS engine's database to the narrow set of
// reads and writes the bridge needs. The engine owns its schema and its
// triggers; this package never migrates or mutates anything beyond order
// creation.
package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/pos-device-bridge/internal/domain"
)

var (
	// ErrNoOpenSession means the POS has no open business session.
	ErrNoOpenSession = errors.New("upstream: no open session")
	// ErrNotFound means a dependent record (terminal, shift, tray, revenue)
	// is missing for the current session.
	ErrNotFound = errors.New("upstream: record not found")
)

// OrderLine is one item of an order being created upstream.
type OrderLine struct {
	MenuID   uint    `json:"menu_id"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Note     string  `json:"note,omitempty"`
}

// OrderRequest carries everything the engine needs to open an order.
type OrderRequest struct {
	SessionID         uint
	TerminalSessionID uint
	EmployeeShiftID   uint
	CashTrayID        uint
	RevenueID         uint
	TableID           uint
	GuestCount        int
	Lines             []OrderLine
}

// OrderResult identifies the order the engine created.
type OrderResult struct {
	OrderID     uint   `gorm:"column:order_id"`
	OrderNumber string `gorm:"column:order_number"`
}

// Engine is the bridge's view of the POS engine.
type Engine interface {
	Terminal(ctx context.Context) (*domain.Terminal, error)
	ActiveSession(ctx context.Context, now time.Time) (*domain.Session, error)
	TerminalSession(ctx context.Context, terminalID, sessionID uint) (*domain.TerminalSession, error)
	OpenEmployeeShift(ctx context.Context, sessionID uint) (*domain.EmployeeShift, error)
	CashTraySession(ctx context.Context, terminalID, sessionID uint) (*domain.CashTraySession, error)
	RevenueConfig(ctx context.Context) (*domain.RevenueConfig, error)
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}
