package domain

import "time"

// Terminal is the POS terminal this bridge acts on behalf of.
type Terminal struct {
	ID   uint   `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Session is an upstream business session (a trading day or shift block).
type Session struct {
	ID       uint       `json:"id"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// TerminalSession binds a Terminal to a Session.
type TerminalSession struct {
	ID         uint `json:"id"`
	TerminalID uint `json:"terminal_id"`
	SessionID  uint `json:"session_id"`
}

// EmployeeShift is the open employee log-in on the terminal session.
type EmployeeShift struct {
	ID         uint      `json:"id"`
	EmployeeID uint      `json:"employee_id"`
	SessionID  uint      `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
}

// CashTraySession is the open cash drawer session for the terminal.
type CashTraySession struct {
	ID        uint `json:"id"`
	SessionID uint `json:"session_id"`
}

// RevenueConfig carries the pricing/tax settings orders are created with.
type RevenueConfig struct {
	ID              uint    `json:"id"`
	Name            string  `json:"name"`
	TaxRate         float64 `json:"tax_rate"` // percent, e.g. 12 for 12%
	TaxInclusive    bool    `json:"tax_inclusive"`
	ServiceChargePc float64 `json:"service_charge_pc"`
}

// SessionContext is the fully-resolved upstream operating context that must
// exist before new orders can be created. It is never partially populated:
// either every part resolved or the lookup failed.
type SessionContext struct {
	Terminal        Terminal        `json:"terminal"`
	Session         Session         `json:"session"`
	TerminalSession TerminalSession `json:"terminal_session"`
	EmployeeShift   EmployeeShift   `json:"employee_shift"`
	CashTray        CashTraySession `json:"cash_tray"`
	Revenue         RevenueConfig   `json:"revenue"`
	ResolvedAt      time.Time       `json:"resolved_at"`
}
