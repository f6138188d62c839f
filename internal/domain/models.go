// Package domain defines the persistence models for devices, device orders,
// the upstream change log, print jobs, and the broadcast replay log. These
// types are mapped with GORM and form the core data layer of the bridge.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// DeviceKind classifies what a registered device does.
type DeviceKind string

const (
	DeviceOrdering DeviceKind = "ORDERING"
	DeviceKitchen  DeviceKind = "KITCHEN"
	DeviceRelay    DeviceKind = "RELAY"
)

// Device is a physical or virtual terminal that talks to the bridge. It is
// the subject of authentication, rate limiting, and broadcast targeting.
//
// Fields:
//   - ID: stable numeric identity (used in "device:<id>" and "device.<id>").
//   - Name: operator-facing label.
//   - Kind: ORDERING, KITCHEN or RELAY.
//   - IsActive: inactive devices are refused tokens.
//   - LastHeartbeatAt: last liveness ping, for operational visibility only.
type Device struct {
	ID              uint       `json:"id"                gorm:"primaryKey"`
	Name            string     `json:"name"              gorm:"type:varchar(128);not null"`
	Kind            DeviceKind `json:"kind"              gorm:"type:varchar(16);not null;default:'ORDERING'"`
	IsActive        bool       `json:"is_active"         gorm:"not null;default:true"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Device.
func (Device) TableName() string { return "devices" }

// DeviceOrder is the device-facing projection of one POS order. It is owned
// by exactly one Device and is never physically deleted.
//
// Fields:
//   - OrderID: the upstream engine's order id (unique).
//   - OrderNumber: human-facing number printed on tickets.
//   - Status: lifecycle state, changed only through the transition policy.
//   - IsPrinted / PrintedAt: durable print truth, set by print acknowledgment.
//   - RefillNumber: count of refill rounds placed on this order.
type DeviceOrder struct {
	ID           uint        `json:"id"            gorm:"primaryKey"`
	OrderID      uint        `json:"order_id"      gorm:"not null;uniqueIndex"`
	OrderNumber  string      `json:"order_number"  gorm:"type:varchar(64);not null"`
	DeviceID     uint        `json:"device_id"     gorm:"not null;index"`
	TableID      uint        `json:"table_id"      gorm:"not null;default:0"`
	SessionID    uint        `json:"session_id"    gorm:"not null;index"`
	Status       OrderStatus `json:"status"        gorm:"type:varchar(16);not null;default:'PENDING';index"`
	GuestCount   int         `json:"guest_count"   gorm:"not null;default:1"`
	Subtotal     float64     `json:"subtotal"      gorm:"type:decimal(12,2);not null;default:0"`
	Tax          float64     `json:"tax"           gorm:"type:decimal(12,2);not null;default:0"`
	Total        float64     `json:"total"         gorm:"type:decimal(12,2);not null;default:0"`
	IsPrinted    bool        `json:"is_printed"    gorm:"not null;default:false"`
	PrintedAt    *time.Time  `json:"printed_at"`
	RefillNumber int         `json:"refill_number" gorm:"not null;default:0"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`

	Items  []DeviceOrderItem `json:"items,omitempty"  gorm:"foreignKey:DeviceOrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Device *Device           `json:"-"                gorm:"foreignKey:DeviceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for DeviceOrder.
func (DeviceOrder) TableName() string { return "device_orders" }

// DeviceOrderItem is one line of a DeviceOrder. Refill rounds append new
// items tagged with the refill number they belong to.
type DeviceOrderItem struct {
	ID            uint       `json:"id"              gorm:"primaryKey"`
	DeviceOrderID uint       `json:"device_order_id" gorm:"not null;index"`
	MenuID        uint       `json:"menu_id"         gorm:"not null"`
	Name          string     `json:"name"            gorm:"type:varchar(255);not null"`
	Quantity      int        `json:"quantity"        gorm:"not null"`
	Price         float64    `json:"price"           gorm:"type:decimal(12,2);not null"`
	Subtotal      float64    `json:"subtotal"        gorm:"type:decimal(12,2);not null"`
	Note          string     `json:"note"            gorm:"type:text"`
	Status        ItemStatus `json:"status"          gorm:"type:varchar(16);not null;default:'PENDING'"`
	RefillNumber  int        `json:"refill_number"   gorm:"not null;default:0"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for DeviceOrderItem.
func (DeviceOrderItem) TableName() string { return "device_order_items" }

// OrderUpdateLog is a change-log row written by the upstream engine's
// triggers whenever an order's voided/closed state changes. Rows are
// consumed at most once by the reconciler.
type OrderUpdateLog struct {
	ID          uint      `json:"id"           gorm:"primaryKey"`
	OrderID     uint      `json:"order_id"     gorm:"not null;index"`
	IsVoided    bool      `json:"is_voided"    gorm:"not null;default:false"`
	IsOpen      bool      `json:"is_open"      gorm:"not null;default:true"`
	IsProcessed bool      `json:"is_processed" gorm:"not null;default:false;index:idx_update_logs_pending,priority:1"`
	CreatedAt   time.Time `json:"created_at"   gorm:"index:idx_update_logs_pending,priority:2"`
}

// TableName returns the database table name for OrderUpdateLog.
func (OrderUpdateLog) TableName() string { return "order_update_logs" }

// PrintType distinguishes the first ticket of an order from refill tickets.
type PrintType string

const (
	PrintInitial PrintType = "INITIAL"
	PrintRefill  PrintType = "REFILL"
)

// PrintStatus is the delivery state of a PrintEvent.
type PrintStatus string

const (
	PrintPending      PrintStatus = "PENDING"
	PrintRetrying     PrintStatus = "RETRYING"
	PrintAcknowledged PrintStatus = "ACKNOWLEDGED"
	PrintEscalated    PrintStatus = "ESCALATED"
)

// PrintEvent is one print job for a DeviceOrder, tracked to acknowledgment.
// The retry policy lives on the row itself (Attempts, MaxAttempts,
// NextAttemptAt) so it can be tested without a queue runtime.
type PrintEvent struct {
	ID             uint           `json:"id"               gorm:"primaryKey"`
	DeviceOrderID  uint           `json:"device_order_id"  gorm:"not null;index"`
	EventType      PrintType      `json:"event_type"       gorm:"type:varchar(16);not null"`
	RefillNumber   *int           `json:"refill_number"`
	Meta           datatypes.JSON `json:"meta"             gorm:"type:json"`
	Status         PrintStatus    `json:"status"           gorm:"type:varchar(16);not null;default:'PENDING';index"`
	Attempts       int            `json:"attempts"         gorm:"not null;default:0"`
	MaxAttempts    int            `json:"max_attempts"     gorm:"not null;default:3"`
	NextAttemptAt  *time.Time     `json:"next_attempt_at"  gorm:"index"`
	LastError      string         `json:"last_error,omitempty" gorm:"type:text"`
	IsAcknowledged bool           `json:"is_acknowledged"  gorm:"not null;default:false"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at"`
	PrintedAt      *time.Time     `json:"printed_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	DeviceOrder *DeviceOrder `json:"-" gorm:"foreignKey:DeviceOrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for PrintEvent.
func (PrintEvent) TableName() string { return "print_events" }

// BroadcastEvent is an immutable record of an event dispatched on a channel.
// Replay queries it by (channel, created_at >= since).
type BroadcastEvent struct {
	ID           uint           `json:"id"      gorm:"primaryKey"`
	Channel      string         `json:"channel" gorm:"type:varchar(128);not null;index:idx_broadcast_replay,priority:1"`
	Event        string         `json:"event"   gorm:"type:varchar(64);not null"`
	Payload      datatypes.JSON `json:"payload" gorm:"type:json;not null"`
	PrintEventID *uint          `json:"-"       gorm:"index"`
	CreatedAt    time.Time      `json:"created_at" gorm:"not null;precision:6;index:idx_broadcast_replay,priority:2"`
}

// EventTime normalizes a broadcast timestamp to UTC at microsecond
// precision, the finest the replay column stores on every driver.
func EventTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// TableName returns the database table name for BroadcastEvent.
func (BroadcastEvent) TableName() string { return "broadcast_events" }
