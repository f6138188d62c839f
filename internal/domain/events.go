package domain

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Broadcast channels.
const (
	ChannelAdminPrint = "admin.print"
	devicePrefix      = "device."
	sessionPrefix     = "session."
)

// Broadcast event names.
const (
	EventOrderPrinted           = "order.printed"
	EventDeviceControl          = "device.control"
	EventSessionReset           = "session.reset"
	EventOrderCreated           = "OrderCreated"
	EventOrderCompleted         = "OrderCompleted"
	EventOrderVoided            = "OrderVoided"
	EventOrderStatusChanged     = "OrderStatusChanged"
	EventOrderItemStatusChanged = "OrderItemStatusChanged"
)

// DeviceChannel returns the private channel of a device ("device.<id>").
func DeviceChannel(deviceID uint) string {
	return devicePrefix + strconv.FormatUint(uint64(deviceID), 10)
}

// SessionChannel returns the channel of an upstream session ("session.<id>").
func SessionChannel(sessionID uint) string {
	return sessionPrefix + strconv.FormatUint(uint64(sessionID), 10)
}

// ParseDeviceChannel extracts the device id from "device.<id>".
func ParseDeviceChannel(ch string) (uint, bool) {
	return parseSuffixID(ch, devicePrefix)
}

// IsSessionChannel reports whether ch is a well-formed "session.<id>".
func IsSessionChannel(ch string) bool {
	_, ok := parseSuffixID(ch, sessionPrefix)
	return ok
}

func parseSuffixID(ch, prefix string) (uint, bool) {
	if len(ch) <= len(prefix) || ch[:len(prefix)] != prefix {
		return 0, false
	}
	n, err := strconv.ParseUint(ch[len(prefix):], 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

// Event is a domain event on its way to the broadcast log. Payload is any
// JSON-marshalable value.
type Event struct {
	Channel      string
	Name         string
	Payload      any
	PrintEventID *uint
}

// OrderEventPayload is carried by order lifecycle events on device channels.
type OrderEventPayload struct {
	DeviceOrderID  uint        `json:"device_order_id"`
	OrderID        uint        `json:"order_id"`
	OrderNumber    string      `json:"order_number"`
	DeviceID       uint        `json:"device_id"`
	SessionID      uint        `json:"session_id"`
	TableID        uint        `json:"table_id"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	ItemID         uint        `json:"item_id,omitempty"`
	ItemStatus     ItemStatus  `json:"item_status,omitempty"`
}

// PrintItem is one line of a print ticket.
type PrintItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Subtotal float64 `json:"subtotal"`
	Note     string  `json:"note"`
}

// PrintOrderSummary is the nested order block of a print payload.
type PrintOrderSummary struct {
	ID             uint        `json:"id"`
	OrderNumber    string      `json:"order_number"`
	TableID        uint        `json:"table_id"`
	GuestCount     int         `json:"guest_count"`
	Subtotal       float64     `json:"subtotal"`
	Tax            float64     `json:"tax"`
	Total          float64     `json:"total"`
	TotalFormatted string      `json:"total_formatted"`
	Status         OrderStatus `json:"status"`
}

// PrintPayload is the flat body broadcast on admin.print for each print job.
type PrintPayload struct {
	PrintEventID uint              `json:"print_event_id"`
	DeviceID     uint              `json:"device_id"`
	OrderID      uint              `json:"order_id"`
	SessionID    uint              `json:"session_id"`
	PrintType    PrintType         `json:"print_type"`
	RefillNumber *int              `json:"refill_number"`
	Order        PrintOrderSummary `json:"order"`
	Items        []PrintItem       `json:"items"`
}

// Print payload rejection reasons. A relay must refuse payloads that fail
// Validate; producers must never emit them.
var (
	ErrPayloadNoPrintEvent = errors.New("print payload missing print_event_id")
	ErrPayloadNoDevice     = errors.New("print payload missing device_id")
	ErrPayloadNoOrder      = errors.New("print payload missing order_id")
)

// Validate checks the identifiers a receiving relay depends on.
func (p PrintPayload) Validate() error {
	switch {
	case p.PrintEventID == 0:
		return ErrPayloadNoPrintEvent
	case p.DeviceID == 0:
		return ErrPayloadNoDevice
	case p.OrderID == 0:
		return ErrPayloadNoOrder
	}
	return nil
}

// Delivery is a persisted event on its way to live subscribers. ID and
// Timestamp match the replay log so clients can deduplicate.
type Delivery struct {
	ID        uint            `json:"id"`
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}
