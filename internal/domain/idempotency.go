package domain

import "time"

// Idempotency records the result of a previously processed order creation,
// keyed by (device_id, key). It lets an ordering device retry a POST after a
// network failure and receive the originally created order instead of a
// duplicate upstream order.
type Idempotency struct {
	ID            string    `gorm:"type:VARCHAR(36) NOT NULL;primaryKey"`
	DeviceID      uint      `gorm:"type:INTEGER NOT NULL;uniqueIndex:ux_device_key,priority:1"`
	Key           string    `gorm:"column:idem_key;type:VARCHAR(128) NOT NULL;uniqueIndex:ux_device_key,priority:2"`
	DeviceOrderID uint      `gorm:"type:INTEGER NOT NULL"`
	Status        int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt     time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt     time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// InFlight reports whether the key is reserved but its order not yet stored.
func (i Idempotency) InFlight() bool { return i.DeviceOrderID == 0 }

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
