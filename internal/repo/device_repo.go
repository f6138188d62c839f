// Package repo implements the data persistence layer for domain entities,
// backed by GORM.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only persistence
// and query composition. Conditional ("guarded") updates report whether a
// row actually changed so callers can build race-free state machines on top.
//
// Error semantics:
//   - When a row is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateDevice registers a new active device.
func CreateDevice(ctx context.Context, db *gorm.DB, name string, kind domain.DeviceKind) (*domain.Device, error) {
	d := &domain.Device{Name: name, Kind: kind, IsActive: true}
	if err := db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

// GetDevice fetches a device by id, or ErrNotFound.
func GetDevice(ctx context.Context, db *gorm.DB, id uint) (*domain.Device, error) {
	var d domain.Device
	if err := db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// TouchHeartbeat sets last_heartbeat_at and nothing else. It returns
// ErrNotFound when the device does not exist.
func TouchHeartbeat(ctx context.Context, db *gorm.DB, id uint, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Device{}).
		Where("id = ?", id).
		UpdateColumn("last_heartbeat_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// MySQL reports 0 for unchanged rows; confirm the device exists.
		var n int64
		if err := db.WithContext(ctx).Model(&domain.Device{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}
