package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (device_id, key) pair.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, deviceID uint, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" || deviceID == 0 {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("device_id = ? AND idem_key = ? AND expires_at > ?", deviceID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, deviceID uint, key string, deviceOrderID uint, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:            uuid.NewString(),
		DeviceID:      deviceID,
		Key:           key,
		DeviceOrderID: deviceOrderID,
		Status:        status,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// ReserveIdempotency claims (deviceID, key) before any side effect runs. An
// expired record for the pair is cleared first. It returns ErrDuplicate when
// another request holds the key.
func ReserveIdempotency(ctx context.Context, db *gorm.DB, deviceID uint, key string, ttl time.Duration) (*domain.Idempotency, error) {
	if err := db.WithContext(ctx).
		Where("device_id = ? AND idem_key = ? AND expires_at <= ?", deviceID, key, time.Now().UTC()).
		Delete(&domain.Idempotency{}).Error; err != nil {
		return nil, err
	}
	return CreateIdempotency(ctx, db, deviceID, key, 0, 0, ttl)
}

// CompleteIdempotency attaches the created order to a reservation.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, id string, deviceOrderID uint, status int) error {
	return db.WithContext(ctx).Model(&domain.Idempotency{}).
		Where("id = ?", id).
		Updates(map[string]any{"device_order_id": deviceOrderID, "status": status}).Error
}

// ReleaseIdempotency drops a reservation that never produced an order, so
// the device may retry with the same key.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Where("id = ? AND device_order_id = 0", id).
		Delete(&domain.Idempotency{}).Error
}

// PurgeExpiredIdempotency deletes records whose expiry passed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

func isUniqueViolation(err error) bool {
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate entry")
}
