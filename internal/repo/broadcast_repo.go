package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/domain"
)

// AppendBroadcastEvent inserts an immutable broadcast record. CreatedAt is
// stamped when unset and always cut to the column precision, so the value a
// live subscriber sees is the value replay compares against.
func AppendBroadcastEvent(ctx context.Context, db *gorm.DB, ev *domain.BroadcastEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ev.CreatedAt = domain.EventTime(ev.CreatedAt)
	return db.WithContext(ctx).Create(ev).Error
}

// ListBroadcastEventsSince returns every record on channel created at or
// after since, ordered (created_at ASC, id ASC). limit <= 0 means no limit.
func ListBroadcastEventsSince(ctx context.Context, db *gorm.DB, channel string, since time.Time, limit int) ([]domain.BroadcastEvent, error) {
	var out []domain.BroadcastEvent
	q := db.WithContext(ctx).
		Where("channel = ? AND created_at >= ?", channel, since.UTC()).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
