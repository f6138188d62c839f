package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/domain"
)

// CreatePrintEvent inserts a new print job.
func CreatePrintEvent(ctx context.Context, db *gorm.DB, pe *domain.PrintEvent) error {
	return db.WithContext(ctx).Create(pe).Error
}

// GetPrintEvent fetches a print job by id, or ErrNotFound.
func GetPrintEvent(ctx context.Context, db *gorm.DB, id uint) (*domain.PrintEvent, error) {
	var pe domain.PrintEvent
	if err := db.WithContext(ctx).First(&pe, id).Error; err != nil {
		return nil, err
	}
	return &pe, nil
}

// AckPrintEvent acknowledges a job that is not yet acknowledged. It reports
// whether this call performed the acknowledgment.
func AckPrintEvent(ctx context.Context, db *gorm.DB, id uint, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.PrintEvent{}).
		Where("id = ? AND is_acknowledged = ?", id, false).
		Updates(map[string]any{
			"is_acknowledged": true,
			"acknowledged_at": at,
			"printed_at":      at,
			"status":          domain.PrintAcknowledged,
			"next_attempt_at": nil,
			"updated_at":      at,
		})
	return res.RowsAffected == 1, res.Error
}

// RecordPrintFailure applies a failure outcome computed from a snapshot
// whose attempt count was seenAttempts. The update only lands if the row is
// still at that count, unacknowledged, and not escalated, which serializes
// concurrent Fail calls without locks.
func RecordPrintFailure(ctx context.Context, db *gorm.DB, id uint, seenAttempts int, status domain.PrintStatus, next *time.Time, reason string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.PrintEvent{}).
		Where("id = ? AND attempts = ? AND is_acknowledged = ? AND status <> ?", id, seenAttempts, false, domain.PrintEscalated).
		Updates(map[string]any{
			"attempts":        seenAttempts + 1,
			"status":          status,
			"next_attempt_at": next,
			"last_error":      reason,
			"updated_at":      at,
		})
	return res.RowsAffected == 1, res.Error
}

// ListPendingPrintEvents returns unacknowledged jobs awaiting delivery,
// oldest first, with their order and items: every PENDING job plus RETRYING
// jobs whose backoff has elapsed at now.
func ListPendingPrintEvents(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.PrintEvent, error) {
	var out []domain.PrintEvent
	q := db.WithContext(ctx).
		Preload("DeviceOrder").
		Preload("DeviceOrder.Items").
		Where("is_acknowledged = ?", false).
		Where("status = ? OR (status = ? AND next_attempt_at <= ?)", domain.PrintPending, domain.PrintRetrying, now).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListDuePrintRetries returns RETRYING jobs whose next attempt time passed.
func ListDuePrintRetries(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.PrintEvent, error) {
	var out []domain.PrintEvent
	q := db.WithContext(ctx).
		Where("status = ? AND is_acknowledged = ? AND next_attempt_at <= ?", domain.PrintRetrying, false, now).
		Order("next_attempt_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// RequeuePrintEvent moves a due RETRYING job back to PENDING. False means
// someone else (an ack, another sweeper) got there first.
func RequeuePrintEvent(ctx context.Context, db *gorm.DB, id uint, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.PrintEvent{}).
		Where("id = ? AND status = ? AND is_acknowledged = ?", id, domain.PrintRetrying, false).
		Updates(map[string]any{"status": domain.PrintPending, "next_attempt_at": nil, "updated_at": at})
	return res.RowsAffected == 1, res.Error
}

// PurgeAcknowledgedPrintEvents deletes acknowledged jobs acknowledged before
// cutoff together with the broadcast records that carried them. It returns
// the number of print jobs removed.
func PurgeAcknowledgedPrintEvents(ctx context.Context, db *gorm.DB, cutoff time.Time, batch int) (int64, error) {
	var removed int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		q := tx.Model(&domain.PrintEvent{}).
			Where("is_acknowledged = ? AND acknowledged_at < ?", true, cutoff).
			Order("id ASC")
		if batch > 0 {
			q = q.Limit(batch)
		}
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("print_event_id IN ?", ids).Delete(&domain.BroadcastEvent{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&domain.PrintEvent{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	return removed, err
}
