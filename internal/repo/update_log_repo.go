package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/domain"
)

// ListPendingUpdateLogs returns unprocessed, closed change-log rows in
// arrival order (created_at, id).
func ListPendingUpdateLogs(ctx context.Context, db *gorm.DB, limit int) ([]domain.OrderUpdateLog, error) {
	var out []domain.OrderUpdateLog
	q := db.WithContext(ctx).
		Where("is_processed = ? AND is_open = ?", false, false).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ClaimUpdateLog marks a row processed only if nobody else has. A false
// result means another worker owns the row and it must be skipped.
func ClaimUpdateLog(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&domain.OrderUpdateLog{}).
		Where("id = ? AND is_processed = ?", id, false).
		Update("is_processed", true)
	return res.RowsAffected == 1, res.Error
}

// DeleteUpdateLog removes a successfully applied row.
func DeleteUpdateLog(ctx context.Context, tx *gorm.DB, id uint) error {
	return tx.WithContext(ctx).Delete(&domain.OrderUpdateLog{}, id).Error
}

// CreateUpdateLog appends a change-log row the way the upstream triggers do.
// Used by tooling and tests; production rows come from the POS engine.
func CreateUpdateLog(ctx context.Context, db *gorm.DB, orderID uint, voided, open bool, at time.Time) (*domain.OrderUpdateLog, error) {
	l := &domain.OrderUpdateLog{OrderID: orderID, IsVoided: voided, IsOpen: open, CreatedAt: at.UTC()}
	if err := db.WithContext(ctx).Create(l).Error; err != nil {
		return nil, err
	}
	return l, nil
}

// CountStaleUpdateLogs counts rows left processed but undeleted, i.e. rows
// that could not be applied and wait for an operator.
func CountStaleUpdateLogs(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.OrderUpdateLog{}).
		Where("is_processed = ?", true).
		Count(&n).Error
	return n, err
}
