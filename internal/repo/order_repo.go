package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/domain"
)

// CreateDeviceOrder inserts o together with its items.
func CreateDeviceOrder(ctx context.Context, db *gorm.DB, o *domain.DeviceOrder) error {
	return db.WithContext(ctx).Create(o).Error
}

// GetDeviceOrder fetches a DeviceOrder by primary key with its items.
func GetDeviceOrder(ctx context.Context, db *gorm.DB, id uint) (*domain.DeviceOrder, error) {
	var o domain.DeviceOrder
	err := db.WithContext(ctx).
		Preload("Items", func(q *gorm.DB) *gorm.DB { return q.Order("id ASC") }).
		First(&o, id).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetDeviceOrderByOrderID fetches a DeviceOrder by the upstream order id.
func GetDeviceOrderByOrderID(ctx context.Context, db *gorm.DB, orderID uint) (*domain.DeviceOrder, error) {
	var o domain.DeviceOrder
	if err := db.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateOrderStatus moves an order from one status to another only if it is
// still in from. It reports whether the row changed.
func UpdateOrderStatus(ctx context.Context, db *gorm.DB, id uint, from, to domain.OrderStatus) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DeviceOrder{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	return res.RowsAffected == 1, res.Error
}

// GetOrderItem fetches one item of a DeviceOrder.
func GetOrderItem(ctx context.Context, db *gorm.DB, deviceOrderID, itemID uint) (*domain.DeviceOrderItem, error) {
	var it domain.DeviceOrderItem
	err := db.WithContext(ctx).
		Where("id = ? AND device_order_id = ?", itemID, deviceOrderID).
		First(&it).Error
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// UpdateItemStatus is the guarded item counterpart of UpdateOrderStatus.
func UpdateItemStatus(ctx context.Context, db *gorm.DB, deviceOrderID, itemID uint, from, to domain.ItemStatus) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DeviceOrderItem{}).
		Where("id = ? AND device_order_id = ? AND status = ?", itemID, deviceOrderID, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	return res.RowsAffected == 1, res.Error
}

// AppendRefill bumps the order's refill counter, adds the amounts to its
// totals, and inserts items tagged with the new refill number. It must run
// inside a transaction; the new refill number is returned.
func AppendRefill(ctx context.Context, tx *gorm.DB, deviceOrderID uint, items []domain.DeviceOrderItem, subtotal, tax, total float64) (int, error) {
	res := tx.WithContext(ctx).
		Model(&domain.DeviceOrder{}).
		Where("id = ?", deviceOrderID).
		Updates(map[string]any{
			"refill_number": gorm.Expr("refill_number + 1"),
			"subtotal":      gorm.Expr("subtotal + ?", subtotal),
			"tax":           gorm.Expr("tax + ?", tax),
			"total":         gorm.Expr("total + ?", total),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}

	var refills []int
	if err := tx.WithContext(ctx).
		Model(&domain.DeviceOrder{}).
		Where("id = ?", deviceOrderID).
		Pluck("refill_number", &refills).Error; err != nil {
		return 0, err
	}
	if len(refills) == 0 {
		return 0, ErrNotFound
	}
	refill := refills[0]

	for i := range items {
		items[i].DeviceOrderID = deviceOrderID
		items[i].RefillNumber = refill
	}
	if len(items) > 0 {
		if err := tx.WithContext(ctx).Create(&items).Error; err != nil {
			return 0, err
		}
	}
	return refill, nil
}

// MarkOrderPrinted sets is_printed and keeps the first printed_at. It
// reports whether the flag flipped; an already-printed order returns false
// with no error. Missing orders return ErrNotFound.
func MarkOrderPrinted(ctx context.Context, db *gorm.DB, id uint, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DeviceOrder{}).
		Where("id = ? AND is_printed = ?", id, false).
		Updates(map[string]any{
			"is_printed": true,
			"printed_at": gorm.Expr("COALESCE(printed_at, ?)", at),
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	var n int64
	if err := db.WithContext(ctx).Model(&domain.DeviceOrder{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}
