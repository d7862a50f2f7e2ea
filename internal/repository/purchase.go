package repository

import (
	"context"
	"time"

	"scriptmarket/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SellerAmount struct {
	SellerID string
	Amount   decimal.Decimal
}

type PurchaseRepository interface {
	Create(ctx context.Context, tx *gorm.DB, purchase *model.Purchase) error
	ExistsByPaymentIntent(ctx context.Context, tx *gorm.DB, paymentIntentID string) (bool, error)
	FindByID(ctx context.Context, purchaseID string) (*model.Purchase, error)
	FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*model.Purchase, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]*model.Purchase, error)
	// MarkRefunded moves a completed purchase to refunded and reports whether it was
	// already settled, judged by the row as updated inside tx.
	MarkRefunded(ctx context.Context, tx *gorm.DB, purchaseID string) (settled bool, err error)
	// SumMatured groups unsettled completed purchases older than cutoff by seller.
	SumMatured(ctx context.Context, cutoff time.Time) ([]*SellerAmount, error)
}

type purchaseRepoImpl struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &purchaseRepoImpl{
		db: db,
	}
}

func (r *purchaseRepoImpl) Create(ctx context.Context, tx *gorm.DB, purchase *model.Purchase) error {
	return tx.WithContext(ctx).Create(purchase).Error
}

func (r *purchaseRepoImpl) ExistsByPaymentIntent(ctx context.Context, tx *gorm.DB, paymentIntentID string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&model.Purchase{}).
		Where("payment_intent_id = ?", paymentIntentID).
		Count(&count).Error

	return count > 0, err
}

func (r *purchaseRepoImpl) FindByID(ctx context.Context, purchaseID string) (*model.Purchase, error) {
	var purchase model.Purchase
	err := r.db.WithContext(ctx).
		Where("id = ?", purchaseID).
		First(&purchase).Error

	if err != nil {
		return nil, err
	}

	return &purchase, nil
}

func (r *purchaseRepoImpl) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*model.Purchase, error) {
	var purchase model.Purchase
	err := r.db.WithContext(ctx).
		Where("payment_intent_id = ?", paymentIntentID).
		First(&purchase).Error

	if err != nil {
		return nil, err
	}

	return &purchase, nil
}

func (r *purchaseRepoImpl) ListByBuyer(ctx context.Context, buyerID string) ([]*model.Purchase, error) {
	var purchases []*model.Purchase
	err := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("purchased_at DESC").
		Find(&purchases).Error

	if err != nil {
		return nil, err
	}

	return purchases, nil
}

func (r *purchaseRepoImpl) MarkRefunded(ctx context.Context, tx *gorm.DB, purchaseID string) (bool, error) {
	refund := func(query *gorm.DB) (int64, error) {
		result := query.Updates(map[string]interface{}{
			"status":     model.PurchaseStatusRefunded,
			"updated_at": time.Now().UTC(),
		})
		return result.RowsAffected, result.Error
	}

	// A concurrent settlement holds the row lock until it commits; the condition is
	// re-checked afterwards, so an unsettled match cannot be stale.
	rows, err := refund(tx.WithContext(ctx).Model(&model.Purchase{}).
		Where("id = ? AND status = ? AND settled_at IS NULL", purchaseID, model.PurchaseStatusCompleted))
	if err != nil {
		return false, err
	}
	if rows == 1 {
		return false, nil
	}

	rows, err = refund(tx.WithContext(ctx).Model(&model.Purchase{}).
		Where("id = ? AND status = ? AND settled_at IS NOT NULL", purchaseID, model.PurchaseStatusCompleted))
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, ErrStaleTransition
	}
	return true, nil
}

func (r *purchaseRepoImpl) SumMatured(ctx context.Context, cutoff time.Time) ([]*SellerAmount, error) {
	var rows []*SellerAmount
	err := r.db.WithContext(ctx).Model(&model.Purchase{}).
		Select("seller_id, COALESCE(SUM(seller_owed), 0) AS amount").
		Where("status = ? AND settled_at IS NULL AND updated_at < ?", model.PurchaseStatusCompleted, cutoff).
		Group("seller_id").
		Order("seller_id").
		Scan(&rows).Error

	if err != nil {
		return nil, err
	}

	return rows, nil
}
