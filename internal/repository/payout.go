package repository

import (
	"context"
	"time"

	"scriptmarket/internal/model"

	"gorm.io/gorm"
)

type PayoutRepository interface {
	Create(ctx context.Context, payout *model.Payout) error
	Get(ctx context.Context, payoutID string) (*model.Payout, error)
	ListBySeller(ctx context.Context, sellerID string) ([]*model.Payout, error)
	HasProcessing(ctx context.Context, sellerID string) (bool, error)
	// MarkCompleted and MarkFailed only move a payout out of processing.
	MarkCompleted(ctx context.Context, tx *gorm.DB, payoutID string, receipt PayoutReceipt, at time.Time) error
	MarkFailed(ctx context.Context, payoutID, reason string) error
}

type PayoutReceipt struct {
	StripeTransferID  string
	ProviderReference string
}

type payoutRepoImpl struct {
	db *gorm.DB
}

func NewPayoutRepository(db *gorm.DB) PayoutRepository {
	return &payoutRepoImpl{
		db: db,
	}
}

func (r *payoutRepoImpl) Create(ctx context.Context, payout *model.Payout) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *payoutRepoImpl) Get(ctx context.Context, payoutID string) (*model.Payout, error) {
	var payout model.Payout
	err := r.db.WithContext(ctx).
		Where("id = ?", payoutID).
		First(&payout).Error
	if err != nil {
		return nil, err
	}

	return &payout, nil
}

func (r *payoutRepoImpl) ListBySeller(ctx context.Context, sellerID string) ([]*model.Payout, error) {
	var payouts []*model.Payout
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		Find(&payouts).Error
	if err != nil {
		return nil, err
	}

	return payouts, nil
}

func (r *payoutRepoImpl) HasProcessing(ctx context.Context, sellerID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Payout{}).
		Where("seller_id = ? AND status = ?", sellerID, model.PayoutStatusProcessing).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *payoutRepoImpl) MarkCompleted(ctx context.Context, tx *gorm.DB, payoutID string, receipt PayoutReceipt, at time.Time) error {
	result := tx.WithContext(ctx).Model(&model.Payout{}).
		Where("id = ? AND status = ?", payoutID, model.PayoutStatusProcessing).
		Updates(map[string]interface{}{
			"status":             model.PayoutStatusCompleted,
			"stripe_transfer_id": receipt.StripeTransferID,
			"provider_reference": receipt.ProviderReference,
			"completed_at":       at,
			"updated_at":         at,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (r *payoutRepoImpl) MarkFailed(ctx context.Context, payoutID, reason string) error {
	result := r.db.WithContext(ctx).Model(&model.Payout{}).
		Where("id = ? AND status = ?", payoutID, model.PayoutStatusProcessing).
		Updates(map[string]interface{}{
			"status":         model.PayoutStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}
