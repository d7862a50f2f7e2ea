package repository

import (
	"context"
	"time"

	"scriptmarket/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SellerRepository interface {
	Upsert(ctx context.Context, seller *model.Seller) error
	Get(ctx context.Context, sellerID string) (*model.Seller, error)
	FindByStripeAccountID(ctx context.Context, accountID string) (*model.Seller, error)
	SetStripeCustomerID(ctx context.Context, sellerID, customerID string) error
	SetTransfersEnabled(ctx context.Context, accountID string, enabled bool) (int64, error)
	// ClearConnectedAccount detaches the connected account and returns the affected seller.
	ClearConnectedAccount(ctx context.Context, accountID string) (*model.Seller, error)
}

type sellerRepoImpl struct {
	db *gorm.DB
}

func NewSellerRepository(db *gorm.DB) SellerRepository {
	return &sellerRepoImpl{
		db: db,
	}
}

func (r *sellerRepoImpl) Upsert(ctx context.Context, seller *model.Seller) error {
	if seller.PayoutMethod == "" {
		seller.PayoutMethod = model.PayoutMethodStripeConnect
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "display_name", "stripe_account_id", "transfers_enabled",
			"payout_method", "paypal_email", "tradingview_username", "updated_at",
		}),
	}).Create(seller).Error
}

func (r *sellerRepoImpl) Get(ctx context.Context, sellerID string) (*model.Seller, error) {
	var seller model.Seller
	err := r.db.WithContext(ctx).
		Where("id = ?", sellerID).
		First(&seller).Error
	if err != nil {
		return nil, err
	}

	return &seller, nil
}

func (r *sellerRepoImpl) FindByStripeAccountID(ctx context.Context, accountID string) (*model.Seller, error) {
	var seller model.Seller
	err := r.db.WithContext(ctx).
		Where("stripe_account_id = ?", accountID).
		First(&seller).Error
	if err != nil {
		return nil, err
	}

	return &seller, nil
}

func (r *sellerRepoImpl) SetStripeCustomerID(ctx context.Context, sellerID, customerID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Seller{}).
		Where("id = ?", sellerID).
		Updates(map[string]interface{}{
			"stripe_customer_id": customerID,
			"updated_at":         time.Now().UTC(),
		}).Error
}

func (r *sellerRepoImpl) SetTransfersEnabled(ctx context.Context, accountID string, enabled bool) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Seller{}).
		Where("stripe_account_id = ?", accountID).
		Updates(map[string]interface{}{
			"transfers_enabled": enabled,
			"updated_at":        time.Now().UTC(),
		})

	return result.RowsAffected, result.Error
}

func (r *sellerRepoImpl) ClearConnectedAccount(ctx context.Context, accountID string) (*model.Seller, error) {
	var seller model.Seller
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("stripe_account_id = ?", accountID).First(&seller).Error; err != nil {
			return err
		}

		return tx.Model(&model.Seller{}).
			Where("id = ?", seller.ID).
			Updates(map[string]interface{}{
				"stripe_account_id": "",
				"transfers_enabled": false,
				"updated_at":        time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return nil, err
	}

	return &seller, nil
}
