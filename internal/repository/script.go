package repository

import (
	"context"

	"scriptmarket/internal/model"

	"gorm.io/gorm"
)

type SellerScriptRepository interface {
	// Replace swaps the cached script list of a seller for a fresh sync.
	Replace(ctx context.Context, sellerID string, scripts []*model.SellerScript) error
	ListBySeller(ctx context.Context, sellerID string) ([]*model.SellerScript, error)
}

type sellerScriptRepoImpl struct {
	db *gorm.DB
}

func NewSellerScriptRepository(db *gorm.DB) SellerScriptRepository {
	return &sellerScriptRepoImpl{db: db}
}

func (r *sellerScriptRepoImpl) Replace(ctx context.Context, sellerID string, scripts []*model.SellerScript) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("seller_id = ?", sellerID).Delete(&model.SellerScript{}).Error; err != nil {
			return err
		}
		if len(scripts) == 0 {
			return nil
		}
		return tx.Create(&scripts).Error
	})
}

func (r *sellerScriptRepoImpl) ListBySeller(ctx context.Context, sellerID string) ([]*model.SellerScript, error) {
	var scripts []*model.SellerScript
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("name").
		Find(&scripts).Error
	if err != nil {
		return nil, err
	}

	return scripts, nil
}
