package repository

import (
	"context"
	"time"

	"scriptmarket/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProgramRepository interface {
	Upsert(ctx context.Context, program *model.Program) error
	FindByID(ctx context.Context, programID string) (*model.Program, error)
	ListBySeller(ctx context.Context, sellerID string) ([]*model.Program, error)
	SetStripeIDs(ctx context.Context, programID, productID, priceID string) error
	// DemoteToDraft unpublishes every published program of the seller.
	DemoteToDraft(ctx context.Context, sellerID string) (int64, error)
}

type programRepoImpl struct {
	db *gorm.DB
}

func NewProgramRepository(db *gorm.DB) ProgramRepository {
	return &programRepoImpl{
		db: db,
	}
}

func (r *programRepoImpl) Upsert(ctx context.Context, program *model.Program) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "price", "currency", "pine_id", "trial_period_days", "status", "updated_at",
		}),
	}).Create(program).Error
}

func (r *programRepoImpl) FindByID(ctx context.Context, programID string) (*model.Program, error) {
	var program model.Program
	err := r.db.WithContext(ctx).
		Where("id = ?", programID).
		First(&program).Error

	if err != nil {
		return nil, err
	}

	return &program, nil
}

func (r *programRepoImpl) ListBySeller(ctx context.Context, sellerID string) ([]*model.Program, error) {
	var programs []*model.Program
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at").
		Find(&programs).
		Error

	if err != nil {
		return nil, err
	}

	return programs, nil
}

func (r *programRepoImpl) SetStripeIDs(ctx context.Context, programID, productID, priceID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Program{}).
		Where("id = ?", programID).
		Updates(map[string]interface{}{
			"stripe_product_id": productID,
			"stripe_price_id":   priceID,
			"updated_at":        time.Now().UTC(),
		}).Error
}

func (r *programRepoImpl) DemoteToDraft(ctx context.Context, sellerID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Program{}).
		Where("seller_id = ? AND status = ?", sellerID, model.ProgramStatusPublished).
		Updates(map[string]interface{}{
			"status":     model.ProgramStatusDraft,
			"updated_at": time.Now().UTC(),
		})

	return result.RowsAffected, result.Error
}
