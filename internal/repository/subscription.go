package repository

import (
	"context"
	"time"

	"scriptmarket/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, subscriptionID, status string, periodEnd *time.Time, cancelAtPeriodEnd bool) (int64, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*model.Subscription, error)
}

type subscriptionRepoImpl struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepoImpl{
		db: db,
	}
}

func (r *subscriptionRepoImpl) Upsert(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "current_period_end", "cancel_at_period_end", "updated_at"}),
	}).Create(sub).Error
}

func (r *subscriptionRepoImpl) UpdateStatus(ctx context.Context, tx *gorm.DB, subscriptionID, status string, periodEnd *time.Time, cancelAtPeriodEnd bool) (int64, error) {
	updates := map[string]interface{}{
		"status":               status,
		"cancel_at_period_end": cancelAtPeriodEnd,
		"updated_at":           time.Now().UTC(),
	}
	if periodEnd != nil {
		updates["current_period_end"] = *periodEnd
	}

	result := tx.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(updates)

	return result.RowsAffected, result.Error
}

func (r *subscriptionRepoImpl) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("id = ?", subscriptionID).
		First(&sub).
		Error

	if err != nil {
		return nil, err
	}

	return &sub, nil
}
