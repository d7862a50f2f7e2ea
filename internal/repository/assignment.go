package repository

import (
	"context"
	"time"

	"scriptmarket/internal/model"

	"gorm.io/gorm"
)

type AssignmentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, assignment *model.ScriptAssignment) error
	FindByID(ctx context.Context, assignmentID string) (*model.ScriptAssignment, error)
	ListByStatus(ctx context.Context, status model.AssignmentStatus) ([]*model.ScriptAssignment, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]*model.ScriptAssignment, error)
	// ListOpenByPurchase and ListOpenBySubscription return pending, failed and assigned rows.
	ListOpenByPurchase(ctx context.Context, purchaseID string) ([]*model.ScriptAssignment, error)
	ListOpenBySubscription(ctx context.Context, subscriptionID string) ([]*model.ScriptAssignment, error)
	// ListExpiredTrials returns assigned trials with expires_at strictly before now.
	ListExpiredTrials(ctx context.Context, now time.Time) ([]*model.ScriptAssignment, error)
	HasTrial(ctx context.Context, buyerID, programID string) (bool, error)

	// BeginAttempt bumps assignment_attempts if the assignment is still dispatchable.
	BeginAttempt(ctx context.Context, assignmentID string) error
	MarkAssigned(ctx context.Context, assignmentID string, assignedAt time.Time, expiresAt *time.Time) error
	MarkFailed(ctx context.Context, assignmentID string, message string) error
	// Transition moves an assignment from one status to another; false if it was no longer in from.
	Transition(ctx context.Context, assignmentID string, from, to model.AssignmentStatus, at time.Time) (bool, error)
}

type assignmentRepoImpl struct {
	db *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepoImpl{
		db: db,
	}
}

var dispatchableStatuses = []model.AssignmentStatus{
	model.AssignmentStatusPending,
	model.AssignmentStatusFailed,
}

var openStatuses = []model.AssignmentStatus{
	model.AssignmentStatusPending,
	model.AssignmentStatusFailed,
	model.AssignmentStatusAssigned,
}

func (r *assignmentRepoImpl) Create(ctx context.Context, tx *gorm.DB, assignment *model.ScriptAssignment) error {
	return tx.WithContext(ctx).Create(assignment).Error
}

func (r *assignmentRepoImpl) FindByID(ctx context.Context, assignmentID string) (*model.ScriptAssignment, error) {
	var assignment model.ScriptAssignment
	err := r.db.WithContext(ctx).
		Where("id = ?", assignmentID).
		First(&assignment).Error
	if err != nil {
		return nil, err
	}

	return &assignment, nil
}

func (r *assignmentRepoImpl) ListByStatus(ctx context.Context, status model.AssignmentStatus) ([]*model.ScriptAssignment, error) {
	return r.find(ctx, r.db.Where("status = ?", status).Order("created_at"))
}

func (r *assignmentRepoImpl) ListByBuyer(ctx context.Context, buyerID string) ([]*model.ScriptAssignment, error) {
	return r.find(ctx, r.db.Where("buyer_id = ?", buyerID).Order("created_at DESC"))
}

func (r *assignmentRepoImpl) ListOpenByPurchase(ctx context.Context, purchaseID string) ([]*model.ScriptAssignment, error) {
	return r.find(ctx, r.db.Where("purchase_id = ? AND status IN ?", purchaseID, openStatuses))
}

func (r *assignmentRepoImpl) ListOpenBySubscription(ctx context.Context, subscriptionID string) ([]*model.ScriptAssignment, error) {
	return r.find(ctx, r.db.Where("subscription_id = ? AND status IN ?", subscriptionID, openStatuses))
}

func (r *assignmentRepoImpl) ListExpiredTrials(ctx context.Context, now time.Time) ([]*model.ScriptAssignment, error) {
	return r.find(ctx, r.db.
		Where("is_trial = ? AND status = ? AND expires_at < ?", true, model.AssignmentStatusAssigned, now).
		Order("expires_at"))
}

func (r *assignmentRepoImpl) find(ctx context.Context, query *gorm.DB) ([]*model.ScriptAssignment, error) {
	var assignments []*model.ScriptAssignment
	if err := query.WithContext(ctx).Find(&assignments).Error; err != nil {
		return nil, err
	}
	return assignments, nil
}

func (r *assignmentRepoImpl) HasTrial(ctx context.Context, buyerID, programID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ScriptAssignment{}).
		Where("buyer_id = ? AND program_id = ? AND is_trial = ?", buyerID, programID, true).
		Count(&count).Error

	return count > 0, err
}

func (r *assignmentRepoImpl) BeginAttempt(ctx context.Context, assignmentID string) error {
	result := r.db.WithContext(ctx).Model(&model.ScriptAssignment{}).
		Where("id = ? AND status IN ?", assignmentID, dispatchableStatuses).
		Updates(map[string]interface{}{
			"assignment_attempts": gorm.Expr("assignment_attempts + 1"),
			"updated_at":          time.Now().UTC(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (r *assignmentRepoImpl) MarkAssigned(ctx context.Context, assignmentID string, assignedAt time.Time, expiresAt *time.Time) error {
	updates := map[string]interface{}{
		"status":        model.AssignmentStatusAssigned,
		"assigned_at":   assignedAt,
		"error_message": "",
		"updated_at":    assignedAt,
	}
	if expiresAt != nil {
		updates["expires_at"] = *expiresAt
	}

	result := r.db.WithContext(ctx).Model(&model.ScriptAssignment{}).
		Where("id = ? AND status IN ?", assignmentID, dispatchableStatuses).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (r *assignmentRepoImpl) MarkFailed(ctx context.Context, assignmentID string, message string) error {
	result := r.db.WithContext(ctx).Model(&model.ScriptAssignment{}).
		Where("id = ? AND status IN ?", assignmentID, dispatchableStatuses).
		Updates(map[string]interface{}{
			"status":        model.AssignmentStatusFailed,
			"error_message": message,
			"updated_at":    time.Now().UTC(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (r *assignmentRepoImpl) Transition(ctx context.Context, assignmentID string, from, to model.AssignmentStatus, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}
	if to == model.AssignmentStatusRevoked || to == model.AssignmentStatusExpired {
		updates["revoked_at"] = at
	}

	result := r.db.WithContext(ctx).Model(&model.ScriptAssignment{}).
		Where("id = ? AND status = ?", assignmentID, from).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
