package repository

import (
	"context"
	"fmt"
	"time"

	"scriptmarket/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BalanceDelta is one signed movement on a seller balance bucket.
type BalanceDelta struct {
	SellerID    string
	Bucket      model.BalanceBucket
	Amount      decimal.Decimal
	Type        model.LedgerEntryType
	ReferenceID string
}

// BalanceRepository is the seller ledger. Every mutation appends a ledger entry and
// updates the materialized balance in the same transaction.
type BalanceRepository interface {
	// ApplyDelta adds a signed amount to a bucket with a single UPDATE expression.
	ApplyDelta(ctx context.Context, tx *gorm.DB, delta BalanceDelta) error
	// Debit subtracts a positive amount, failing with ErrInsufficientBalance instead of going negative.
	Debit(ctx context.Context, tx *gorm.DB, delta BalanceDelta) error
	// SettleMatured moves the seller_owed of every unsettled completed purchase
	// older than cutoff from pending to available, marking those purchases settled.
	SettleMatured(ctx context.Context, sellerID string, cutoff, now time.Time) (decimal.Decimal, error)

	Get(ctx context.Context, sellerID string) (*model.SellerBalance, error)
	ListPayable(ctx context.Context, threshold decimal.Decimal) ([]*model.SellerBalance, error)
	ListEntries(ctx context.Context, sellerID string) ([]*model.LedgerEntry, error)
}

type balanceRepoImpl struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) BalanceRepository {
	return &balanceRepoImpl{
		db: db,
	}
}

func (r *balanceRepoImpl) ApplyDelta(ctx context.Context, tx *gorm.DB, delta BalanceDelta) error {
	now := time.Now().UTC()
	column := delta.Bucket.Column()

	row := &model.SellerBalance{
		SellerID:  delta.SellerID,
		UpdatedAt: now,
	}
	if delta.Bucket == model.BucketAvailable {
		row.AvailableBalance = delta.Amount
	} else {
		row.PendingBalance = delta.Amount
	}

	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "seller_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			column:       gorm.Expr("seller_balances."+column+" + ?", delta.Amount),
			"updated_at": now,
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("apply %s delta: %w", delta.Bucket, err)
	}

	return r.appendEntry(ctx, tx, delta, delta.Amount, now)
}

func (r *balanceRepoImpl) Debit(ctx context.Context, tx *gorm.DB, delta BalanceDelta) error {
	now := time.Now().UTC()
	column := delta.Bucket.Column()

	result := tx.WithContext(ctx).Model(&model.SellerBalance{}).
		Where("seller_id = ? AND "+column+" >= ?", delta.SellerID, delta.Amount).
		Updates(map[string]interface{}{
			column:       gorm.Expr(column+" - ?", delta.Amount),
			"updated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("debit %s: %w", delta.Bucket, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientBalance
	}

	return r.appendEntry(ctx, tx, delta, delta.Amount.Neg(), now)
}

func (r *balanceRepoImpl) appendEntry(ctx context.Context, tx *gorm.DB, delta BalanceDelta, signed decimal.Decimal, at time.Time) error {
	entry := &model.LedgerEntry{
		ID:          uuid.NewString(),
		SellerID:    delta.SellerID,
		Bucket:      delta.Bucket,
		Amount:      signed,
		Type:        delta.Type,
		ReferenceID: delta.ReferenceID,
		CreatedAt:   at,
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (r *balanceRepoImpl) SettleMatured(ctx context.Context, sellerID string, cutoff, now time.Time) (decimal.Decimal, error) {
	settlementID := uuid.NewString()
	moved := decimal.Zero

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Concurrent settlers block on these row locks and then skip the rows:
		// settled_at is no longer NULL when they re-check.
		result := tx.Model(&model.Purchase{}).
			Where("seller_id = ? AND status = ? AND settled_at IS NULL AND updated_at < ?",
				sellerID, model.PurchaseStatusCompleted, cutoff).
			Updates(map[string]interface{}{
				"settlement_id": settlementID,
				"settled_at":    now,
			})
		if result.Error != nil {
			return fmt.Errorf("mark purchases settled: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		var sum decimal.Decimal
		row := tx.Model(&model.Purchase{}).
			Select("COALESCE(SUM(seller_owed), 0)").
			Where("settlement_id = ?", settlementID).
			Row()
		if err := row.Scan(&sum); err != nil {
			return fmt.Errorf("sum settled purchases: %w", err)
		}
		if sum.IsZero() {
			return nil
		}

		if err := r.ApplyDelta(ctx, tx, BalanceDelta{
			SellerID:    sellerID,
			Bucket:      model.BucketPending,
			Amount:      sum.Neg(),
			Type:        model.LedgerEntrySettlement,
			ReferenceID: settlementID,
		}); err != nil {
			return err
		}
		if err := r.ApplyDelta(ctx, tx, BalanceDelta{
			SellerID:    sellerID,
			Bucket:      model.BucketAvailable,
			Amount:      sum,
			Type:        model.LedgerEntrySettlement,
			ReferenceID: settlementID,
		}); err != nil {
			return err
		}

		moved = sum
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	return moved, nil
}

func (r *balanceRepoImpl) Get(ctx context.Context, sellerID string) (*model.SellerBalance, error) {
	var balance model.SellerBalance
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		First(&balance).Error
	if err != nil {
		return nil, err
	}

	return &balance, nil
}

func (r *balanceRepoImpl) ListPayable(ctx context.Context, threshold decimal.Decimal) ([]*model.SellerBalance, error) {
	var balances []*model.SellerBalance
	err := r.db.WithContext(ctx).
		Where("available_balance >= ?", threshold).
		Order("seller_id").
		Find(&balances).Error
	if err != nil {
		return nil, err
	}

	return balances, nil
}

func (r *balanceRepoImpl) ListEntries(ctx context.Context, sellerID string) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	return entries, nil
}
