package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type BalanceBucket string

const (
	BucketPending   BalanceBucket = "pending"
	BucketAvailable BalanceBucket = "available"
)

// Column is the seller_balances column holding the bucket.
func (b BalanceBucket) Column() string {
	if b == BucketAvailable {
		return "available_balance"
	}
	return "pending_balance"
}

type LedgerEntryType string

const (
	LedgerEntrySale       LedgerEntryType = "sale"
	LedgerEntrySettlement LedgerEntryType = "settlement"
	LedgerEntryPayout     LedgerEntryType = "payout"
	LedgerEntryRefund     LedgerEntryType = "refund"
)

// SellerBalance is the materialized sum of a seller's ledger entries.
type SellerBalance struct {
	SellerID         string          `gorm:"primaryKey;size:64;not null"`
	PendingBalance   decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	AvailableBalance decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0;index"`
	UpdatedAt        time.Time
}

// LedgerEntry is append-only. Amount is signed.
type LedgerEntry struct {
	ID          string          `gorm:"primaryKey;size:64;not null"`
	SellerID    string          `gorm:"size:64;index;not null"`
	Bucket      BalanceBucket   `gorm:"size:16;not null"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Type        LedgerEntryType `gorm:"size:16;index;not null"`
	ReferenceID string          `gorm:"size:128;index"`
	CreatedAt   time.Time
}

type PayoutStatus string

const (
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
)

type Payout struct {
	ID                string           `gorm:"primaryKey;size:64;not null"`
	SellerID          string           `gorm:"size:64;index;not null"`
	Amount            decimal.Decimal  `gorm:"type:numeric(12,2);not null"`
	Currency          string           `gorm:"size:8;not null"`
	Status            PayoutStatus     `gorm:"size:16;index;not null"`
	PayoutMethod      PayoutMethodKind `gorm:"size:32;not null"`
	StripeTransferID  string           `gorm:"size:64"`
	ProviderReference string           `gorm:"size:128"` // non-Stripe payout batch id
	FailureReason     string           `gorm:"type:text"`
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
