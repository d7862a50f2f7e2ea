package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
	PurchaseStatusRefunded  PurchaseStatus = "refunded"
)

type Purchase struct {
	ID                string          `gorm:"primaryKey;size:64;not null"`
	ProgramID         string          `gorm:"size:64;index;not null"`
	BuyerID           string          `gorm:"size:64;index;not null"`
	SellerID          string          `gorm:"size:64;index;not null"`
	SubscriptionID    string          `gorm:"size:64;index"`
	Amount            decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	PlatformFee       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	SellerOwed        decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency          string          `gorm:"size:8;not null"`
	Status            PurchaseStatus  `gorm:"size:16;index;not null"`
	PaymentIntentID   string          `gorm:"size:128;uniqueIndex;not null"` // dedup key for webhook redelivery
	CheckoutSessionID string          `gorm:"size:128"`
	SettlementID      string          `gorm:"size:64;index"`
	SettledAt         *time.Time      `gorm:"index"`
	PurchasedAt       time.Time       `gorm:"not null"`
	UpdatedAt         time.Time       `gorm:"index"`
}

type AssignmentStatus string

const (
	AssignmentStatusPending  AssignmentStatus = "pending"
	AssignmentStatusAssigned AssignmentStatus = "assigned"
	AssignmentStatusFailed   AssignmentStatus = "failed"
	AssignmentStatusExpired  AssignmentStatus = "expired"
	AssignmentStatusRevoked  AssignmentStatus = "revoked"
)

type AccessType string

const (
	AccessTypePurchase     AccessType = "purchase"
	AccessTypeTrial        AccessType = "trial"
	AccessTypeSubscription AccessType = "subscription"
)

// ScriptAssignment tracks access granted to a buyer on the scripting platform.
type ScriptAssignment struct {
	ID                  string           `gorm:"primaryKey;size:64;not null"`
	PurchaseID          string           `gorm:"size:64;index"` // empty for trials
	SubscriptionID      string           `gorm:"size:64;index"`
	ProgramID           string           `gorm:"size:64;index;not null"`
	BuyerID             string           `gorm:"size:64;index;not null"`
	SellerID            string           `gorm:"size:64;index;not null"`
	Status              AssignmentStatus `gorm:"size:16;index;not null"`
	AccessType          AccessType       `gorm:"size:16;not null"`
	IsTrial             bool             `gorm:"index;not null;default:false"`
	TrialDays           int              `gorm:"not null;default:0"`
	ExpiresAt           *time.Time       `gorm:"index"`
	TradingViewUsername string           `gorm:"column:tradingview_username;size:128"`
	PineID              string           `gorm:"size:128"`
	AssignedAt          *time.Time
	RevokedAt           *time.Time
	ErrorMessage        string `gorm:"type:text"`
	AssignmentAttempts  int    `gorm:"not null;default:0"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
