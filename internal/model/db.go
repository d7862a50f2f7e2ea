package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProgramStatus string

const (
	ProgramStatusDraft     ProgramStatus = "draft"
	ProgramStatusPublished ProgramStatus = "published"
)

// Program is a sellable indicator script listing.
type Program struct {
	ID              string          `gorm:"primaryKey;size:64;not null"`
	SellerID        string          `gorm:"size:64;index;not null"`
	Title           string          `gorm:"size:255;not null"`
	Price           decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency        string          `gorm:"size:8;not null"`
	PineID          string          `gorm:"size:128"` // script id on the scripting platform
	TrialPeriodDays int             `gorm:"not null;default:0"`
	BillingInterval string          `gorm:"size:8"` // "" for one-time purchases, month or year for subscriptions
	Status          ProgramStatus   `gorm:"size:16;index;not null"`
	StripeProductID string          `gorm:"size:64"`
	StripePriceID   string          `gorm:"size:64"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type PayoutMethodKind string

const (
	PayoutMethodStripeConnect PayoutMethodKind = "stripe_connect"
	PayoutMethodBankTransfer  PayoutMethodKind = "bank_transfer"
	PayoutMethodPayPal        PayoutMethodKind = "paypal"
)

// Seller is the marketplace profile of a user. Buyers and sellers share the table.
type Seller struct {
	ID                  string           `gorm:"primaryKey;size:64;not null"`
	Email               string           `gorm:"size:255"`
	DisplayName         string           `gorm:"size:255"`
	StripeCustomerID    string           `gorm:"size:64;index"`
	StripeAccountID     string           `gorm:"size:64;index"` // connected account
	TransfersEnabled    bool             `gorm:"not null;default:false"`
	PayoutMethod        PayoutMethodKind `gorm:"size:32;not null"`
	PaypalEmail         string           `gorm:"size:255"`
	TradingViewUsername string           `gorm:"column:tradingview_username;size:128"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SubscriptionStatusCanceled is the provider status of a subscription that ended for good.
const SubscriptionStatusCanceled = "canceled"

type Subscription struct {
	ID                string `gorm:"primaryKey;size:64;not null"` // provider subscription id
	ProgramID         string `gorm:"size:64;index;not null"`
	BuyerID           string `gorm:"size:64;index;not null"`
	SellerID          string `gorm:"size:64;index;not null"`
	Status            string `gorm:"size:32;not null"` // provider status: active, past_due, canceled, ...
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool `gorm:"not null;default:false"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;not null"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}

// SellerScript caches the scripts a seller has published on the scripting platform.
type SellerScript struct {
	SellerID string `gorm:"primaryKey;size:64;not null"`
	PineID   string `gorm:"primaryKey;size:128;not null"`
	Name     string `gorm:"size:255"`
	SyncedAt time.Time
}

// Tables lists every persisted model, in migration order.
func Tables() []interface{} {
	return []interface{}{
		&Program{},
		&Seller{},
		&Purchase{},
		&ScriptAssignment{},
		&SellerBalance{},
		&LedgerEntry{},
		&Payout{},
		&Subscription{},
		&WebhookEvent{},
		&SellerScript{},
	}
}
