package dto

import (
	"time"

	"scriptmarket/internal/model"

	"github.com/shopspring/decimal"
)

type CheckoutRequest struct {
	ProgramID           string `json:"program_id"`
	TradingViewUsername string `json:"tradingview_username"`
}

type CheckoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

type TrialRequest struct {
	ProgramID           string `json:"program_id"`
	TradingViewUsername string `json:"tradingview_username"`
}

// SweepResult is the operator-facing summary of one job run.
type SweepResult struct {
	Job       string `json:"job"`
	Processed int    `json:"processed"`
	Errors    int    `json:"errors"`
}

func (r SweepResult) Summary() SweepResult {
	return r
}

// Summary is implemented by every job result through the embedded SweepResult.
type Summary interface {
	Summary() SweepResult
}

type DispatchResult struct {
	SweepResult
	Assigned int `json:"assigned"`
	Failed   int `json:"failed"`
}

type SellerSettlement struct {
	SellerID string          `json:"seller_id"`
	Amount   decimal.Decimal `json:"amount"`
	Error    string          `json:"error,omitempty"`
}

type SettlementResult struct {
	SweepResult
	Settled decimal.Decimal     `json:"settled"`
	Sellers []*SellerSettlement `json:"sellers"`
}

type PayoutItem struct {
	SellerID string          `json:"seller_id"`
	PayoutID string          `json:"payout_id,omitempty"`
	Method   string          `json:"method,omitempty"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Error    string          `json:"error,omitempty"`
}

type PayoutRunResult struct {
	SweepResult
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Payouts   []*PayoutItem `json:"payouts"`
}

type AssignmentResponse struct {
	ID                  string     `json:"id"`
	PurchaseID          string     `json:"purchase_id,omitempty"`
	ProgramID           string     `json:"program_id"`
	Status              string     `json:"status"`
	AccessType          string     `json:"access_type"`
	IsTrial             bool       `json:"is_trial"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	TradingViewUsername string     `json:"tradingview_username"`
	AssignedAt          *time.Time `json:"assigned_at,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	AssignmentAttempts  int        `json:"assignment_attempts"`
}

func NewAssignmentResponse(a *model.ScriptAssignment) *AssignmentResponse {
	return &AssignmentResponse{
		ID:                  a.ID,
		PurchaseID:          a.PurchaseID,
		ProgramID:           a.ProgramID,
		Status:              string(a.Status),
		AccessType:          string(a.AccessType),
		IsTrial:             a.IsTrial,
		ExpiresAt:           a.ExpiresAt,
		TradingViewUsername: a.TradingViewUsername,
		AssignedAt:          a.AssignedAt,
		ErrorMessage:        a.ErrorMessage,
		AssignmentAttempts:  a.AssignmentAttempts,
	}
}

type PurchaseResponse struct {
	ID          string          `json:"id"`
	ProgramID   string          `json:"program_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	PurchasedAt time.Time       `json:"purchased_at"`
}

func NewPurchaseResponse(p *model.Purchase) *PurchaseResponse {
	return &PurchaseResponse{
		ID:          p.ID,
		ProgramID:   p.ProgramID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Status:      string(p.Status),
		PurchasedAt: p.PurchasedAt,
	}
}

type LedgerEntryResponse struct {
	Bucket      string          `json:"bucket"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	ReferenceID string          `json:"reference_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

type BalanceResponse struct {
	SellerID         string                 `json:"seller_id"`
	PendingBalance   decimal.Decimal        `json:"pending_balance"`
	AvailableBalance decimal.Decimal        `json:"available_balance"`
	Entries          []*LedgerEntryResponse `json:"entries"`
}

type PayoutResponse struct {
	ID               string          `json:"id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	PayoutMethod     string          `json:"payout_method"`
	StripeTransferID string          `json:"stripe_transfer_id,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

func NewPayoutResponse(p *model.Payout) *PayoutResponse {
	return &PayoutResponse{
		ID:               p.ID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Status:           string(p.Status),
		PayoutMethod:     string(p.PayoutMethod),
		StripeTransferID: p.StripeTransferID,
		FailureReason:    p.FailureReason,
		CreatedAt:        p.CreatedAt,
		CompletedAt:      p.CompletedAt,
	}
}

type ConnectedAccountResponse struct {
	AccountID        string `json:"account_id"`
	TransfersEnabled bool   `json:"transfers_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
}

type SellerScriptResponse struct {
	PineID   string    `json:"pine_id"`
	Name     string    `json:"name"`
	SyncedAt time.Time `json:"synced_at"`
}
