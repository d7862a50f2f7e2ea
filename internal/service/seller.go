package service

import (
	"context"
	"errors"
	"fmt"

	"scriptmarket/internal/client"
	"scriptmarket/internal/dto"
	"scriptmarket/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SellerService interface {
	GetBalance(ctx context.Context, sellerID string) (*dto.BalanceResponse, error)
	ListPayouts(ctx context.Context, sellerID string) ([]*dto.PayoutResponse, error)
	// RefreshConnectedAccount re-reads the connected account and stores its transfer capability.
	RefreshConnectedAccount(ctx context.Context, sellerID string) (*dto.ConnectedAccountResponse, error)
	ListScripts(ctx context.Context, sellerID string) ([]*dto.SellerScriptResponse, error)
}

type sellerServiceImpl struct {
	stripeClient client.StripeClient
	sellerRepo   repository.SellerRepository
	balanceRepo  repository.BalanceRepository
	payoutRepo   repository.PayoutRepository
	scriptRepo   repository.SellerScriptRepository
}

func NewSellerService(
	stripeClient client.StripeClient,
	sellerRepo repository.SellerRepository,
	balanceRepo repository.BalanceRepository,
	payoutRepo repository.PayoutRepository,
	scriptRepo repository.SellerScriptRepository,
) SellerService {
	return &sellerServiceImpl{
		stripeClient: stripeClient,
		sellerRepo:   sellerRepo,
		balanceRepo:  balanceRepo,
		payoutRepo:   payoutRepo,
		scriptRepo:   scriptRepo,
	}
}

func (s *sellerServiceImpl) GetBalance(ctx context.Context, sellerID string) (*dto.BalanceResponse, error) {
	resp := &dto.BalanceResponse{
		SellerID:         sellerID,
		PendingBalance:   decimal.Zero,
		AvailableBalance: decimal.Zero,
		Entries:          []*dto.LedgerEntryResponse{},
	}

	balance, err := s.balanceRepo.Get(ctx, sellerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	resp.PendingBalance = balance.PendingBalance
	resp.AvailableBalance = balance.AvailableBalance

	entries, err := s.balanceRepo.ListEntries(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, &dto.LedgerEntryResponse{
			Bucket:      string(e.Bucket),
			Amount:      e.Amount,
			Type:        string(e.Type),
			ReferenceID: e.ReferenceID,
			CreatedAt:   e.CreatedAt,
		})
	}

	return resp, nil
}

func (s *sellerServiceImpl) ListPayouts(ctx context.Context, sellerID string) ([]*dto.PayoutResponse, error) {
	payouts, err := s.payoutRepo.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}

	resp := make([]*dto.PayoutResponse, 0, len(payouts))
	for _, p := range payouts {
		resp = append(resp, dto.NewPayoutResponse(p))
	}
	return resp, nil
}

func (s *sellerServiceImpl) RefreshConnectedAccount(ctx context.Context, sellerID string) (*dto.ConnectedAccountResponse, error) {
	seller, err := s.sellerRepo.Get(ctx, sellerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: seller %s", ErrNotFound, sellerID)
	}
	if err != nil {
		return nil, fmt.Errorf("load seller: %w", err)
	}
	if seller.StripeAccountID == "" {
		return &dto.ConnectedAccountResponse{}, nil
	}

	account, err := s.stripeClient.GetAccount(ctx, seller.StripeAccountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentProvider, client.ProviderMessage(err))
	}

	if account.TransfersEnabled != seller.TransfersEnabled {
		if _, err := s.sellerRepo.SetTransfersEnabled(ctx, account.ID, account.TransfersEnabled); err != nil {
			return nil, fmt.Errorf("store transfer capability: %w", err)
		}
	}

	return &dto.ConnectedAccountResponse{
		AccountID:        account.ID,
		TransfersEnabled: account.TransfersEnabled,
		PayoutsEnabled:   account.PayoutsEnabled,
	}, nil
}

func (s *sellerServiceImpl) ListScripts(ctx context.Context, sellerID string) ([]*dto.SellerScriptResponse, error) {
	scripts, err := s.scriptRepo.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list seller scripts: %w", err)
	}

	resp := make([]*dto.SellerScriptResponse, 0, len(scripts))
	for _, sc := range scripts {
		resp = append(resp, &dto.SellerScriptResponse{
			PineID:   sc.PineID,
			Name:     sc.Name,
			SyncedAt: sc.SyncedAt,
		})
	}
	return resp, nil
}
