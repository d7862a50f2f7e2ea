package service

import (
	"context"
	"fmt"
	"time"

	"scriptmarket/internal/dto"
	"scriptmarket/internal/logging"
	"scriptmarket/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const JobSettleBalances = "settle-balances"

type SettlementService interface {
	// SettleBalances moves earnings of purchases older than the clearance window from pending to available.
	SettleBalances(ctx context.Context, now time.Time) (*dto.SettlementResult, error)
}

type settlementServiceImpl struct {
	purchaseRepo repository.PurchaseRepository
	balanceRepo  repository.BalanceRepository
	clearance    time.Duration
	logger       zerolog.Logger
}

func NewSettlementService(
	purchaseRepo repository.PurchaseRepository,
	balanceRepo repository.BalanceRepository,
	clearance time.Duration,
) SettlementService {
	return &settlementServiceImpl{
		purchaseRepo: purchaseRepo,
		balanceRepo:  balanceRepo,
		clearance:    clearance,
		logger:       logging.Component("settlement"),
	}
}

func (s *settlementServiceImpl) SettleBalances(ctx context.Context, now time.Time) (*dto.SettlementResult, error) {
	now = now.UTC()
	cutoff := now.Add(-s.clearance)

	matured, err := s.purchaseRepo.SumMatured(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list matured purchases: %w", err)
	}

	result := &dto.SettlementResult{
		SweepResult: dto.SweepResult{Job: JobSettleBalances},
		Settled:     decimal.Zero,
		Sellers:     make([]*dto.SellerSettlement, 0, len(matured)),
	}

	for _, row := range matured {
		entry := &dto.SellerSettlement{SellerID: row.SellerID}
		result.Sellers = append(result.Sellers, entry)

		moved, err := s.balanceRepo.SettleMatured(ctx, row.SellerID, cutoff, now)
		if err != nil {
			s.logger.Error().Err(err).Str("seller_id", row.SellerID).Msg("settle seller balance")
			entry.Error = err.Error()
			result.Errors++
			continue
		}

		entry.Amount = moved
		result.Settled = result.Settled.Add(moved)
		result.Processed++
	}

	s.logger.Info().
		Int("sellers", result.Processed).
		Int("errors", result.Errors).
		Str("settled", result.Settled.StringFixed(2)).
		Time("cutoff", cutoff).
		Msg("settlement run finished")

	return result, nil
}
