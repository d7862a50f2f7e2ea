package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scriptmarket/internal/client"
	"scriptmarket/internal/dto"
	"scriptmarket/internal/logging"
	"scriptmarket/internal/metrics"
	"scriptmarket/internal/model"
	"scriptmarket/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const JobProcessPayouts = "process-payouts"

type PayoutService interface {
	// ProcessPayouts pays out every seller whose available balance reached the threshold.
	ProcessPayouts(ctx context.Context) (*dto.PayoutRunResult, error)
}

type payoutServiceImpl struct {
	db          *gorm.DB
	balanceRepo repository.BalanceRepository
	sellerRepo  repository.SellerRepository
	payoutRepo  repository.PayoutRepository
	methods     PayoutMethods
	threshold   decimal.Decimal
	currency    string
	logger      zerolog.Logger
	nowFn       func() time.Time
}

func NewPayoutService(
	db *gorm.DB,
	balanceRepo repository.BalanceRepository,
	sellerRepo repository.SellerRepository,
	payoutRepo repository.PayoutRepository,
	methods PayoutMethods,
	threshold decimal.Decimal,
	currency string,
) PayoutService {
	return &payoutServiceImpl{
		db:          db,
		balanceRepo: balanceRepo,
		sellerRepo:  sellerRepo,
		payoutRepo:  payoutRepo,
		methods:     methods,
		threshold:   threshold,
		currency:    currency,
		logger:      logging.Component("payouts"),
		nowFn:       time.Now,
	}
}

func (s *payoutServiceImpl) ProcessPayouts(ctx context.Context) (*dto.PayoutRunResult, error) {
	balances, err := s.balanceRepo.ListPayable(ctx, s.threshold)
	if err != nil {
		return nil, fmt.Errorf("list payable balances: %w", err)
	}

	result := &dto.PayoutRunResult{
		SweepResult: dto.SweepResult{Job: JobProcessPayouts},
		Payouts:     make([]*dto.PayoutItem, 0, len(balances)),
	}

	for _, balance := range balances {
		item := s.payoutSeller(ctx, balance)
		result.Payouts = append(result.Payouts, item)
		result.Processed++

		switch model.PayoutStatus(item.Status) {
		case model.PayoutStatusCompleted:
			result.Completed++
		case model.PayoutStatusFailed:
			result.Failed++
		}
		if item.Error != "" {
			result.Errors++
		}
		metrics.PayoutsTotal.WithLabelValues(item.Method, item.Status).Inc()
	}

	s.logger.Info().
		Int("processed", result.Processed).
		Int("completed", result.Completed).
		Int("failed", result.Failed).
		Msg("payout run finished")

	return result, nil
}

func (s *payoutServiceImpl) payoutSeller(ctx context.Context, balance *model.SellerBalance) *dto.PayoutItem {
	item := &dto.PayoutItem{
		SellerID: balance.SellerID,
		Amount:   balance.AvailableBalance,
	}
	logger := s.logger.With().Str("seller_id", balance.SellerID).Logger()

	// A processing payout means money may already be in flight; it needs reconciling first.
	inFlight, err := s.payoutRepo.HasProcessing(ctx, balance.SellerID)
	if err != nil {
		logger.Error().Err(err).Msg("check processing payouts")
		item.Status = "error"
		item.Error = err.Error()
		return item
	}
	if inFlight {
		logger.Warn().Msg("seller has a processing payout, skipping")
		item.Status = string(model.PayoutStatusProcessing)
		item.Error = "payout already processing"
		return item
	}

	seller, err := s.sellerRepo.Get(ctx, balance.SellerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.rejectPayout(ctx, item, model.PayoutMethodStripeConnect, "seller profile not found")
	}
	if err != nil {
		logger.Error().Err(err).Msg("load seller")
		item.Status = "error"
		item.Error = err.Error()
		return item
	}

	method, err := s.methods.Resolve(seller.PayoutMethod)
	if err != nil {
		return s.rejectPayout(ctx, item, seller.PayoutMethod, err.Error())
	}
	item.Method = string(method.Kind())

	if err := method.Eligible(seller); err != nil {
		return s.rejectPayout(ctx, item, method.Kind(), err.Error())
	}

	payout := &model.Payout{
		ID:           uuid.NewString(),
		SellerID:     seller.ID,
		Amount:       balance.AvailableBalance,
		Currency:     s.currency,
		Status:       model.PayoutStatusProcessing,
		PayoutMethod: method.Kind(),
	}
	if err := s.payoutRepo.Create(ctx, payout); err != nil {
		logger.Error().Err(err).Msg("create payout")
		item.Status = "error"
		item.Error = err.Error()
		return item
	}
	item.PayoutID = payout.ID

	receipt, err := method.Pay(ctx, seller, payout)
	if err != nil {
		reason := client.ProviderMessage(err)
		logger.Warn().Err(err).Str("payout_id", payout.ID).Msg("payout transfer failed")
		if markErr := s.payoutRepo.MarkFailed(ctx, payout.ID, reason); markErr != nil {
			logger.Error().Err(markErr).Str("payout_id", payout.ID).Msg("mark payout failed")
		}
		item.Status = string(model.PayoutStatusFailed)
		item.Error = reason
		return item
	}

	completedAt := s.nowFn().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.payoutRepo.MarkCompleted(ctx, tx, payout.ID, receipt, completedAt); err != nil {
			return fmt.Errorf("mark payout completed: %w", err)
		}
		return s.balanceRepo.Debit(ctx, tx, repository.BalanceDelta{
			SellerID:    seller.ID,
			Bucket:      model.BucketAvailable,
			Amount:      payout.Amount,
			Type:        model.LedgerEntryPayout,
			ReferenceID: payout.ID,
		})
	})
	if err != nil {
		// Money already left the platform; the payout stays processing for manual reconciliation.
		logger.Error().Err(err).
			Str("payout_id", payout.ID).
			Str("transfer_id", receipt.StripeTransferID).
			Str("provider_reference", receipt.ProviderReference).
			Msg("payout sent but ledger update failed")
		item.Status = string(model.PayoutStatusProcessing)
		item.Error = err.Error()
		return item
	}

	logger.Info().Str("payout_id", payout.ID).Str("amount", payout.Amount.StringFixed(2)).Msg("payout completed")
	item.Status = string(model.PayoutStatusCompleted)
	return item
}

// rejectPayout records an attempt that could not be sent as a failed payout.
func (s *payoutServiceImpl) rejectPayout(ctx context.Context, item *dto.PayoutItem, kind model.PayoutMethodKind, reason string) *dto.PayoutItem {
	if kind == "" {
		kind = model.PayoutMethodStripeConnect
	}
	item.Method = string(kind)
	item.Status = string(model.PayoutStatusFailed)
	item.Error = reason

	payout := &model.Payout{
		ID:            uuid.NewString(),
		SellerID:      item.SellerID,
		Amount:        item.Amount,
		Currency:      s.currency,
		Status:        model.PayoutStatusFailed,
		PayoutMethod:  kind,
		FailureReason: reason,
	}
	if err := s.payoutRepo.Create(ctx, payout); err != nil {
		s.logger.Error().Err(err).Str("seller_id", item.SellerID).Msg("record rejected payout")
		return item
	}

	s.logger.Info().Str("seller_id", item.SellerID).Str("reason", reason).Msg("seller not eligible for payout")
	item.PayoutID = payout.ID
	return item
}
