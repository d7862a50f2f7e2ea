package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"scriptmarket/internal/client"
	"scriptmarket/internal/dto"
	"scriptmarket/internal/logging"
	"scriptmarket/internal/model"
	"scriptmarket/internal/repository"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type CheckoutService interface {
	// CreateCheckout opens a hosted checkout session for a buyer purchasing a program.
	CreateCheckout(ctx context.Context, buyerID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error)
}

type checkoutServiceImpl struct {
	stripeClient   client.StripeClient
	serviceBaseUrl string
	programRepo    repository.ProgramRepository
	sellerRepo     repository.SellerRepository
	logger         zerolog.Logger
}

func NewCheckoutService(
	stripeClient client.StripeClient,
	serviceBaseUrl string,
	programRepo repository.ProgramRepository,
	sellerRepo repository.SellerRepository,
) CheckoutService {
	return &checkoutServiceImpl{
		stripeClient:   stripeClient,
		serviceBaseUrl: strings.TrimRight(serviceBaseUrl, "/"),
		programRepo:    programRepo,
		sellerRepo:     sellerRepo,
		logger:         logging.Component("checkout"),
	}
}

func (s *checkoutServiceImpl) CreateCheckout(ctx context.Context, buyerID string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
	if buyerID == "" {
		return nil, fmt.Errorf("%w: buyer is required", ErrInvalidInput)
	}
	if req == nil || req.ProgramID == "" {
		return nil, fmt.Errorf("%w: program_id is required", ErrInvalidInput)
	}
	username := strings.TrimSpace(req.TradingViewUsername)

	program, err := s.programRepo.FindByID(ctx, req.ProgramID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: program %s", ErrNotFound, req.ProgramID)
	}
	if err != nil {
		return nil, fmt.Errorf("load program: %w", err)
	}
	if program.Status != model.ProgramStatusPublished {
		return nil, fmt.Errorf("%w: program %s is not available for purchase", ErrInvalidInput, program.ID)
	}
	if program.SellerID == buyerID {
		return nil, fmt.Errorf("%w: sellers cannot buy their own programs", ErrInvalidInput)
	}
	if program.PineID != "" && username == "" {
		return nil, fmt.Errorf("%w: tradingview_username is required for script delivery", ErrInvalidInput)
	}
	if err := s.checkSellerPayable(ctx, program.SellerID); err != nil {
		return nil, err
	}

	buyer, err := s.loadBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.stripeClient.GetOrCreateCustomer(ctx, client.CustomerParams{
		ExistingID: buyer.StripeCustomerID,
		Email:      buyer.Email,
		UserID:     buyer.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentProvider, client.ProviderMessage(err))
	}
	if customerID != buyer.StripeCustomerID {
		if err := s.sellerRepo.SetStripeCustomerID(ctx, buyer.ID, customerID); err != nil {
			return nil, fmt.Errorf("store stripe customer: %w", err)
		}
	}

	price, err := s.stripeClient.EnsurePrice(ctx, program)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentProvider, client.ProviderMessage(err))
	}
	if price.ProductID != program.StripeProductID || price.PriceID != program.StripePriceID {
		if err := s.programRepo.SetStripeIDs(ctx, program.ID, price.ProductID, price.PriceID); err != nil {
			return nil, fmt.Errorf("store stripe price: %w", err)
		}
	}

	session, err := s.stripeClient.CreateCheckoutSession(ctx, client.CheckoutSessionParams{
		CustomerID:   customerID,
		PriceID:      price.PriceID,
		Subscription: program.BillingInterval != "",
		SuccessURL: s.serviceBaseUrl + "/purchases/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.serviceBaseUrl + "/programs/" + url.PathEscape(program.ID),
		Metadata: map[string]string{
			"program_id":           program.ID,
			"buyer_id":             buyer.ID,
			"seller_id":            program.SellerID,
			"tradingview_username": username,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentProvider, client.ProviderMessage(err))
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("program_id", program.ID).
		Str("buyer_id", buyer.ID).
		Msg("checkout session created")

	return &dto.CheckoutResponse{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
	}, nil
}

// checkSellerPayable refuses sales the seller could never be paid out for.
func (s *checkoutServiceImpl) checkSellerPayable(ctx context.Context, sellerID string) error {
	seller, err := s.sellerRepo.Get(ctx, sellerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: seller %s has no profile", ErrInvalidInput, sellerID)
	}
	if err != nil {
		return fmt.Errorf("load seller: %w", err)
	}

	switch seller.PayoutMethod {
	case "", model.PayoutMethodStripeConnect:
		if seller.StripeAccountID == "" || !seller.TransfersEnabled {
			return fmt.Errorf("%w: seller %s cannot receive transfers yet", ErrInvalidInput, sellerID)
		}
	case model.PayoutMethodPayPal:
		if seller.PaypalEmail == "" {
			return fmt.Errorf("%w: seller %s has no paypal email", ErrInvalidInput, sellerID)
		}
	default:
		return fmt.Errorf("%w: seller %s uses unsupported payout method %s", ErrInvalidInput, sellerID, seller.PayoutMethod)
	}
	return nil
}

// loadBuyer returns the buyer profile, creating an empty one on first purchase.
func (s *checkoutServiceImpl) loadBuyer(ctx context.Context, buyerID string) (*model.Seller, error) {
	buyer, err := s.sellerRepo.Get(ctx, buyerID)
	if err == nil {
		return buyer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load buyer: %w", err)
	}

	buyer = &model.Seller{ID: buyerID}
	if err := s.sellerRepo.Upsert(ctx, buyer); err != nil {
		return nil, fmt.Errorf("create buyer profile: %w", err)
	}
	return buyer, nil
}
