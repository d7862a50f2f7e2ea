package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"scriptmarket/internal/client"
	"scriptmarket/internal/logging"
	"scriptmarket/internal/metrics"
	"scriptmarket/internal/model"
	"scriptmarket/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"
)

type WebhookService interface {
	// HandleStripeWebhook verifies and applies one payment provider event. Redelivered
	// events are acknowledged without side effects.
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error
}

type webhookServiceImpl struct {
	db               *gorm.DB
	stripeClient     client.StripeClient
	programRepo      repository.ProgramRepository
	sellerRepo       repository.SellerRepository
	purchaseRepo     repository.PurchaseRepository
	assignmentRepo   repository.AssignmentRepository
	balanceRepo      repository.BalanceRepository
	subscriptionRepo repository.SubscriptionRepository
	webhookEventRepo repository.WebhookEventRepository
	assignments      AssignmentService
	feeRate          decimal.Decimal
	currency         string
	logger           zerolog.Logger
	nowFn            func() time.Time
}

func NewWebhookService(
	db *gorm.DB,
	stripeClient client.StripeClient,
	programRepo repository.ProgramRepository,
	sellerRepo repository.SellerRepository,
	purchaseRepo repository.PurchaseRepository,
	assignmentRepo repository.AssignmentRepository,
	balanceRepo repository.BalanceRepository,
	subscriptionRepo repository.SubscriptionRepository,
	webhookEventRepo repository.WebhookEventRepository,
	assignments AssignmentService,
	feeRate decimal.Decimal,
	currency string,
) WebhookService {
	return &webhookServiceImpl{
		db:               db,
		stripeClient:     stripeClient,
		programRepo:      programRepo,
		sellerRepo:       sellerRepo,
		purchaseRepo:     purchaseRepo,
		assignmentRepo:   assignmentRepo,
		balanceRepo:      balanceRepo,
		subscriptionRepo: subscriptionRepo,
		webhookEventRepo: webhookEventRepo,
		assignments:      assignments,
		feeRate:          feeRate,
		currency:         currency,
		logger:           logging.Component("webhook"),
		nowFn:            time.Now,
	}
}

var errDuplicateSale = errors.New("sale already recorded")

func (s *webhookServiceImpl) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.stripeClient.ConstructEvent(payload, signature)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		s.logger.Warn().Err(err).Msg("rejecting webhook with invalid signature")
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	eventType := string(event.Type)
	logger := s.logger.With().Str("event_id", event.ID).Str("event_type", eventType).Logger()

	processed, err := s.webhookEventRepo.Exists(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("check webhook event: %w", err)
	}
	if processed {
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "duplicate").Inc()
		logger.Info().Msg("webhook event already processed")
		return nil
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		err = s.handleCheckoutCompleted(ctx, event, logger)
	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated:
		err = s.handleSubscriptionChanged(ctx, event, logger)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		err = s.handleSubscriptionDeleted(ctx, event, logger)
	case stripe.EventTypeInvoicePaymentSucceeded:
		err = s.handleInvoicePaid(ctx, event, logger)
	case stripe.EventTypeInvoicePaymentFailed:
		err = s.handleInvoiceFailed(ctx, event, logger)
	case stripe.EventTypeChargeRefunded:
		err = s.handleChargeRefunded(ctx, event, logger)
	case stripe.EventTypeAccountUpdated:
		err = s.handleAccountUpdated(ctx, event, logger)
	case stripe.EventTypeAccountApplicationDeauthorized:
		err = s.handleAccountDeauthorized(ctx, event, logger)
	default:
		logger.Debug().Msg("ignoring unhandled webhook event")
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "ignored").Inc()
		return nil
	}

	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrInvalidInput) {
			outcome = "rejected"
		}
		metrics.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
		logger.Error().Err(err).Msg("webhook event failed")
		return err
	}

	metrics.WebhookEventsTotal.WithLabelValues(eventType, "processed").Inc()
	return nil
}

// withEvent runs fn and records the event id in the same transaction.
func (s *webhookServiceImpl) withEvent(ctx context.Context, event *stripe.Event, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if fn != nil {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return s.webhookEventRepo.MarkProcessed(ctx, tx, event.ID, string(event.Type))
	})
	if errors.Is(err, repository.ErrAlreadyProcessed) {
		return nil
	}
	return err
}

// sale is one payment credited to a seller.
type sale struct {
	program        *model.Program
	buyerID        string
	sellerID       string
	amount         decimal.Decimal
	currency       string
	paymentRef     string
	sessionID      string
	subscriptionID string
	username       string
	accessType     model.AccessType
	subscription   *model.Subscription
}

func (s *webhookServiceImpl) handleCheckoutCompleted(ctx context.Context, event *stripe.Event, logger zerolog.Logger) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: decode checkout session: %v", ErrInvalidInput, err)
	}

	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
		session.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		logger.Info().Str("session_id", session.ID).Str("payment_status", string(session.PaymentStatus)).
			Msg("checkout session not paid yet")
		return s.withEvent(ctx, event, nil)
	}

	programID := session.Metadata["program_id"]
	buyerID := session.Metadata["buyer_id"]
	sellerID := session.Metadata["seller_id"]
	if programID == "" || buyerID == "" || sellerID == "" {
		return fmt.Errorf("%w: checkout session %s is missing program_id, buyer_id or seller_id metadata",
			ErrInvalidInput, session.ID)
	}

	program, err := s.programRepo.FindByID(ctx, programID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: checkout session %s references unknown program %s", ErrInvalidInput, session.ID, programID)
	}
	if err != nil {
		return fmt.Errorf("load program: %w", err)
	}
	if program.SellerID != sellerID {
		return fmt.Errorf("%w: checkout session %s names seller %s but program %s belongs to %s",
			ErrInvalidInput, session.ID, sellerID, program.ID, program.SellerID)
	}

	paid := sale{
		program:    program,
		buyerID:    buyerID,
		sellerID:   sellerID,
		amount:     client.FromMinorUnits(session.AmountTotal),
		currency:   s.currencyOf(string(session.Currency)),
		paymentRef: checkoutPaymentRef(&session),
		sessionID:  session.ID,
		username:   strings.TrimSpace(session.Metadata["tradingview_username"]),
		accessType: model.AccessTypePurchase,
	}

	if session.Mode == stripe.CheckoutSessionModeSubscription && session.Subscription != nil {
		paid.subscriptionID = session.Subscription.ID
		paid.accessType = model.AccessTypeSubscription
		paid.subscription = &model.Subscription{
			ID:        session.Subscription.ID,
			ProgramID: programID,
			BuyerID:   buyerID,
			SellerID:  sellerID,
			Status:    string(stripe.SubscriptionStatusActive),
		}
	}

	return s.recordSale(ctx, event, paid, logger)
}

// checkoutPaymentRef is the idempotency key of a checkout: the payment intent, or the
// first invoice for subscription checkouts which carry no payment intent.
func checkoutPaymentRef(session *stripe.CheckoutSession) string {
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		return session.PaymentIntent.ID
	}
	if session.Invoice != nil && session.Invoice.ID != "" {
		return session.Invoice.ID
	}
	return session.ID
}

func (s *webhookServiceImpl) recordSale(ctx context.Context, event *stripe.Event, paid sale, logger zerolog.Logger) error {
	split := ComputeFees(paid.amount, s.feeRate)
	now := s.nowFn().UTC()

	purchase := &model.Purchase{
		ID:                uuid.NewString(),
		ProgramID:         paid.program.ID,
		BuyerID:           paid.buyerID,
		SellerID:          paid.sellerID,
		SubscriptionID:    paid.subscriptionID,
		Amount:            split.Amount,
		PlatformFee:       split.PlatformFee,
		SellerOwed:        split.SellerOwed,
		Currency:          paid.currency,
		Status:            model.PurchaseStatusCompleted,
		PaymentIntentID:   paid.paymentRef,
		CheckoutSessionID: paid.sessionID,
		PurchasedAt:       now,
		UpdatedAt:         now,
	}

	var assignment *model.ScriptAssignment
	if paid.program.PineID != "" && paid.username != "" {
		assignment = &model.ScriptAssignment{
			ID:                  uuid.NewString(),
			PurchaseID:          purchase.ID,
			SubscriptionID:      paid.subscriptionID,
			ProgramID:           paid.program.ID,
			BuyerID:             paid.buyerID,
			SellerID:            paid.sellerID,
			Status:              model.AssignmentStatusPending,
			AccessType:          paid.accessType,
			TradingViewUsername: paid.username,
			PineID:              paid.program.PineID,
		}
	}

	err := s.withEvent(ctx, event, func(tx *gorm.DB) error {
		if paid.subscription != nil {
			paid.subscription.UpdatedAt = now
			if err := s.subscriptionRepo.Upsert(ctx, tx, paid.subscription); err != nil {
				return fmt.Errorf("upsert subscription: %w", err)
			}
		}

		exists, err := s.purchaseRepo.ExistsByPaymentIntent(ctx, tx, paid.paymentRef)
		if err != nil {
			return fmt.Errorf("check existing purchase: %w", err)
		}
		if exists {
			return errDuplicateSale
		}

		if err := s.purchaseRepo.Create(ctx, tx, purchase); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errDuplicateSale
			}
			return fmt.Errorf("create purchase: %w", err)
		}

		if err := s.balanceRepo.ApplyDelta(ctx, tx, repository.BalanceDelta{
			SellerID:    paid.sellerID,
			Bucket:      model.BucketPending,
			Amount:      split.SellerOwed,
			Type:        model.LedgerEntrySale,
			ReferenceID: purchase.ID,
		}); err != nil {
			return fmt.Errorf("credit pending balance: %w", err)
		}

		if assignment != nil {
			if err := s.assignmentRepo.Create(ctx, tx, assignment); err != nil {
				return fmt.Errorf("create script assignment: %w", err)
			}
		}
		return nil
	})

	if errors.Is(err, errDuplicateSale) {
		logger.Info().Str("payment_ref", paid.paymentRef).Msg("sale already recorded, skipping")
		return s.withEvent(ctx, event, nil)
	}
	if err != nil {
		return err
	}

	ev := logger.Info().
		Str("purchase_id", purchase.ID).
		Str("seller_id", purchase.SellerID).
		Str("amount", split.Amount.StringFixed(2)).
		Str("seller_owed", split.SellerOwed.StringFixed(2))
	if assignment != nil {
		ev = ev.Str("assignment_id", assignment.ID)
	}
	ev.Msg("purchase recorded")
	return nil
}

func (s *webhookServiceImpl) handleSubscriptionChanged(ctx context.Context, event *stripe.Event, logger zerolog.Logger) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("%w: decode subscription: %v", ErrInvalidInput, err)
	}
	periodEnd := unixTime(sub.CurrentPeriodEnd)

	link, err := s.subscriptionLink(ctx, &sub, logger)
	if err != nil {
		return err
	}

	return s.withEvent(ctx, event, func(tx *gorm.DB) error {
		rows, err := s.subscriptionRepo.UpdateStatus(ctx, tx, sub.ID, string(sub.Status), periodEnd, sub.CancelAtPeriodEnd)
		if err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if rows > 0 || link == nil {
			return nil
		}

		link.Status = string(sub.Status)
		link.CurrentPeriodEnd = periodEnd
		link.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		return s.subscriptionRepo.Upsert(ctx, tx, link)
	})
}

// subscriptionLink builds the local row for a subscription from its metadata, or nil when
// the metadata does not name a program owned by the named seller.
func (s *webhookServiceImpl) subscriptionLink(ctx context.Context, sub *stripe.Subscription, logger zerolog.Logger) (*model.Subscription, error) {
	programID, buyerID, sellerID := sub.Metadata["program_id"], sub.Metadata["buyer_id"], sub.Metadata["seller_id"]
	if programID == "" || buyerID == "" || sellerID == "" {
		logger.Debug().Str("subscription_id", sub.ID).Msg("subscription is not linked to a program")
		return nil, nil
	}

	program, err := s.programRepo.FindByID(ctx, programID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load program: %w", err)
	}
	if err != nil || program.SellerID != sellerID {
		logger.Warn().Str("subscription_id", sub.ID).Str("program_id", programID).Str("seller_id", sellerID).
			Msg("subscription metadata does not match a program of the seller")
		return nil, nil
	}

	return &model.Subscription{
		ID:        sub.ID,
		ProgramID: programID,
		BuyerID:   buyerID,
		SellerID:  program.SellerID,
	}, nil
}

func (s *webhookServiceImpl) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event, logger zerolog.Logger) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("%w: decode subscription: %v", ErrInvalidInput, err)
	}

	err := s.withEvent(ctx, event, func(tx *gorm.DB) error {
		_, err := s.subscriptionRepo.UpdateStatus(ctx, tx, sub.ID, string(stripe.SubscriptionStatusCanceled),
			unixTime(sub.CurrentPeriodEnd), false)
		return err
	})
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}

	revoked, err := s.assignments.RevokeSubscriptionAccess(ctx, sub.ID)
	if err != nil {
		logger.Warn().Err(err).Str("subscription_id", sub.ID).Msg("revoke subscription access")
	}
	logger.Info().Str("subscription_id", sub.ID).Int("revoked", revoked).Msg("subscription canceled")
	return nil
}

func (s *webhookServiceImpl) handleInvoicePaid(ctx context.Context, event *stripe.Event, logger zerolog.Logger) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("%w: decode invoice: %v", ErrInvalidInput, err)
	}

	// The first invoice of a subscription is credited through its checkout session.
	if invoice.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle || invoice.Subscription == nil {
		return s.withEvent(ctx, event, nil)
	}

	sub, err := s.subscriptionRepo.GetBySubscriptionID(ctx, invoice.Subscription.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: invoice %s renews unknown subscription %s", ErrInvalidInput, invoice.ID, invoice.Subscription.ID)
	}
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}

	program, err := s.programRepo.FindByID(ctx, sub.ProgramID)
	if err != nil {
		return fmt.Errorf("load program %s: %w", sub.ProgramID, err)
	}

	paymentRef := invoice.ID
	if invoice.PaymentIntent != nil && invoice.PaymentIntent.ID != "" {
		paymentRef = invoice.PaymentIntent.ID
	}

	return s.recordSale(ctx, event, sale{
		program:        program,
		buyerID:        sub.BuyerID,
		sellerID:       sub.SellerID,
		amount:         client.FromMinorUnits(invoice.AmountPaid),
		currency:       s.currencyOf(string(invoice.Currency)),
		paymentRef:     paymentRef,
		subscriptionID: sub.ID,
		accessType:     model.AccessTypeSubscription,
	}, logger)
}

func (s *webhookServiceImpl) handleInvoiceFailed(ctx context.Context, event *stripe.Event, logger zerolog.Logger) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("%w: decode invoice: %v", ErrInvalidInput, err)
	}
	if invoice.Subscription == nil {
		return s.withEvent(ctx, event, nil)
	}

	sub, err := s.subscriptionRepo.GetBySubscriptionID(ctx, invoice.Subscription.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Debug().Str("subscription_id", invoice.Subscription.ID).Msg("payment failed for unknown subscription")
		return s.withEvent(ctx, event, nil)
	}
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}

	return s.withEvent(ctx, event, func(tx *gorm.DB) error {
		_, err := s.subscriptionRepo.UpdateStatus(ctx, tx, sub.ID, string(stripe.SubscriptionStatusPastDue),
			sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd)
		return err
	})
}

func (s *webhookServiceImpl) handleChargeRefunded(ctx context.Context, event *stripe.Event, logger zerolog.Logger) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return fmt.Errorf("%w: decode charge: %v", ErrInvalidInput, err)
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" || !charge.Refunded {
		return s.withEvent(ctx, event, nil)
	}

	purchase, err := s.purchaseRepo.FindByPaymentIntent(ctx, charge.PaymentIntent.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Debug().Str("payment_intent", charge.PaymentIntent.ID).Msg("refund for unknown purchase")
		return s.withEvent(ctx, event, nil)
	}
	if err != nil {
		return fmt.Errorf("load purchase: %w", err)
	}

	refunded := false
	err = s.withEvent(ctx, event, func(tx *gorm.DB) error {
		settled, err := s.purchaseRepo.MarkRefunded(ctx, tx, purchase.ID)
		if errors.Is(err, repository.ErrStaleTransition) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark purchase refunded: %w", err)
		}
		refunded = true

		if settled {
			logger.Warn().Str("purchase_id", purchase.ID).Msg("refund after settlement, available balance left unchanged")
			return nil
		}
		return s.balanceRepo.ApplyDelta(ctx, tx, repository.BalanceDelta{
			SellerID:    purchase.SellerID,
			Bucket:      model.BucketPending,
			Amount:      purchase.SellerOwed.Neg(),
			Type:        model.LedgerEntryRefund,
			ReferenceID: purchase.ID,
		})
	})
	if err != nil {
		return err
	}
	if !refunded {
		return nil
	}

	if _, err := s.assignments.RevokePurchaseAccess(ctx, purchase.ID); err != nil {
		logger.Warn().Err(err).Str("purchase_id", purchase.ID).Msg("revoke refunded purchase access")
	}
	logger.Info().Str("purchase_id", purchase.ID).Msg("purchase refunded")
	return nil
}

func (s *webhookServiceImpl) handleAccountUpdated(ctx context.Context, event *stripe.Event, logger zerolog.Logger) error {
	var account stripe.Account
	if err := json.Unmarshal(event.Data.Raw, &account); err != nil {
		return fmt.Errorf("%w: decode account: %v", ErrInvalidInput, err)
	}
	connected := client.ConnectedAccountFrom(&account)

	rows, err := s.sellerRepo.SetTransfersEnabled(ctx, connected.ID, connected.TransfersEnabled)
	if err != nil {
		return fmt.Errorf("update seller transfers: %w", err)
	}
	if rows == 0 {
		logger.Debug().Str("account_id", connected.ID).Msg("account is not linked to a seller")
	}

	return s.withEvent(ctx, event, nil)
}

func (s *webhookServiceImpl) handleAccountDeauthorized(ctx context.Context, event *stripe.Event, logger zerolog.Logger) error {
	accountID := event.Account
	if accountID == "" {
		return fmt.Errorf("%w: deauthorization event without account", ErrInvalidInput)
	}

	seller, err := s.sellerRepo.ClearConnectedAccount(ctx, accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Debug().Str("account_id", accountID).Msg("deauthorized account is not linked to a seller")
		return s.withEvent(ctx, event, nil)
	}
	if err != nil {
		return fmt.Errorf("clear connected account: %w", err)
	}

	demoted, err := s.programRepo.DemoteToDraft(ctx, seller.ID)
	if err != nil {
		logger.Error().Err(err).Str("seller_id", seller.ID).Msg("demote seller programs to draft")
	} else {
		logger.Info().Str("seller_id", seller.ID).Int64("programs", demoted).Msg("seller disconnected, programs demoted")
	}

	return s.withEvent(ctx, event, nil)
}

func (s *webhookServiceImpl) currencyOf(currency string) string {
	if currency == "" {
		return s.currency
	}
	return strings.ToLower(currency)
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
