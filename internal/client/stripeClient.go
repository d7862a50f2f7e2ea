package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scriptmarket/internal/config"
	"scriptmarket/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	stripeclient "github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type StripeClient interface {
	// ConstructEvent verifies the Stripe-Signature header and decodes the event.
	ConstructEvent(payload []byte, signatureHeader string) (*stripe.Event, error)

	// GetOrCreateCustomer reuses a live customer or creates a new one.
	GetOrCreateCustomer(ctx context.Context, params CustomerParams) (string, error)

	// EnsurePrice returns a product and an active one-time price matching the program.
	EnsurePrice(ctx context.Context, program *model.Program) (*ProgramPrice, error)

	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)

	// CreateTransfer moves funds to a connected account and returns the transfer id.
	CreateTransfer(ctx context.Context, params TransferParams) (string, error)

	GetAccount(ctx context.Context, accountID string) (*ConnectedAccount, error)
}

type CustomerParams struct {
	ExistingID string
	Email      string
	UserID     string
}

type ProgramPrice struct {
	ProductID string
	PriceID   string
}

type CheckoutSessionParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
	// Subscription opens a recurring checkout; PriceID must then be a recurring price.
	Subscription bool
}

type CheckoutSession struct {
	ID  string
	URL string
}

type TransferParams struct {
	AccountID      string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type ConnectedAccount struct {
	ID               string
	TransfersEnabled bool
	PayoutsEnabled   bool
}

type stripeClientImpl struct {
	api           *stripeclient.API
	webhookSecret string
}

func NewStripeClient(cfg *config.Stripe) StripeClient {
	api := &stripeclient.API{}
	api.Init(cfg.SecretKey, nil)

	return &stripeClientImpl{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
	}
}

func (c *stripeClientImpl) ConstructEvent(payload []byte, signatureHeader string) (*stripe.Event, error) {
	if c.webhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret is not configured")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (c *stripeClientImpl) GetOrCreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	if params.ExistingID != "" {
		getParams := &stripe.CustomerParams{}
		getParams.Context = ctx
		customer, err := c.api.Customers.Get(params.ExistingID, getParams)
		if err == nil && !customer.Deleted {
			return customer.ID, nil
		}
		var stripeErr *stripe.Error
		if err != nil && !(errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing) {
			return "", fmt.Errorf("get stripe customer: %w", err)
		}
	}

	createParams := &stripe.CustomerParams{}
	createParams.Context = ctx
	if params.Email != "" {
		createParams.Email = stripe.String(params.Email)
	}
	createParams.AddMetadata("user_id", params.UserID)

	customer, err := c.api.Customers.New(createParams)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return customer.ID, nil
}

func (c *stripeClientImpl) EnsurePrice(ctx context.Context, program *model.Program) (*ProgramPrice, error) {
	cents := ToMinorUnits(program.Price)
	currency := strings.ToLower(program.Currency)

	if program.StripePriceID != "" {
		getParams := &stripe.PriceParams{}
		getParams.Context = ctx
		price, err := c.api.Prices.Get(program.StripePriceID, getParams)
		if err == nil && price.Active && price.UnitAmount == cents && string(price.Currency) == currency &&
			priceInterval(price) == program.BillingInterval {
			return &ProgramPrice{ProductID: program.StripeProductID, PriceID: price.ID}, nil
		}
	}

	productID := program.StripeProductID
	if productID == "" {
		productParams := &stripe.ProductParams{
			Name: stripe.String(program.Title),
		}
		productParams.Context = ctx
		productParams.AddMetadata("program_id", program.ID)

		product, err := c.api.Products.New(productParams)
		if err != nil {
			return nil, fmt.Errorf("create stripe product: %w", err)
		}
		productID = product.ID
	}

	priceParams := &stripe.PriceParams{
		Product:    stripe.String(productID),
		UnitAmount: stripe.Int64(cents),
		Currency:   stripe.String(currency),
	}
	if program.BillingInterval != "" {
		priceParams.Recurring = &stripe.PriceRecurringParams{
			Interval: stripe.String(program.BillingInterval),
		}
	}
	priceParams.Context = ctx
	priceParams.AddMetadata("program_id", program.ID)

	price, err := c.api.Prices.New(priceParams)
	if err != nil {
		return nil, fmt.Errorf("create stripe price: %w", err)
	}

	return &ProgramPrice{ProductID: productID, PriceID: price.ID}, nil
}

func priceInterval(price *stripe.Price) string {
	if price.Recurring == nil {
		return ""
	}
	return string(price.Recurring.Interval)
}

func (c *stripeClientImpl) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	sessionParams := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer:   stripe.String(params.CustomerID),
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	if params.Subscription {
		sessionParams.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		// Subscription events carry these so they can be linked back to the program.
		sessionParams.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: params.Metadata,
		}
	} else {
		sessionParams.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: params.Metadata,
		}
	}
	sessionParams.Context = ctx
	for key, value := range params.Metadata {
		sessionParams.AddMetadata(key, value)
	}

	session, err := c.api.CheckoutSessions.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}

	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (c *stripeClientImpl) CreateTransfer(ctx context.Context, params TransferParams) (string, error) {
	transferParams := &stripe.TransferParams{
		Amount:      stripe.Int64(ToMinorUnits(params.Amount)),
		Currency:    stripe.String(strings.ToLower(params.Currency)),
		Destination: stripe.String(params.AccountID),
	}
	transferParams.Context = ctx
	if params.IdempotencyKey != "" {
		transferParams.SetIdempotencyKey(params.IdempotencyKey)
	}
	for key, value := range params.Metadata {
		transferParams.AddMetadata(key, value)
	}

	transfer, err := c.api.Transfers.New(transferParams)
	if err != nil {
		return "", fmt.Errorf("create stripe transfer: %w", err)
	}
	return transfer.ID, nil
}

func (c *stripeClientImpl) GetAccount(ctx context.Context, accountID string) (*ConnectedAccount, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	account, err := c.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return nil, fmt.Errorf("get stripe account: %w", err)
	}
	return ConnectedAccountFrom(account), nil
}

func ConnectedAccountFrom(account *stripe.Account) *ConnectedAccount {
	transfers := account.Capabilities != nil &&
		account.Capabilities.Transfers == stripe.AccountCapabilityStatusActive

	return &ConnectedAccount{
		ID:               account.ID,
		TransfersEnabled: transfers,
		PayoutsEnabled:   account.PayoutsEnabled,
	}
}

// ProviderMessage extracts the human readable message of a payment provider error.
func ProviderMessage(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	var paypalErr *PaypalAPIError
	if errors.As(err, &paypalErr) && paypalErr.Message != "" {
		return paypalErr.Message
	}
	return err.Error()
}

// ToMinorUnits converts a two-decimal amount to cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
