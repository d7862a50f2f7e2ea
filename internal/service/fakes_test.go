package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"scriptmarket/internal/client"
	"scriptmarket/internal/config"
	"scriptmarket/internal/model"
	"scriptmarket/internal/repository"
	"scriptmarket/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test"

type fakePlatform struct {
	mu        sync.Mutex
	grants    []client.GrantAccessRequest
	revokes   []string
	grantErr  error
	revokeErr error
	scripts   []client.PublishedScript
	listErr   error
}

func (f *fakePlatform) GrantAccess(_ context.Context, grant client.GrantAccessRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, grant)
	return f.grantErr
}

func (f *fakePlatform) RevokeAccess(_ context.Context, pineID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokes = append(f.revokes, pineID+"/"+username)
	return f.revokeErr
}

func (f *fakePlatform) ListUserScripts(_ context.Context, _ string) ([]client.PublishedScript, error) {
	return f.scripts, f.listErr
}

// fakeStripe verifies webhooks with the real signing code and records outbound calls.
type fakeStripe struct {
	client.StripeClient

	mu          sync.Mutex
	transfers   []client.TransferParams
	transferErr error
	sessions    []client.CheckoutSessionParams
	customerID  string
	priceID     string
	account     *client.ConnectedAccount
}

func newFakeStripe() *fakeStripe {
	return &fakeStripe{
		StripeClient: client.NewStripeClient(&config.Stripe{SecretKey: "sk_test", WebhookSecret: testWebhookSecret}),
		customerID:   "cus_1",
		priceID:      "price_1",
	}
}

func (f *fakeStripe) CreateTransfer(_ context.Context, params client.TransferParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, params)
	if f.transferErr != nil {
		return "", f.transferErr
	}
	return "tr_" + params.IdempotencyKey, nil
}

func (f *fakeStripe) GetOrCreateCustomer(_ context.Context, params client.CustomerParams) (string, error) {
	if params.ExistingID != "" {
		return params.ExistingID, nil
	}
	return f.customerID, nil
}

func (f *fakeStripe) EnsurePrice(_ context.Context, program *model.Program) (*client.ProgramPrice, error) {
	return &client.ProgramPrice{ProductID: "prod_" + program.ID, PriceID: f.priceID}, nil
}

func (f *fakeStripe) CreateCheckoutSession(_ context.Context, params client.CheckoutSessionParams) (*client.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, params)
	return &client.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}, nil
}

func (f *fakeStripe) GetAccount(_ context.Context, accountID string) (*client.ConnectedAccount, error) {
	if f.account != nil {
		return f.account, nil
	}
	return &client.ConnectedAccount{ID: accountID}, nil
}

type fakePaypal struct {
	configured bool
	payouts    []client.PaypalPayout
	err        error
}

func (f *fakePaypal) IsConfigured() bool {
	return f.configured
}

func (f *fakePaypal) CreatePayout(_ context.Context, payout client.PaypalPayout) (string, error) {
	f.payouts = append(f.payouts, payout)
	if f.err != nil {
		return "", f.err
	}
	return "BATCH-" + payout.SenderBatchID, nil
}

type fixture struct {
	db       *gorm.DB
	stripe   *fakeStripe
	platform *fakePlatform
	paypal   *fakePaypal
	now      time.Time

	programs      repository.ProgramRepository
	sellers       repository.SellerRepository
	purchases     repository.PurchaseRepository
	assignments   repository.AssignmentRepository
	balances      repository.BalanceRepository
	payouts       repository.PayoutRepository
	subscriptions repository.SubscriptionRepository
	events        repository.WebhookEventRepository
	scripts       repository.SellerScriptRepository

	assignmentSvc AssignmentService
	webhookSvc    WebhookService
	trialSvc      TrialService
	settlementSvc SettlementService
	payoutSvc     PayoutService
	checkoutSvc   CheckoutService
	sellerSvc     SellerService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	f := &fixture{
		db:            db,
		stripe:        newFakeStripe(),
		platform:      &fakePlatform{},
		paypal:        &fakePaypal{configured: true},
		now:           time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		programs:      repository.NewProgramRepository(db),
		sellers:       repository.NewSellerRepository(db),
		purchases:     repository.NewPurchaseRepository(db),
		assignments:   repository.NewAssignmentRepository(db),
		balances:      repository.NewBalanceRepository(db),
		payouts:       repository.NewPayoutRepository(db),
		subscriptions: repository.NewSubscriptionRepository(db),
		events:        repository.NewWebhookEventRepository(db),
		scripts:       repository.NewSellerScriptRepository(db),
	}
	clock := func() time.Time { return f.now }

	assignmentSvc := NewAssignmentService(db, f.assignments, f.programs, f.sellers, f.scripts, f.purchases, f.subscriptions, f.platform)
	assignmentSvc.(*assignmentServiceImpl).nowFn = clock
	f.assignmentSvc = assignmentSvc

	webhookSvc := NewWebhookService(db, f.stripe, f.programs, f.sellers, f.purchases, f.assignments,
		f.balances, f.subscriptions, f.events, assignmentSvc, decimal.RequireFromString("0.10"), "usd")
	webhookSvc.(*webhookServiceImpl).nowFn = clock
	f.webhookSvc = webhookSvc

	f.trialSvc = NewTrialService(f.assignments, f.platform)
	f.settlementSvc = NewSettlementService(f.purchases, f.balances, 7*24*time.Hour)

	methods := NewPayoutMethods(NewConnectedTransfer(f.stripe), NewBankTransfer(), NewPaypalPayout(f.paypal))
	payoutSvc := NewPayoutService(db, f.balances, f.sellers, f.payouts, methods, decimal.NewFromInt(50), "usd")
	payoutSvc.(*payoutServiceImpl).nowFn = clock
	f.payoutSvc = payoutSvc

	f.checkoutSvc = NewCheckoutService(f.stripe, "https://market.test/", f.programs, f.sellers)
	f.sellerSvc = NewSellerService(f.stripe, f.sellers, f.balances, f.payouts, f.scripts)

	return f
}

func (f *fixture) seedSeller(t *testing.T, seller *model.Seller) *model.Seller {
	t.Helper()
	require.NoError(t, f.sellers.Upsert(context.Background(), seller))
	return seller
}

func (f *fixture) seedProgram(t *testing.T, program *model.Program) *model.Program {
	t.Helper()
	if program.Status == "" {
		program.Status = model.ProgramStatusPublished
	}
	if program.Currency == "" {
		program.Currency = "usd"
	}
	require.NoError(t, f.programs.Upsert(context.Background(), program))
	return program
}

func (f *fixture) credit(t *testing.T, sellerID string, bucket model.BalanceBucket, amount string) {
	t.Helper()
	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.balances.ApplyDelta(context.Background(), tx, repository.BalanceDelta{
			SellerID: sellerID,
			Bucket:   bucket,
			Amount:   decimal.RequireFromString(amount),
			Type:     model.LedgerEntrySale,
		})
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, sellerID string) *model.SellerBalance {
	t.Helper()
	balance, err := f.balances.Get(context.Background(), sellerID)
	require.NoError(t, err)
	return balance
}

// signedEvent builds a Stripe event envelope around object and signs it with the test secret.
func signedEvent(t *testing.T, id, eventType string, object interface{}, extra map[string]interface{}) ([]byte, string) {
	t.Helper()

	envelope := map[string]interface{}{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]interface{}{"object": object},
	}
	for k, v := range extra {
		envelope[k] = v
	}

	payload, err := json.Marshal(envelope)
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func amountEqual(want string, got decimal.Decimal) bool {
	return decimal.RequireFromString(want).Equal(got)
}

func mustDec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
