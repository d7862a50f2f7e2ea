package service

import (
	"context"
	"testing"

	"scriptmarket/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func checkoutSession(paymentIntent string, amountCents int64, metadata map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"id":             "cs_" + paymentIntent,
		"object":         "checkout.session",
		"mode":           "payment",
		"payment_status": "paid",
		"amount_total":   amountCents,
		"currency":       "usd",
		"payment_intent": paymentIntent,
		"metadata":       metadata,
	}
}

func purchaseMetadata(username string) map[string]string {
	return map[string]string{
		"program_id":           "prog-1",
		"buyer_id":             "buyer-1",
		"seller_id":            "seller-1",
		"tradingview_username": username,
	}
}

func seedScriptProgram(t *testing.T, f *fixture) {
	f.seedSeller(t, &model.Seller{ID: "seller-1", StripeAccountID: "acct_1", TransfersEnabled: true})
	f.seedProgram(t, &model.Program{ID: "prog-1", SellerID: "seller-1", Title: "Trend Rider", Price: mustDec("100"), PineID: "PUB;trend"})
}

func TestCheckoutCompletedRecordsPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)

	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed",
		checkoutSession("pi_1", 10000, purchaseMetadata("trader42")), nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	purchase, err := f.purchases.FindByPaymentIntent(ctx, "pi_1")
	require.NoError(t, err)
	assert.True(t, amountEqual("100", purchase.Amount))
	assert.True(t, amountEqual("10", purchase.PlatformFee))
	assert.True(t, amountEqual("90", purchase.SellerOwed))
	assert.Equal(t, model.PurchaseStatusCompleted, purchase.Status)
	assert.Equal(t, "cs_pi_1", purchase.CheckoutSessionID)

	balance := f.balance(t, "seller-1")
	assert.True(t, amountEqual("90", balance.PendingBalance))
	assert.True(t, balance.AvailableBalance.IsZero())

	assignments, err := f.assignments.ListByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, model.AssignmentStatusPending, assignments[0].Status)
	assert.Equal(t, model.AccessTypePurchase, assignments[0].AccessType)
	assert.Equal(t, purchase.ID, assignments[0].PurchaseID)
	assert.Equal(t, "PUB;trend", assignments[0].PineID)
	assert.Equal(t, "trader42", assignments[0].TradingViewUsername)

	assert.Empty(t, f.platform.grants, "webhook must not grant access itself")

	processed, err := f.events.Exists(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestCheckoutCompletedDuplicateDeliveryCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)

	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed",
		checkoutSession("pi_1", 10000, purchaseMetadata("trader42")), nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	// Same payment redelivered under a new event id.
	payload, sig = signedEvent(t, "evt_2", "checkout.session.completed",
		checkoutSession("pi_1", 10000, purchaseMetadata("trader42")), nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	purchases, err := f.purchases.ListByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Len(t, purchases, 1)

	assert.True(t, amountEqual("90", f.balance(t, "seller-1").PendingBalance))

	assignments, err := f.assignments.ListByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Len(t, assignments, 1)

	processed, err := f.events.Exists(ctx, "evt_2")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestCheckoutCompletedMissingMetadataWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)

	metadata := purchaseMetadata("trader42")
	delete(metadata, "seller_id")
	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed",
		checkoutSession("pi_1", 10000, metadata), nil)

	err := f.webhookSvc.HandleStripeWebhook(ctx, payload, sig)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.purchases.FindByPaymentIntent(ctx, "pi_1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = f.balances.Get(ctx, "seller-1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	processed, err := f.events.Exists(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestCheckoutCompletedRejectsForeignSeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)
	f.seedSeller(t, &model.Seller{ID: "seller-2", StripeAccountID: "acct_2", TransfersEnabled: true})

	metadata := purchaseMetadata("trader42")
	metadata["seller_id"] = "seller-2"
	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed",
		checkoutSession("pi_1", 10000, metadata), nil)

	err := f.webhookSvc.HandleStripeWebhook(ctx, payload, sig)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.purchases.FindByPaymentIntent(ctx, "pi_1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	for _, sellerID := range []string{"seller-1", "seller-2"} {
		_, err = f.balances.Get(ctx, sellerID)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound, sellerID)
	}
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)

	payload, _ := signedEvent(t, "evt_1", "checkout.session.completed",
		checkoutSession("pi_1", 10000, purchaseMetadata("trader42")), nil)

	err := f.webhookSvc.HandleStripeWebhook(ctx, payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = f.purchases.FindByPaymentIntent(ctx, "pi_1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCheckoutWithoutUsernameSkipsAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)

	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed",
		checkoutSession("pi_1", 4999, purchaseMetadata("")), nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	purchase, err := f.purchases.FindByPaymentIntent(ctx, "pi_1")
	require.NoError(t, err)
	assert.True(t, amountEqual("49.99", purchase.Amount))
	assert.True(t, amountEqual("5.00", purchase.PlatformFee))
	assert.True(t, amountEqual("44.99", purchase.SellerOwed))

	assignments, err := f.assignments.ListByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, assignments)
}

func TestUnpaidCheckoutIsAcknowledgedWithoutPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)

	session := checkoutSession("pi_1", 10000, purchaseMetadata("trader42"))
	session["payment_status"] = "unpaid"
	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed", session, nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	_, err := f.purchases.FindByPaymentIntent(ctx, "pi_1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUnknownEventIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	payload, sig := signedEvent(t, "evt_1", "customer.created", map[string]interface{}{"id": "cus_1", "object": "customer"}, nil)
	assert.NoError(t, f.webhookSvc.HandleStripeWebhook(context.Background(), payload, sig))
}

func TestChargeRefundedBeforeSettlementReversesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)

	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed",
		checkoutSession("pi_1", 10000, purchaseMetadata("trader42")), nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	purchase, err := f.purchases.FindByPaymentIntent(ctx, "pi_1")
	require.NoError(t, err)
	assignments, err := f.assignments.ListByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	_, err = f.assignmentSvc.Dispatch(ctx, assignments[0].ID)
	require.NoError(t, err)

	charge := map[string]interface{}{
		"id":             "ch_1",
		"object":         "charge",
		"payment_intent": "pi_1",
		"refunded":       true,
	}
	payload, sig = signedEvent(t, "evt_2", "charge.refunded", charge, nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	refunded, err := f.purchases.FindByID(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusRefunded, refunded.Status)
	assert.True(t, f.balance(t, "seller-1").PendingBalance.IsZero())

	revoked, err := f.assignments.FindByID(ctx, assignments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentStatusRevoked, revoked.Status)
	assert.Equal(t, []string{"PUB;trend/trader42"}, f.platform.revokes)
}

func TestAccountUpdatedRefreshesTransfers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSeller(t, &model.Seller{ID: "seller-1", StripeAccountID: "acct_1"})

	account := map[string]interface{}{
		"id":           "acct_1",
		"object":       "account",
		"capabilities": map[string]interface{}{"transfers": "active"},
	}
	payload, sig := signedEvent(t, "evt_1", "account.updated", account, nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	seller, err := f.sellers.Get(ctx, "seller-1")
	require.NoError(t, err)
	assert.True(t, seller.TransfersEnabled)
}

func TestAccountDeauthorizedDemotesPrograms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)

	app := map[string]interface{}{"id": "ca_1", "object": "application"}
	payload, sig := signedEvent(t, "evt_1", "account.application.deauthorized", app,
		map[string]interface{}{"account": "acct_1"})
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	seller, err := f.sellers.Get(ctx, "seller-1")
	require.NoError(t, err)
	assert.Empty(t, seller.StripeAccountID)
	assert.False(t, seller.TransfersEnabled)

	program, err := f.programs.FindByID(ctx, "prog-1")
	require.NoError(t, err)
	assert.Equal(t, model.ProgramStatusDraft, program.Status)
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)

	session := checkoutSession("", 2000, purchaseMetadata("trader42"))
	session["mode"] = "subscription"
	session["payment_intent"] = nil
	session["invoice"] = "in_first"
	session["subscription"] = "sub_1"
	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed", session, nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	sub, err := f.subscriptions.GetBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "active", sub.Status)
	assert.True(t, amountEqual("18", f.balance(t, "seller-1").PendingBalance))

	assignments, err := f.assignments.ListByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, model.AccessTypeSubscription, assignments[0].AccessType)
	assert.Equal(t, "sub_1", assignments[0].SubscriptionID)
	_, err = f.assignmentSvc.Dispatch(ctx, assignments[0].ID)
	require.NoError(t, err)

	invoice := map[string]interface{}{
		"id":             "in_2",
		"object":         "invoice",
		"billing_reason": "subscription_cycle",
		"amount_paid":    2000,
		"currency":       "usd",
		"subscription":   "sub_1",
		"payment_intent": "pi_renewal",
	}
	payload, sig = signedEvent(t, "evt_2", "invoice.payment_succeeded", invoice, nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))
	assert.True(t, amountEqual("36", f.balance(t, "seller-1").PendingBalance))

	invoice["id"] = "in_3"
	payload, sig = signedEvent(t, "evt_3", "invoice.payment_failed", invoice, nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))
	sub, err = f.subscriptions.GetBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "past_due", sub.Status)

	deleted := map[string]interface{}{"id": "sub_1", "object": "subscription", "status": "canceled"}
	payload, sig = signedEvent(t, "evt_4", "customer.subscription.deleted", deleted, nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	sub, err = f.subscriptions.GetBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "canceled", sub.Status)

	revoked, err := f.assignments.FindByID(ctx, assignments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentStatusRevoked, revoked.Status)
}

func TestRefundBeforeDispatchNeverGrantsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)

	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed",
		checkoutSession("pi_1", 10000, purchaseMetadata("trader42")), nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	charge := map[string]interface{}{"id": "ch_1", "object": "charge", "payment_intent": "pi_1", "refunded": true}
	payload, sig = signedEvent(t, "evt_2", "charge.refunded", charge, nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	assignments, err := f.assignments.ListByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, model.AssignmentStatusRevoked, assignments[0].Status)
	assert.Empty(t, f.platform.revokes, "nothing was granted, so nothing to revoke")

	result, err := f.assignmentSvc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Assigned)

	_, err = f.assignmentSvc.Dispatch(ctx, assignments[0].ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, f.platform.grants)
}

func TestSubscriptionDeletedBeforeDispatchNeverGrantsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)

	session := checkoutSession("", 2000, purchaseMetadata("trader42"))
	session["mode"] = "subscription"
	session["payment_intent"] = nil
	session["invoice"] = "in_first"
	session["subscription"] = "sub_1"
	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed", session, nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	deleted := map[string]interface{}{"id": "sub_1", "object": "subscription", "status": "canceled"}
	payload, sig = signedEvent(t, "evt_2", "customer.subscription.deleted", deleted, nil)
	require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))

	assignments, err := f.assignments.ListByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, model.AssignmentStatusRevoked, assignments[0].Status)

	result, err := f.assignmentSvc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Assigned)
	assert.Empty(t, f.platform.grants)
	assert.Empty(t, f.platform.revokes)
}

func TestSubscriptionCreatedLinksOnlyOwnedPrograms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)

	created := func(eventID, subID, sellerID string) {
		sub := map[string]interface{}{
			"id":       subID,
			"object":   "subscription",
			"status":   "active",
			"metadata": map[string]string{"program_id": "prog-1", "buyer_id": "buyer-1", "seller_id": sellerID},
		}
		payload, sig := signedEvent(t, eventID, "customer.subscription.created", sub, nil)
		require.NoError(t, f.webhookSvc.HandleStripeWebhook(ctx, payload, sig))
	}

	created("evt_1", "sub_owned", "seller-1")
	sub, err := f.subscriptions.GetBySubscriptionID(ctx, "sub_owned")
	require.NoError(t, err)
	assert.Equal(t, "seller-1", sub.SellerID)
	assert.Equal(t, "active", sub.Status)

	created("evt_2", "sub_foreign", "seller-2")
	_, err = f.subscriptions.GetBySubscriptionID(ctx, "sub_foreign")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
