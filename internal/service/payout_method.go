package service

import (
	"context"
	"errors"
	"fmt"

	"scriptmarket/internal/client"
	"scriptmarket/internal/model"
	"scriptmarket/internal/repository"
)

// PayoutMethod is one way of sending a seller's available balance out of the platform.
type PayoutMethod interface {
	Kind() model.PayoutMethodKind
	// Eligible reports why the seller cannot be paid with this method, or nil.
	Eligible(seller *model.Seller) error
	Pay(ctx context.Context, seller *model.Seller, payout *model.Payout) (repository.PayoutReceipt, error)
}

type PayoutMethods map[model.PayoutMethodKind]PayoutMethod

func NewPayoutMethods(methods ...PayoutMethod) PayoutMethods {
	registry := make(PayoutMethods, len(methods))
	for _, m := range methods {
		registry[m.Kind()] = m
	}
	return registry
}

// Resolve picks the method configured on the seller; sellers without one use connected transfers.
func (m PayoutMethods) Resolve(kind model.PayoutMethodKind) (PayoutMethod, error) {
	if kind == "" {
		kind = model.PayoutMethodStripeConnect
	}
	method, ok := m[kind]
	if !ok {
		return nil, fmt.Errorf("unknown payout method %q", kind)
	}
	return method, nil
}

type connectedTransfer struct {
	stripe client.StripeClient
}

// NewConnectedTransfer pays sellers through a transfer to their connected Stripe account.
func NewConnectedTransfer(stripeClient client.StripeClient) PayoutMethod {
	return &connectedTransfer{stripe: stripeClient}
}

func (m *connectedTransfer) Kind() model.PayoutMethodKind {
	return model.PayoutMethodStripeConnect
}

func (m *connectedTransfer) Eligible(seller *model.Seller) error {
	if seller.StripeAccountID == "" {
		return errors.New("seller has no connected payout account")
	}
	if !seller.TransfersEnabled {
		return errors.New("connected account does not have transfers enabled")
	}
	return nil
}

func (m *connectedTransfer) Pay(ctx context.Context, seller *model.Seller, payout *model.Payout) (repository.PayoutReceipt, error) {
	transferID, err := m.stripe.CreateTransfer(ctx, client.TransferParams{
		AccountID:      seller.StripeAccountID,
		Amount:         payout.Amount,
		Currency:       payout.Currency,
		IdempotencyKey: payout.ID,
		Metadata: map[string]string{
			"payout_id": payout.ID,
			"seller_id": seller.ID,
		},
	})
	if err != nil {
		return repository.PayoutReceipt{}, err
	}

	return repository.PayoutReceipt{StripeTransferID: transferID}, nil
}

type bankTransfer struct{}

func NewBankTransfer() PayoutMethod {
	return bankTransfer{}
}

func (bankTransfer) Kind() model.PayoutMethodKind {
	return model.PayoutMethodBankTransfer
}

func (bankTransfer) Eligible(*model.Seller) error {
	return errors.New("bank transfer payouts are not supported yet")
}

func (bankTransfer) Pay(context.Context, *model.Seller, *model.Payout) (repository.PayoutReceipt, error) {
	return repository.PayoutReceipt{}, errors.New("bank transfer payouts are not supported yet")
}

type paypalPayout struct {
	paypal client.PaypalClient
}

// NewPaypalPayout pays sellers with a PayPal Payouts batch sent to their PayPal email.
func NewPaypalPayout(paypalClient client.PaypalClient) PayoutMethod {
	return &paypalPayout{paypal: paypalClient}
}

func (m *paypalPayout) Kind() model.PayoutMethodKind {
	return model.PayoutMethodPayPal
}

func (m *paypalPayout) Eligible(seller *model.Seller) error {
	if !m.paypal.IsConfigured() {
		return errors.New("paypal payouts are not configured")
	}
	if seller.PaypalEmail == "" {
		return errors.New("seller has no paypal email")
	}
	return nil
}

func (m *paypalPayout) Pay(ctx context.Context, seller *model.Seller, payout *model.Payout) (repository.PayoutReceipt, error) {
	batchID, err := m.paypal.CreatePayout(ctx, client.PaypalPayout{
		SenderBatchID: payout.ID,
		ReceiverEmail: seller.PaypalEmail,
		Amount:        payout.Amount,
		Currency:      payout.Currency,
		Note:          "Marketplace earnings payout",
	})
	if err != nil {
		return repository.PayoutReceipt{}, err
	}

	return repository.PayoutReceipt{ProviderReference: batchID}, nil
}
