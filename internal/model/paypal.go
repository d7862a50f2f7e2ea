package model

// PayPal Payouts API wire types.

type PaypalAmount struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

type PaypalPayoutItem struct {
	RecipientType string       `json:"recipient_type"`
	Amount        PaypalAmount `json:"amount"`
	Receiver      string       `json:"receiver"`
	Note          string       `json:"note,omitempty"`
	SenderItemID  string       `json:"sender_item_id"`
}

type PaypalSenderBatchHeader struct {
	SenderBatchID string `json:"sender_batch_id"`
	EmailSubject  string `json:"email_subject,omitempty"`
}

type PaypalPayoutRequest struct {
	SenderBatchHeader PaypalSenderBatchHeader `json:"sender_batch_header"`
	Items             []PaypalPayoutItem      `json:"items"`
}

type PaypalBatchHeader struct {
	PayoutBatchID string `json:"payout_batch_id"`
	BatchStatus   string `json:"batch_status"`
}

type PaypalPayoutResponse struct {
	BatchHeader PaypalBatchHeader `json:"batch_header"`
}

type PaypalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}
