package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"scriptmarket/internal/config"
	"scriptmarket/internal/model"

	"github.com/shopspring/decimal"
)

type PaypalClient interface {
	IsConfigured() bool
	// CreatePayout sends a single-item payout batch and returns the PayPal batch id.
	CreatePayout(ctx context.Context, payout PaypalPayout) (string, error)
}

type PaypalPayout struct {
	SenderBatchID string
	ReceiverEmail string
	Amount        decimal.Decimal
	Currency      string
	Note          string
}

type PaypalAPIError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *PaypalAPIError) Error() string {
	return fmt.Sprintf("paypal error %d: %s: %s", e.StatusCode, e.Name, e.Message)
}

type paypalClientImpl struct {
	httpClient         *http.Client
	baseApiURL         string
	paypalClientID     string
	paypalClientSecret string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
	nowFn       func() time.Time
}

// tokenLeeway renews the access token before PayPal would reject it.
const tokenLeeway = time.Minute

func NewPaypalClient(paypalCfg *config.Paypal) PaypalClient {
	return &paypalClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL:         strings.TrimRight(paypalCfg.BaseApiURL, "/"),
		paypalClientID:     paypalCfg.ClientID,
		paypalClientSecret: paypalCfg.ClientSecret,
		nowFn:              time.Now,
	}
}

func (c *paypalClientImpl) IsConfigured() bool {
	return c.baseApiURL != "" && c.paypalClientID != "" && c.paypalClientSecret != ""
}

// getAccessToken returns the cached token while it is valid and fetches a new one otherwise.
func (c *paypalClientImpl) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.nowFn().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	auth := base64.StdEncoding.EncodeToString(
		[]byte(c.paypalClientID + ":" + c.paypalClientSecret),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseApiURL+"/v1/oauth2/token",
		bytes.NewBufferString("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", decodePaypalError(resp)
	}

	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode paypal token: %w", err)
	}
	if res.AccessToken == "" {
		return "", fmt.Errorf("paypal returned an empty access token")
	}

	c.accessToken = res.AccessToken
	c.tokenExpiry = c.nowFn().Add(time.Duration(res.ExpiresIn)*time.Second - tokenLeeway)
	return res.AccessToken, nil
}

func (c *paypalClientImpl) dropAccessToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = ""
}

func (c *paypalClientImpl) CreatePayout(ctx context.Context, payout PaypalPayout) (string, error) {
	accessToken, err := c.getAccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("get paypal access token: %w", err)
	}

	payload := model.PaypalPayoutRequest{
		SenderBatchHeader: model.PaypalSenderBatchHeader{
			SenderBatchID: payout.SenderBatchID,
			EmailSubject:  "You have a payout",
		},
		Items: []model.PaypalPayoutItem{
			{
				RecipientType: "EMAIL",
				Amount: model.PaypalAmount{
					Currency: strings.ToUpper(payout.Currency),
					Value:    payout.Amount.StringFixed(2),
				},
				Receiver:     payout.ReceiverEmail,
				Note:         payout.Note,
				SenderItemID: payout.SenderBatchID,
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal req payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseApiURL+"/v1/payments/payouts",
		bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	// PayPal dedupes retried requests on this header.
	req.Header.Set("PayPal-Request-Id", payout.SenderBatchID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal payout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.dropAccessToken()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", decodePaypalError(resp)
	}

	var result model.PaypalPayoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode paypal response: %w", err)
	}

	return result.BatchHeader.PayoutBatchID, nil
}

func decodePaypalError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)

	var apiErr model.PaypalError
	if err := json.Unmarshal(b, &apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = string(b)
	}

	return &PaypalAPIError{
		StatusCode: resp.StatusCode,
		Name:       apiErr.Name,
		Message:    apiErr.Message,
	}
}
