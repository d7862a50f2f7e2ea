package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scriptmarket/internal/config"
)

// ScriptPlatformClient manages invite-only script access on the scripting platform.
type ScriptPlatformClient interface {
	GrantAccess(ctx context.Context, grant GrantAccessRequest) error
	RevokeAccess(ctx context.Context, pineID, username string) error
	ListUserScripts(ctx context.Context, username string) ([]PublishedScript, error)
}

type GrantAccessRequest struct {
	PineID     string     `json:"pine_id"`
	Username   string     `json:"username"`
	AccessType string     `json:"access_type"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type revokeAccessRequest struct {
	PineID   string `json:"pine_id"`
	Username string `json:"username"`
}

type PublishedScript struct {
	PineID string `json:"pine_id"`
	Name   string `json:"name"`
}

type tradingviewClientImpl struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewTradingViewClient(cfg *config.TradingView) ScriptPlatformClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &tradingviewClientImpl{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

func (c *tradingviewClientImpl) GrantAccess(ctx context.Context, grant GrantAccessRequest) error {
	return c.do(ctx, http.MethodPost, "/access", grant, nil)
}

func (c *tradingviewClientImpl) RevokeAccess(ctx context.Context, pineID, username string) error {
	return c.do(ctx, http.MethodDelete, "/access", revokeAccessRequest{
		PineID:   pineID,
		Username: username,
	}, nil)
}

func (c *tradingviewClientImpl) ListUserScripts(ctx context.Context, username string) ([]PublishedScript, error) {
	var res struct {
		Scripts []PublishedScript `json:"scripts"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(username)+"/scripts", nil, &res); err != nil {
		return nil, err
	}
	return res.Scripts, nil
}

func (c *tradingviewClientImpl) do(ctx context.Context, method, path string, in, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("scripting platform base url is not configured")
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal req payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("scripting platform error %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("scripting platform error %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
