package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"scriptmarket/internal/config"
	"scriptmarket/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		BaseURL:  "http://localhost:8080",
		Database: config.Database{Driver: "sqlite", URL: filepath.Join(t.TempDir(), "market.db")},
		Stripe:   config.Stripe{SecretKey: "sk_test", WebhookSecret: "whsec_test"},
		Marketplace: config.Marketplace{
			FeeRate:         decimal.RequireFromString("0.10"),
			ClearanceDays:   7,
			PayoutThreshold: decimal.NewFromInt(50),
			Currency:        "usd",
		},
		Scheduler: config.Scheduler{LockTTL: time.Minute},
		Auth:      config.Auth{JWTSecret: "jwt", CronSecret: "cron"},
	}
}

func TestNewWiresEveryJob(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Equal(t, []string{
		service.JobDispatchPending,
		service.JobProcessPayouts,
		service.JobSettleBalances,
		service.JobTrialCleanup,
	}, a.Scheduler.Names())

	for _, name := range a.Scheduler.Names() {
		summary, err := a.Scheduler.RunOnce(context.Background(), name)
		require.NoError(t, err, name)
		assert.Equal(t, name, summary.Summary().Job)
		assert.Zero(t, summary.Summary().Processed)
	}
}

func TestServerServesCron(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	req := httptest.NewRequest(http.MethodPost, "/api/cron/"+service.JobSettleBalances, nil)
	req.Header.Set("Authorization", "Bearer cron")
	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"job":"settle-balances"`)
}
