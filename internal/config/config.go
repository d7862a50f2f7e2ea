package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	Database    Database    `envPrefix:"DATABASE_"`
	Stripe      Stripe      `envPrefix:"STRIPE_"`
	TradingView TradingView `envPrefix:"TRADINGVIEW_"`
	Paypal      Paypal      `envPrefix:"PAYPAL_"`
	Redis       Redis       `envPrefix:"REDIS_"`
	Marketplace Marketplace `envPrefix:"MARKETPLACE_"`
	Scheduler   Scheduler   `envPrefix:"SCHEDULER_"`
	Auth        Auth        `envPrefix:"AUTH_"`
}

type Database struct {
	Driver string `env:"DRIVER" envDefault:"postgres"` // postgres, mysql, sqlite
	URL    string `env:"URL"`
}

type Stripe struct {
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

// TradingView is the access-management API of the scripting platform.
type TradingView struct {
	BaseURL string        `env:"BASE_URL"`
	APIKey  string        `env:"API_KEY"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

type Paypal struct {
	BaseApiURL   string `env:"BASE_API_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

type Redis struct {
	URL string `env:"URL"`
}

type Marketplace struct {
	FeeRate         decimal.Decimal `env:"FEE_RATE" envDefault:"0.10"`
	ClearanceDays   int             `env:"CLEARANCE_DAYS" envDefault:"7"`
	PayoutThreshold decimal.Decimal `env:"PAYOUT_THRESHOLD" envDefault:"50"`
	Currency        string          `env:"CURRENCY" envDefault:"usd"`
}

func (m Marketplace) ClearanceWindow() time.Duration {
	return time.Duration(m.ClearanceDays) * 24 * time.Hour
}

type Scheduler struct {
	Enabled          bool          `env:"ENABLED" envDefault:"false"`
	TrialInterval    time.Duration `env:"TRIAL_INTERVAL" envDefault:"1h"`
	SettleInterval   time.Duration `env:"SETTLE_INTERVAL" envDefault:"24h"`
	PayoutInterval   time.Duration `env:"PAYOUT_INTERVAL" envDefault:"24h"`
	DispatchInterval time.Duration `env:"DISPATCH_INTERVAL" envDefault:"5m"`
	LockTTL          time.Duration `env:"LOCK_TTL" envDefault:"15m"`
}

type Auth struct {
	JWTSecret  string `env:"JWT_SECRET"`
	CronSecret string `env:"CRON_SECRET"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	if c.Marketplace.FeeRate.IsNegative() || c.Marketplace.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("MARKETPLACE_FEE_RATE must be in [0, 1), got %s", c.Marketplace.FeeRate)
	}
	if c.Marketplace.ClearanceDays <= 0 {
		return fmt.Errorf("MARKETPLACE_CLEARANCE_DAYS must be positive")
	}
	if !c.Marketplace.PayoutThreshold.IsPositive() {
		return fmt.Errorf("MARKETPLACE_PAYOUT_THRESHOLD must be positive")
	}
	return nil
}
