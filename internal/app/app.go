package app

import (
	"context"
	"fmt"
	"time"

	"scriptmarket/internal/client"
	"scriptmarket/internal/config"
	"scriptmarket/internal/dto"
	"scriptmarket/internal/logging"
	"scriptmarket/internal/repository"
	"scriptmarket/internal/scheduler"
	"scriptmarket/internal/server"
	"scriptmarket/internal/service"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App holds every long-lived dependency of the marketplace.
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client

	Webhook    service.WebhookService
	Checkout   service.CheckoutService
	Assignment service.AssignmentService
	Trial      service.TrialService
	Settlement service.SettlementService
	Payout     service.PayoutService
	Seller     service.SellerService
	User       service.UserService

	Scheduler *scheduler.Scheduler
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.Component("app")

	db, err := client.InitDBClient(cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, DB: db}

	var locker scheduler.Locker
	if cfg.Redis.URL != "" {
		rdb, err := client.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		locker = scheduler.NewRedisLocker(rdb)
	} else {
		logger.Warn().Msg("REDIS_URL not set, job locks only cover this process")
		locker = scheduler.NewMemoryLocker()
	}

	stripeClient := client.NewStripeClient(&cfg.Stripe)
	platform := client.NewTradingViewClient(&cfg.TradingView)
	paypalClient := client.NewPaypalClient(&cfg.Paypal)

	programRepo := repository.NewProgramRepository(db)
	sellerRepo := repository.NewSellerRepository(db)
	purchaseRepo := repository.NewPurchaseRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	balanceRepo := repository.NewBalanceRepository(db)
	payoutRepo := repository.NewPayoutRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)
	scriptRepo := repository.NewSellerScriptRepository(db)

	market := cfg.Marketplace

	a.Assignment = service.NewAssignmentService(db, assignmentRepo, programRepo, sellerRepo, scriptRepo, purchaseRepo, subscriptionRepo, platform)
	a.Webhook = service.NewWebhookService(
		db, stripeClient,
		programRepo,
		sellerRepo,
		purchaseRepo,
		assignmentRepo,
		balanceRepo,
		subscriptionRepo,
		webhookEventRepo,
		a.Assignment,
		market.FeeRate, market.Currency,
	)
	a.Checkout = service.NewCheckoutService(stripeClient, cfg.BaseURL, programRepo, sellerRepo)
	a.Trial = service.NewTrialService(assignmentRepo, platform)
	a.Settlement = service.NewSettlementService(purchaseRepo, balanceRepo, market.ClearanceWindow())
	a.Payout = service.NewPayoutService(
		db, balanceRepo, sellerRepo, payoutRepo,
		service.NewPayoutMethods(
			service.NewConnectedTransfer(stripeClient),
			service.NewBankTransfer(),
			service.NewPaypalPayout(paypalClient),
		),
		market.PayoutThreshold, market.Currency,
	)
	a.Seller = service.NewSellerService(stripeClient, sellerRepo, balanceRepo, payoutRepo, scriptRepo)
	a.User = service.NewUserService(assignmentRepo, purchaseRepo)

	a.Scheduler = scheduler.New(locker, cfg.Scheduler.LockTTL, a.Jobs()...)
	return a, nil
}

// Jobs are the periodic sweeps, each callable on its own from cron or the CLI.
func (a *App) Jobs() []scheduler.Job {
	sched := a.Config.Scheduler
	return []scheduler.Job{
		{
			Name:     service.JobDispatchPending,
			Interval: sched.DispatchInterval,
			Run: func(ctx context.Context) (dto.Summary, error) {
				return summarize(a.Assignment.DispatchPending(ctx))
			},
		},
		{
			Name:     service.JobTrialCleanup,
			Interval: sched.TrialInterval,
			Run: func(ctx context.Context) (dto.Summary, error) {
				return summarize(a.Trial.ExpireTrials(ctx, time.Now()))
			},
		},
		{
			Name:     service.JobSettleBalances,
			Interval: sched.SettleInterval,
			Run: func(ctx context.Context) (dto.Summary, error) {
				return summarize(a.Settlement.SettleBalances(ctx, time.Now()))
			},
		},
		{
			Name:     service.JobProcessPayouts,
			Interval: sched.PayoutInterval,
			Run: func(ctx context.Context) (dto.Summary, error) {
				return summarize(a.Payout.ProcessPayouts(ctx))
			},
		},
	}
}

// summarize drops typed nil results so callers can compare the summary against nil.
func summarize[T dto.Summary](result T, err error) (dto.Summary, error) {
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *App) Server() *server.Server {
	return server.NewServer(server.Services{
		Webhook:    a.Webhook,
		Checkout:   a.Checkout,
		Assignment: a.Assignment,
		Seller:     a.Seller,
		User:       a.User,
		Jobs:       a.Scheduler,
	}, server.Options{
		JWTSecret:  a.Config.Auth.JWTSecret,
		CronSecret: a.Config.Auth.CronSecret,
	})
}

func (a *App) Close() {
	logger := logging.Component("app")
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn().Err(err).Msg("close redis")
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logger.Warn().Err(err).Msg("close database")
			}
		}
	}
}

// Address is the listen address of the HTTP server.
func Address(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s", cfg.HTTP.Host, cfg.HTTP.Port)
}
