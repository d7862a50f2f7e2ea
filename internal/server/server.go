package server

import (
	"context"
	"errors"
	"net/http"

	"scriptmarket/internal/handler"
	"scriptmarket/internal/logging"
	mw "scriptmarket/internal/middleware"
	"scriptmarket/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Services are the dependencies exposed over HTTP.
type Services struct {
	Webhook    service.WebhookService
	Checkout   service.CheckoutService
	Assignment service.AssignmentService
	Seller     service.SellerService
	User       service.UserService
	Jobs       handler.JobRunner
}

type Options struct {
	JWTSecret  string
	CronSecret string
}

type Server struct {
	echo              *echo.Echo
	logger            zerolog.Logger
	options           Options
	webhookHandler    *handler.WebhookHandler
	checkoutHandler   *handler.CheckoutHandler
	assignmentHandler *handler.AssignmentHandler
	sellerHandler     *handler.SellerHandler
	userHandler       *handler.UserHandler
	cronHandler       *handler.CronHandler
}

func NewServer(services Services, options Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	logger := logging.Component("http")
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogRoutePath: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := logger.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = logger.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Str("route", v.RoutePath).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:              e,
		logger:            logger,
		options:           options,
		webhookHandler:    handler.NewWebhookHandler(services.Webhook),
		checkoutHandler:   handler.NewCheckoutHandler(services.Checkout),
		assignmentHandler: handler.NewAssignmentHandler(services.Assignment),
		sellerHandler:     handler.NewSellerHandler(services.Seller, services.Assignment),
		userHandler:       handler.NewUserHandler(services.User),
	}
	if services.Jobs != nil {
		s.cronHandler = handler.NewCronHandler(services.Jobs)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -------- payment provider webhooks --------
	api.POST("/webhooks/stripe", s.webhookHandler.StripeWebhook)

	// -------- buyers --------
	auth := mw.AuthMiddleware(s.options.JWTSecret)
	api.POST("/checkout", s.checkoutHandler.CreateCheckout, auth)
	api.POST("/trials", s.assignmentHandler.StartTrial, auth)
	api.GET("/me/assignments", s.userHandler.GetAssignments, auth)
	api.GET("/me/purchases", s.userHandler.GetPurchases, auth)

	// -------- sellers --------
	seller := api.Group("/seller", auth)
	seller.GET("/balance", s.sellerHandler.GetBalance)
	seller.GET("/payouts", s.sellerHandler.ListPayouts)
	seller.POST("/account/refresh", s.sellerHandler.RefreshAccount)
	seller.GET("/scripts", s.sellerHandler.ListScripts)
	seller.POST("/scripts/sync", s.sellerHandler.SyncScripts)

	// -------- operators --------
	operator := mw.CronAuth(s.options.CronSecret)
	api.POST("/assignments/:id/dispatch", s.assignmentHandler.Dispatch, operator)
	if s.cronHandler != nil {
		api.GET("/cron", s.cronHandler.ListJobs, operator)
		api.POST("/cron/:job", s.cronHandler.RunJob, operator)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// errorHandler renders every error as {"error": message}.
func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			message = http.StatusText(code)
			if m, ok := he.Message.(string); ok {
				message = m
			}
		} else {
			logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("unhandled error")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, map[string]string{"error": message})
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}
