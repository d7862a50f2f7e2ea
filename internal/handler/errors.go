package handler

import (
	"errors"
	"net/http"

	"scriptmarket/internal/service"

	"github.com/labstack/echo/v4"
)

// httpError maps service sentinels onto HTTP statuses. Anything unknown stays a 500.
func httpError(err error) error {
	if err == nil {
		return nil
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	case errors.Is(err, service.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error()).SetInternal(err)
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrTrialAlreadyUsed),
		errors.Is(err, service.ErrJobAlreadyRunning):
		return echo.NewHTTPError(http.StatusConflict, err.Error()).SetInternal(err)
	case errors.Is(err, service.ErrPaymentProvider), errors.Is(err, service.ErrScriptPlatform):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error()).SetInternal(err)
	default:
		return err
	}
}
