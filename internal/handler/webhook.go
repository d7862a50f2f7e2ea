package handler

import (
	"io"
	"net/http"

	"scriptmarket/internal/service"

	"github.com/labstack/echo/v4"
)

// maxWebhookBody caps the webhook payload read into memory.
const maxWebhookBody = 512 * 1024

type WebhookHandler struct {
	webhookService service.WebhookService
}

func NewWebhookHandler(webhookService service.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
	}
}

// StripeWebhook must see the raw body: the signature covers the exact bytes sent.
func (h *WebhookHandler) StripeWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read webhook body")
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	if err := h.webhookService.HandleStripeWebhook(ctx, body, signature); err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]bool{
		"received": true,
	})
}
