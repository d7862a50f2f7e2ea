package handler

import (
	"net/http"

	"scriptmarket/internal/dto"
	"scriptmarket/internal/middleware"
	"scriptmarket/internal/service"

	"github.com/labstack/echo/v4"
)

type SellerHandler struct {
	sellerService     service.SellerService
	assignmentService service.AssignmentService
}

func NewSellerHandler(sellerService service.SellerService, assignmentService service.AssignmentService) *SellerHandler {
	return &SellerHandler{
		sellerService:     sellerService,
		assignmentService: assignmentService,
	}
}

func (h *SellerHandler) GetBalance(c echo.Context) error {
	balance, err := h.sellerService.GetBalance(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, balance)
}

func (h *SellerHandler) ListPayouts(c echo.Context) error {
	payouts, err := h.sellerService.ListPayouts(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, payouts)
}

func (h *SellerHandler) RefreshAccount(c echo.Context) error {
	account, err := h.sellerService.RefreshConnectedAccount(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, account)
}

func (h *SellerHandler) ListScripts(c echo.Context) error {
	scripts, err := h.sellerService.ListScripts(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, scripts)
}

func (h *SellerHandler) SyncScripts(c echo.Context) error {
	scripts, err := h.assignmentService.SyncSellerScripts(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return httpError(err)
	}

	resp := make([]*dto.SellerScriptResponse, 0, len(scripts))
	for _, s := range scripts {
		resp = append(resp, &dto.SellerScriptResponse{
			PineID:   s.PineID,
			Name:     s.Name,
			SyncedAt: s.SyncedAt,
		})
	}
	return c.JSON(http.StatusOK, resp)
}
