package handler

import (
	"net/http"

	"scriptmarket/internal/middleware"
	"scriptmarket/internal/service"

	"github.com/labstack/echo/v4"
)

type UserHandler struct {
	userService service.UserService
}

func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

func (h *UserHandler) GetAssignments(c echo.Context) error {
	ctx := c.Request().Context()

	assignments, err := h.userService.GetAssignments(ctx, middleware.UserID(c))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, assignments)
}

func (h *UserHandler) GetPurchases(c echo.Context) error {
	ctx := c.Request().Context()

	purchases, err := h.userService.GetPurchases(ctx, middleware.UserID(c))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, purchases)
}
