package handler

import (
	"errors"
	"net/http"

	"scriptmarket/internal/dto"
	"scriptmarket/internal/middleware"
	"scriptmarket/internal/service"

	"github.com/labstack/echo/v4"
)

type AssignmentHandler struct {
	assignmentService service.AssignmentService
}

func NewAssignmentHandler(assignmentService service.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{
		assignmentService: assignmentService,
	}
}

// Dispatch retries delivery of one pending or failed assignment.
func (h *AssignmentHandler) Dispatch(c echo.Context) error {
	ctx := c.Request().Context()

	assignment, err := h.assignmentService.Dispatch(ctx, c.Param("id"))
	if errors.Is(err, service.ErrScriptPlatform) && assignment != nil {
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"error":      err.Error(),
			"assignment": dto.NewAssignmentResponse(assignment),
		})
	}
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, dto.NewAssignmentResponse(assignment))
}

func (h *AssignmentHandler) StartTrial(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.TrialRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	assignment, err := h.assignmentService.StartTrial(ctx, middleware.UserID(c), req.ProgramID, req.TradingViewUsername)
	if errors.Is(err, service.ErrScriptPlatform) && assignment != nil {
		// The trial is recorded and will be retried; report it as accepted.
		return c.JSON(http.StatusAccepted, dto.NewAssignmentResponse(assignment))
	}
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, dto.NewAssignmentResponse(assignment))
}
