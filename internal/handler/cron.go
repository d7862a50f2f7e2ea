package handler

import (
	"context"
	"net/http"

	"scriptmarket/internal/dto"

	"github.com/labstack/echo/v4"
)

// JobRunner runs one named sweep to completion.
type JobRunner interface {
	RunOnce(ctx context.Context, name string) (dto.Summary, error)
	Names() []string
}

type CronHandler struct {
	runner JobRunner
}

func NewCronHandler(runner JobRunner) *CronHandler {
	return &CronHandler{
		runner: runner,
	}
}

func (h *CronHandler) ListJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{
		"jobs": h.runner.Names(),
	})
}

// RunJob runs the job synchronously and returns its result.
func (h *CronHandler) RunJob(c echo.Context) error {
	result, err := h.runner.RunOnce(c.Request().Context(), c.Param("job"))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, result)
}
