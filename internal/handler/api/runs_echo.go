package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"NightScan/internal/domain/models"
	"NightScan/internal/usecase"
	xhttp "NightScan/pkg/http"
	xlogger "NightScan/pkg/logger"
)

// RunsEchoHandler serves archived pipeline runs.
type RunsEchoHandler struct {
	logger *xlogger.Logger
	runs   *usecase.RunsUseCase
}

var _ xhttp.Handler = (*RunsEchoHandler)(nil)

func NewRunsEchoHandler(logger *xlogger.Logger, runs *usecase.RunsUseCase) *RunsEchoHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &RunsEchoHandler{logger: logger, runs: runs}
}

func (h *RunsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/runs/latest", h.LatestRun)
	g.GET("/scores", h.Scores)
}

func (h *RunsEchoHandler) LatestRun(c echo.Context) error {
	run, err := h.runs.LatestRun(c.Request().Context())
	if err != nil {
		return h.fail(c, "latest run", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, run)
}

func (h *RunsEchoHandler) Scores(c echo.Context) error {
	req := &models.ScoresRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.runs.GetScores(c.Request().Context(), usecase.GetScoresParams{
		Tier:      req.Tier,
		Direction: req.Direction,
		Sector:    req.Sector,
		Limit:     req.Limit,
	})
	if err != nil {
		return h.fail(c, "scores", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, res)
}

// Health answers ok while the process is up; the last run is informational.
func (h *RunsEchoHandler) Health(c echo.Context) error {
	resp := models.HealthResponse{Status: "ok"}
	if run, err := h.runs.LatestRun(c.Request().Context()); err == nil {
		resp.LastRunID = run.ID
		resp.LastRunAt = run.FinishedAt.Format(time.RFC3339)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *RunsEchoHandler) fail(c echo.Context, op string, err error) error {
	if errors.Is(err, usecase.ErrNoRuns) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no pipeline run available yet"))
	}
	h.logger.Error(op+" usecase error", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError("run archive unavailable").WithError(err))
}
