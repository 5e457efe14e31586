package session

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-live/internal/shared"
)

type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/active", h.ListActive)
	g.GET("/stats", h.GetStats)
	g.GET("/:id", h.GetSession)
	g.GET("/:id/recent", h.RecentTurns)
}

type ActiveResponse struct {
	Count    int        `json:"count" example:"2"`
	Sessions []*Session `json:"sessions"`
}

type DetailResponse struct {
	Session *Session `json:"session"`
	Turns   []Turn   `json:"turns"`
}

type StatsResponse struct {
	Hours int      `json:"hours" example:"24"`
	Stats []*Stats `json:"stats"`
}

// ListActive godoc
// @Summary List live sessions
// @Tags sessions
// @Produce json
// @Success 200 {object} ActiveResponse
// @Router /api/v1/sessions/active [get]
func (h *Handler) ListActive(c echo.Context) error {
	sessions, err := h.store.Active(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to list active sessions", "error", err)
		return shared.InternalError("list_failed", "failed to list sessions")
	}
	return c.JSON(http.StatusOK, ActiveResponse{Count: len(sessions), Sessions: sessions})
}

// GetSession godoc
// @Summary Get a session record with its recent turns
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} DetailResponse
// @Failure 404 {object} shared.APIError
// @Router /api/v1/sessions/{id} [get]
func (h *Handler) GetSession(c echo.Context) error {
	id := c.Param("id")
	sess, err := h.store.Get(c.Request().Context(), id)
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NotFound("session_not_found", "session not found")
	}
	if err != nil {
		h.logger.Error("failed to get session", "error", err, "session_id", id)
		return shared.InternalError("get_failed", "failed to get session")
	}

	turns, err := h.store.Turns(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("failed to get turns", "error", err, "session_id", id)
		return shared.InternalError("get_failed", "failed to get session")
	}
	return c.JSON(http.StatusOK, DetailResponse{Session: sess, Turns: turns})
}

func (h *Handler) RecentTurns(c echo.Context) error {
	id := c.Param("id")
	turns, err := h.store.Turns(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("failed to get turns", "error", err, "session_id", id)
		return shared.InternalError("get_failed", "failed to get turns")
	}
	return c.JSON(http.StatusOK, turns)
}

// GetStats godoc
// @Summary Hourly live session counters
// @Tags sessions
// @Produce json
// @Param hours query int false "Hours to look back (1-168)"
// @Success 200 {object} StatsResponse
// @Router /api/v1/sessions/stats [get]
func (h *Handler) GetStats(c echo.Context) error {
	hours := 24
	if v := c.QueryParam("hours"); v != "" {
		if hr, err := strconv.Atoi(v); err == nil && hr > 0 && hr <= 168 {
			hours = hr
		}
	}

	stats, err := h.store.GetStats(c.Request().Context(), hours)
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		return shared.InternalError("get_stats_failed", "failed to get stats")
	}
	return c.JSON(http.StatusOK, StatsResponse{Hours: hours, Stats: stats})
}
