package history

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-live/internal/shared"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/:id/turns", h.ListTurns)
}

type TurnListResponse struct {
	SessionID string  `json:"session_id" example:"live_3f2a"`
	Total     int64   `json:"total" example:"12"`
	Limit     int     `json:"limit" example:"50"`
	Offset    int     `json:"offset" example:"0"`
	Turns     []*Turn `json:"turns"`
}

// ListTurns godoc
// @Summary List the finalized turns of a session
// @Tags history
// @Produce json
// @Param id path string true "Session ID"
// @Param limit query int false "Page size (max 500)"
// @Param offset query int false "Offset"
// @Success 200 {object} TurnListResponse
// @Failure 400 {object} shared.APIError
// @Router /api/v1/sessions/{id}/turns [get]
func (h *Handler) ListTurns(c echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return shared.BadRequest("missing_session", "session id is required")
	}

	limit := defaultLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return shared.BadRequest("invalid_limit", "limit must be a positive integer")
		}
		limit = min(n, maxLimit)
	}
	offset := 0
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return shared.BadRequest("invalid_offset", "offset must be a non-negative integer")
		}
		offset = n
	}

	ctx := c.Request().Context()
	turns, err := h.store.ListBySession(ctx, sessionID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list turns", "error", err, "session_id", sessionID)
		return shared.InternalError("list_failed", "failed to list turns")
	}
	total, err := h.store.CountBySession(ctx, sessionID)
	if err != nil {
		h.logger.Error("failed to count turns", "error", err, "session_id", sessionID)
		return shared.InternalError("list_failed", "failed to list turns")
	}

	return c.JSON(http.StatusOK, TurnListResponse{
		SessionID: sessionID,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
		Turns:     turns,
	})
}
