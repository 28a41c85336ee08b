package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListTurns lists a session's turns in creation order.
// GET /v1/sessions/:session_id/turns
func (h *Handler) ListTurns(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	detail, err := h.service.GetSessionDetail(ctx, sessionID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"turns": detail.Turns,
	})
}

// GetTurn returns one turn with its tool results.
// GET /v1/turns/:turn_id
func (h *Handler) GetTurn(c echo.Context) error {
	ctx := c.Request().Context()
	turnID := c.Param("turn_id")

	turn, err := h.service.GetTurn(ctx, turnID)
	if err != nil {
		return errorResponse(c, err)
	}
	if turn == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "turn not found"})
	}
	return c.JSON(http.StatusOK, turn)
}

// ListVerdicts lists a session's verdicts in recorded order.
// GET /v1/sessions/:session_id/verdicts
func (h *Handler) ListVerdicts(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	verdicts, err := h.service.ListVerdicts(ctx, sessionID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"verdicts": verdicts,
	})
}
