package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// ListEvents returns a session's events after an optional sequence cursor.
// GET /v1/sessions/:session_id/events?after_seq=&limit=
func (h *Handler) ListEvents(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	var afterSeq int64
	if raw := c.QueryParam("after_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "after_seq must be a non-negative integer"})
		}
		afterSeq = parsed
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
		}
		limit = parsed
	}

	events, err := h.service.ListEvents(ctx, sessionID, afterSeq, limit)
	if err != nil {
		return errorResponse(c, err)
	}

	nextCursor := afterSeq
	if len(events) > 0 {
		nextCursor = events[len(events)-1].Seq
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events":      events,
		"next_cursor": nextCursor,
	})
}
