package v1

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/moshimoshi/fukushu/store"
)

const (
	defaultDueLimit = 20
	maxDueLimit     = 200
)

// DueQueueResponse represents the ordered review queue for one user
type DueQueueResponse struct {
	Items []*store.ReviewItem `json:"items"`
	Count int                 `json:"count"`
}

// GetDueQueue returns the items due for review, most urgent first
// GET /api/v1/admin/due/:userID?limit=20
func (s *APIV1Service) GetDueQueue(c echo.Context) error {
	userID := c.Param("userID")
	limit := defaultDueLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			slog.Warn("invalid limit parameter in due queue request",
				slog.String("limit", raw))
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		if parsed > maxDueLimit {
			parsed = maxDueLimit
		}
		limit = parsed
	}

	items, err := s.ReviewService.DueQueue(c.Request().Context(), userID, limit)
	if err != nil {
		slog.Error("failed to build due queue",
			slog.String("user", userID),
			slog.String("error", err.Error()))
		return c.JSON(errorStatus(err), map[string]string{"error": "failed to build due queue"})
	}
	return c.JSON(http.StatusOK, DueQueueResponse{Items: items, Count: len(items)})
}
