package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetUserStats returns the aggregated study statistics for one user
// GET /api/v1/admin/stats/:userID
func (s *APIV1Service) GetUserStats(c echo.Context) error {
	userID := c.Param("userID")
	stats, err := s.Store.GetUserStats(c.Request().Context(), userID)
	if err != nil {
		slog.Error("failed to load user stats",
			slog.String("user", userID),
			slog.String("error", err.Error()))
		return c.JSON(errorStatus(err), map[string]string{"error": "failed to load user stats"})
	}
	return c.JSON(http.StatusOK, stats)
}
