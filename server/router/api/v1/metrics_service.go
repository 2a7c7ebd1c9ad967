package v1

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/moshimoshi/fukushu/internal/observability"
)

// MetricsResponse represents the rolling-window summaries of every recorded operation
type MetricsResponse struct {
	Summaries []*observability.Summary `json:"summaries"`
}

// GetMetricsSummaries returns latency and error summaries for all recorded operations
// GET /api/v1/admin/metrics
func (s *APIV1Service) GetMetricsSummaries(c echo.Context) error {
	return c.JSON(http.StatusOK, MetricsResponse{Summaries: s.Recorder.Summaries()})
}

// GetMetricsSummary returns the summary of a single operation, e.g. review_item.update
// GET /api/v1/admin/metrics/:name
func (s *APIV1Service) GetMetricsSummary(c echo.Context) error {
	name := c.Param("name")
	summary, ok := s.Recorder.Summary(name)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no samples recorded for %s", name)})
	}
	return c.JSON(http.StatusOK, summary)
}
