// Package v1 implements the admin-facing HTTP API of the hosted store.
// Every route lives under /api/v1/admin and sits behind the admin JWT
// middleware; user-facing review traffic goes through the embeddable
// service packages instead of this surface.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/moshimoshi/fukushu/internal/errs"
	"github.com/moshimoshi/fukushu/internal/observability"
	"github.com/moshimoshi/fukushu/internal/profile"
	"github.com/moshimoshi/fukushu/server/middleware"
	"github.com/moshimoshi/fukushu/server/service/review"
	"github.com/moshimoshi/fukushu/store"
)

// Admin traffic budget per client. Ops dashboards poll; they do not stream.
const (
	adminRatePerSec = 10
	adminBurst      = 20
)

type APIV1Service struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store

	Recorder      *observability.Recorder
	ReviewService review.Service
}

func NewAPIV1Service(secret string, profile *profile.Profile, store *store.Store) *APIV1Service {
	return &APIV1Service{
		Secret:        secret,
		Profile:       profile,
		Store:         store,
		Recorder:      store.Recorder(),
		ReviewService: review.NewService(store),
	}
}

// Register mounts the admin API group on the given Echo instance.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	limiter := middleware.NewRateLimiter(adminRatePerSec, adminBurst)
	admin := echoServer.Group("/api/v1/admin", limiter.Middleware(), s.adminOnly)
	admin.GET("/metrics", s.GetMetricsSummaries)
	admin.GET("/metrics/:name", s.GetMetricsSummary)
	admin.GET("/stats/:userID", s.GetUserStats)
	admin.GET("/due/:userID", s.GetDueQueue)
}

// errorStatus maps the store error taxonomy onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errs.IsValidationFailed(err):
		return http.StatusBadRequest
	case errs.IsNotFound(err):
		return http.StatusNotFound
	case errs.IsConflict(err):
		return http.StatusConflict
	case errs.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
