// Package middleware carries echo middleware shared by the HTTP surface.
package middleware

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimiter applies a per-client token bucket. The admin surface is a
// small ops API; the bucket stops a runaway dashboard from hammering the
// hosted store.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*rate.Limiter

	rps   rate.Limit
	burst int
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*rate.Limiter),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.clients[key]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(rl.rps, rl.burst)
	rl.clients[key] = limiter
	return limiter
}

// Allow reports whether the client identified by key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

// Middleware rejects clients over their budget with 429.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.Allow(c.RealIP()) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
