package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	t.Run("Allow", func(t *testing.T) {
		rl := NewRateLimiter(1, 2)
		require.True(t, rl.Allow("alice"))
		require.True(t, rl.Allow("alice"))
		require.False(t, rl.Allow("alice"), "burst of 2 is spent")
		require.True(t, rl.Allow("bob"), "clients have independent buckets")
	})

	t.Run("Middleware", func(t *testing.T) {
		e := echo.New()
		rl := NewRateLimiter(1, 1)
		e.GET("/ping", func(c echo.Context) error {
			return c.String(http.StatusOK, "pong")
		}, rl.Middleware())

		do := func(ip string) int {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set(echo.HeaderXRealIP, ip)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			return rec.Code
		}

		require.Equal(t, http.StatusOK, do("198.51.100.1"))
		require.Equal(t, http.StatusTooManyRequests, do("198.51.100.1"))
		require.Equal(t, http.StatusOK, do("198.51.100.2"))
	})
}
