package v1

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// adminClaims is the payload of an ops token. Tokens are HMAC-signed with
// the instance secret; only the admin role may reach this API.
type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// adminOnly authenticates the request against the instance secret and
// rejects tokens that do not carry the admin role.
func (s *APIV1Service) adminOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims := &adminClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(s.Secret), nil
		})
		if err != nil || !token.Valid {
			slog.Warn("rejected admin token",
				slog.String("path", c.Path()))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		if claims.Role != "admin" {
			return echo.NewHTTPError(http.StatusForbidden, "admin role required")
		}
		return next(c)
	}
}
