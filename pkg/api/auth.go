package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// bearerAuth returns middleware that rejects any request whose
// Authorization header does not present the configured knowledge-engine
// bearer token (spec §6: "authenticated by a bearer token"). An empty
// token disables the check, which only happens when the operator has not
// configured one; NewServer logs loudly in that case.
func bearerAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if token == "" {
				return next(c)
			}
			got := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing or invalid bearer token"})
			}
			return next(c)
		}
	}
}
