package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-live/internal/shared"
)

type contextKey string

const claimsKey contextKey = "jwt_claims"

type Middleware struct {
	validator *JWTValidator
	scope     string
}

func NewMiddleware(validator *JWTValidator, scope string) *Middleware {
	return &Middleware{validator: validator, scope: scope}
}

// Authenticate rejects requests without a valid operator token carrying the
// middleware scope, and stores the claims on the request context.
func (m *Middleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		switch {
		case header == "":
			return shared.Unauthorized("missing_token", "authorization header required")
		case !strings.HasPrefix(header, "Bearer "):
			return shared.Unauthorized("invalid_token", "bearer token required")
		}

		claims, err := m.validator.Validate(header)
		switch {
		case errors.Is(err, ErrExpiredToken):
			return shared.Unauthorized("token_expired", "token has expired")
		case err != nil:
			return shared.Unauthorized("invalid_token", "invalid or malformed token")
		case m.scope != "" && !claims.HasScope(m.scope):
			return shared.Unauthorized("insufficient_scope", "token lacks scope "+m.scope)
		}

		req := c.Request()
		c.SetRequest(req.WithContext(context.WithValue(req.Context(), claimsKey, claims)))
		return next(c)
	}
}

func GetClaims(c echo.Context) *Claims {
	claims, _ := c.Request().Context().Value(claimsKey).(*Claims)
	return claims
}
