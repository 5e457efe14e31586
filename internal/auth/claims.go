package auth

import "github.com/golang-jwt/jwt/v5"

// Scope granted to tokens that may read the session registry and history.
const ScopeSessionsRead = "sessions:read"

type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

func (c *Claims) HasScope(scope string) bool {
	return c.Scope == scope || c.Scope == "*"
}
