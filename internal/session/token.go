package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry reads 'exp' claim of a JWT access token
// The signature is not verified: the client has no key and only needs the value for display
// Opaque (non-JWT) tokens or tokens without 'exp' return false
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}

	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}

	return claims.ExpiresAt.Time, true
}
