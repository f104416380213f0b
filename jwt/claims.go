package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Expiry returns the exp claim of token. The signature is not checked. ok is false when token
// is not a JWT or carries no exp claim; opaque access tokens are normal and not an error.
func Expiry(token string) (exp time.Time, ok bool) {
	if token == "" {
		return time.Time{}, false
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Expired reports whether token expires within skew of now. Tokens without a readable expiry
// are never considered expired.
func Expired(token string, now time.Time, skew time.Duration) bool {
	exp, ok := Expiry(token)
	if !ok {
		return false
	}
	return !now.Add(skew).Before(exp)
}
