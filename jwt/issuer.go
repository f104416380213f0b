package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IssuerConfig configures an [Issuer].
type IssuerConfig struct {
	Key    []byte
	Issuer string
	TTL    time.Duration
}

// Issuer mints HS256 access tokens. It exists for in-process identity servers; production
// tokens come from the real identity service.
type Issuer struct {
	config IssuerConfig
	now    func() time.Time
}

// AccessClaims is the claim set minted by [Issuer].
type AccessClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewIssuer validates cfg and returns an issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.Key) == 0 {
		return nil, errors.New("hs256 requires key")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	return &Issuer{config: cfg, now: time.Now}, nil
}

// Issue returns a signed token for subject with the configured TTL.
func (i *Issuer) Issue(subject, role string) (string, error) {
	return i.IssueWithTTL(subject, role, i.config.TTL)
}

// IssueWithTTL returns a signed token for subject expiring after ttl. Every token carries a
// fresh jti, so two tokens minted in the same second still differ. A negative ttl yields an
// already expired token.
func (i *Issuer) IssueWithTTL(subject, role string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := AccessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.config.Key)
}

// Verify parses token with the issuer key and returns its claims.
func (i *Issuer) Verify(token string) (*AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(*jwt.Token) (interface{}, error) {
		return i.config.Key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
