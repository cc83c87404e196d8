// Package token generates session and anti-forgery tokens and mints the JWT
// access tokens used by API clients.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
	dErrors "github.com/Stiven-son/calniq-sub001/pkg/domain-errors"
)

// SessionTokenLength is the hex-encoded length of a session token:
// 32 random bytes, 64 characters.
const SessionTokenLength = 64

// NewSessionToken returns a 256-bit cryptographically random token,
// hex-encoded.
func NewSessionToken() (string, error) {
	return randomHex(32)
}

// NewCSRFToken returns a random anti-forgery token.
func NewCSRFToken() (string, error) {
	return randomHex(32)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Claims is the JWT payload for API access tokens.
type Claims struct {
	UserID   string `json:"uid"`
	TenantID string `json:"tid"`
	jwt.RegisteredClaims
}

// JWTManager mints and validates API access tokens.
type JWTManager struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

// NewJWTManager creates a manager signing with the given key.
func NewJWTManager(signingKey string, ttl time.Duration) *JWTManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTManager{
		signingKey: []byte(signingKey),
		issuer:     "calniq",
		ttl:        ttl,
	}
}

// Mint issues a signed access token for the user.
func (m *JWTManager) Mint(userID id.UserID, tenantID id.TenantID, now time.Time) (string, error) {
	claims := Claims{
		UserID:   userID.String(),
		TenantID: tenantID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies an access token, returning its claims.
func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid access token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid access token")
	}
	return claims, nil
}
