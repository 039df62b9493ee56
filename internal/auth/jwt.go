package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token purposes. A link token can only be exchanged for a session and a
// session token can only authorize requests.
const (
	PurposeLink    = "link"
	PurposeSession = "session"
)

// TokenManager handles JWT token generation and validation.
type TokenManager struct {
	secretKey []byte
	now       func() time.Time
}

// Claims represents the custom JWT claims for links and sessions.
type Claims struct {
	Identity string `json:"identity"`
	Purpose  string `json:"purpose"`
	jwt.RegisteredClaims
}

// NewTokenManager creates a token manager with the given HMAC secret.
// secretKey should be a strong random string (e.g., 32 bytes).
func NewTokenManager(secretKey string) *TokenManager {
	return &TokenManager{secretKey: []byte(secretKey), now: time.Now}
}

// Generate creates a signed token for identity, valid for ttl.
func (m *TokenManager) Generate(identity, purpose string, ttl time.Duration) (string, *Claims, error) {
	now := m.now()
	claims := &Claims{
		Identity: identity,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   identity,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, claims, nil
}

// Validate parses a token, checks its signature, lifetime and purpose, and
// returns its claims.
func (m *TokenManager) Validate(tokenString, purpose string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			// Verify the signing method
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("%w: token is for %q", ErrInvalidToken, claims.Purpose)
	}
	return claims, nil
}
