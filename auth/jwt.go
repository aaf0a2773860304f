package auth

import (
	"errors"
	"fmt"
	"time"

	"dutydesk/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "dutydesk-api"

// Claims represents the session JWT claims. Capabilities are the flags
// resolved at login and are trusted until the token is refreshed.
type Claims struct {
	UserID       string              `json:"user_id"`
	Tag          string              `json:"tag"`
	Capabilities models.Capabilities `json:"caps"`
	jwt.RegisteredClaims
}

// Identity returns the authenticated identity carried by the claims.
func (c *Claims) Identity() *models.Identity {
	return &models.Identity{
		UserID:       c.UserID,
		Tag:          c.Tag,
		Capabilities: c.Capabilities,
	}
}

// JWTManager handles session token generation and validation
type JWTManager struct {
	secretKey       []byte
	tokenExpiration time.Duration
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secretKey string, tokenExpiration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:       []byte(secretKey),
		tokenExpiration: tokenExpiration,
	}
}

// Expiration is the lifetime of issued session tokens.
func (m *JWTManager) Expiration() time.Duration {
	return m.tokenExpiration
}

// GenerateToken generates a new session token for an identity
func (m *JWTManager) GenerateToken(identity *models.Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:       identity.UserID,
		Tag:          identity.Tag,
		Capabilities: identity.Capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   identity.UserID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// ValidateToken validates a session token and returns the claims
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user")
	}

	return claims, nil
}
