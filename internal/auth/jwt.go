// Package auth provides authentication utilities for JWT token management.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type constants for the typ claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Token expiration durations.
const (
	AccessTokenExpiry  = 15 * time.Minute
	RefreshTokenExpiry = 7 * 24 * time.Hour
)

// DefaultLeeway for token validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptyOrgID is returned when the organization id is empty.
var ErrEmptyOrgID = errors.New("organization id cannot be empty")

// Claims represents custom JWT claims for the application. Every access
// token carries the organization the caller acts for; tenant scoping hangs
// off this claim, never off request bodies.
type Claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id,omitempty"`
	Type  string `json:"typ"` // "access" or "refresh"
}

// JWTService handles JWT token operations.
// Supports dual-key rotation: tokens are signed with currentSecret but can
// be validated with either currentSecret or previousSecret.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
}

// NewJWTService creates a new JWTService with the given secret.
func NewJWTService(secret string) *JWTService {
	return &JWTService{
		currentSecret: []byte(secret),
		leeway:        DefaultLeeway,
	}
}

// NewJWTServiceWithRotation creates a JWTService with dual-key support for
// zero-downtime rotation. Set previousSecret to empty string if no rotation
// is in progress.
func NewJWTServiceWithRotation(currentSecret, previousSecret string) *JWTService {
	svc := &JWTService{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// GenerateAccessToken creates a signed access token for a subject acting
// within an organization.
func (s *JWTService) GenerateAccessToken(subject, orgID string) (string, error) {
	if orgID == "" {
		return "", ErrEmptyOrgID
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenExpiry)),
		},
		OrgID: orgID,
		Type:  TokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// ValidateAccessToken parses and validates an access token, returning its
// claims. Tokens signed with the previous secret remain valid during
// rotation.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.currentSecret)
	if err != nil && s.previousSecret != nil {
		claims, err = s.parse(tokenString, s.previousSecret)
	}
	if err != nil {
		return nil, err
	}

	if claims.Type != TokenTypeAccess {
		return nil, ErrInvalidToken
	}
	if claims.OrgID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (s *JWTService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return secret, nil
		},
		jwt.WithLeeway(s.leeway),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
