// Package auth guards the management API with JWT bearer tokens and
// Redis-backed API keys. Roles gate mutating operations.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrMissingToken     = errors.New("missing authentication token")
	ErrInsufficientRole = errors.New("insufficient permissions")
)

// Role represents an access level.
type Role string

const (
	// RoleAdmin may manage schedules and purge the dead letter store.
	RoleAdmin Role = "admin"
	// RoleOperator may submit, cancel, and retry jobs.
	RoleOperator Role = "operator"
	// RoleViewer has read-only access.
	RoleViewer Role = "viewer"
)

var roleRank = map[Role]int{
	RoleAdmin:    100,
	RoleOperator: 50,
	RoleViewer:   10,
}

// HasPermission reports whether the role meets the required level.
func (r Role) HasPermission(required Role) bool {
	return roleRank[r] >= roleRank[required]
}

// Claims are the JWT claims issued for API access.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// JWTConfig holds token signing configuration.
type JWTConfig struct {
	SecretKey   string
	Issuer      string
	TokenExpiry time.Duration
}

// DefaultJWTConfig returns defaults. SecretKey must come from the
// environment.
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Issuer:      "taskforge",
		TokenExpiry: 1 * time.Hour,
	}
}

// JWTService signs and validates bearer tokens.
type JWTService struct {
	config JWTConfig
}

func NewJWTService(config JWTConfig) (*JWTService, error) {
	if config.SecretKey == "" {
		return nil, errors.New("JWT secret key is required")
	}
	return &JWTService{config: config}, nil
}

// GenerateToken creates a signed token for a user.
func (s *JWTService) GenerateToken(userID, username string, role Role) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenExpiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
		UserID:   userID,
		Username: username,
		Role:     role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.SecretKey))
}

// ValidateToken verifies a token and returns its claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.config.SecretKey), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}
