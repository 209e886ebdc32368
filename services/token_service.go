package services

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/6587027/VipStore-sub001/models"
)

// TokenService verifies the identity tokens minted by the storefront's auth
// service. IssueToken exists for local tooling and tests.
type TokenService struct {
	jwtSecret   []byte
	tokenExpiry time.Duration
}

func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{
		jwtSecret:   []byte(secret),
		tokenExpiry: expiry,
	}
}

type Claims struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	Name   string      `json:"name"`
	Email  string      `json:"email"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() models.Identity {
	return models.Identity{
		UserID:      c.UserID,
		Role:        c.Role,
		DisplayName: c.Name,
		Email:       c.Email,
	}
}

func (s *TokenService) IssueToken(identity models.Identity) (string, error) {
	claims := &Claims{
		UserID: identity.UserID,
		Role:   identity.Role,
		Name:   identity.DisplayName,
		Email:  identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	identity := claims.Identity()
	if err := identity.Normalize(); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
