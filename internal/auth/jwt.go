package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token roles
const (
	RoleSite  = "site"
	RoleRelay = "relay"
)

// Claims represents JWT claims
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies bearer tokens for site users and relays
type TokenIssuer struct {
	secret []byte
	issuer string
}

// NewTokenIssuer creates a token issuer
func NewTokenIssuer(secret, issuer string) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret not initialized")
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer}, nil
}

// GenerateToken generates a token for subject with role, valid until expireAt
func (ti *TokenIssuer) GenerateToken(subject, role string, expireAt time.Time) (string, error) {
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expireAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    ti.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// ParseToken parses and validates a token
func (ti *TokenIssuer) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secret, nil
	}, jwt.WithIssuer(ti.issuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
