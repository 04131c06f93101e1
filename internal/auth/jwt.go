package auth

import (
	"fmt"
	"time"

	"github.com/freelance-escrow/backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const Issuer = "freelance-escrow"

type Claims struct {
	Identity models.Identity `json:"identity"`
	Network  string          `json:"network,omitempty"`
	jwt.RegisteredClaims
}

// GenerateJWT signs a session token for a wallet identity.
// A non-positive expiration falls back to 24h.
func GenerateJWT(secret string, identity models.Identity, network string, expiration time.Duration) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("identity is required")
	}
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}

	now := time.Now()
	claims := Claims{
		Identity: identity,
		Network:  network,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseJWT(secret string, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Identity == "" {
		return nil, fmt.Errorf("token carries no identity")
	}
	return claims, nil
}
