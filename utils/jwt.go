package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rdmsync/config"
)

// Claims identifies the caller of the protected admin endpoints. Subject
// names the operator or service that was issued the token.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// GenerateServiceToken issues a short-lived HS256 token for the admin API.
func GenerateServiceToken(subject string, ttl time.Duration) (string, error) {
	claims := &Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.EncryptionKey))
}

// ParseServiceToken validates a token produced by GenerateServiceToken.
func ParseServiceToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.EncryptionKey), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
