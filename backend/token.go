package backend

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrEmptySecret is returned when the signer has no key material
var ErrEmptySecret = errors.New("jwt secret is empty")

// UserClaims identifies the user a backend call acts for
type UserClaims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// TokenSigner issues short-lived HS256 tokens scoped to one user
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner creates a signer; tokens expire after ttl
func NewTokenSigner(secret string, ttl time.Duration) *TokenSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a token for userID
func (s *TokenSigner) Sign(userID string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrEmptySecret
	}

	now := s.now()
	claims := UserClaims{
		UID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify parses a token issued by this signer and returns its user id
func (s *TokenSigner) Verify(tokenString string) (string, error) {
	claims := &UserClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	return claims.UID, nil
}
