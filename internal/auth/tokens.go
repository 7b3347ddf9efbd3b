// Package auth issues and verifies the HS256 tokens that guard admin routes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fairground/go-services/pkg/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the role required for destructive maintenance endpoints.
const RoleAdmin = "admin"

var ErrNoSecret = errors.New("auth: signing secret is empty")

// GenerateToken creates a signed JWT for subject with the given role.
func GenerateToken(secret, subject, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// HS256Verifier checks tokens produced by GenerateToken.
type HS256Verifier struct {
	secret []byte
}

var _ middleware.Verifier = (*HS256Verifier)(nil)

func NewHS256Verifier(secret string) (*HS256Verifier, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &HS256Verifier{secret: []byte(secret)}, nil
}

type verifiedToken struct {
	claims jwt.MapClaims
}

func (t verifiedToken) Claims(v interface{}) error {
	out, ok := v.(*map[string]interface{})
	if !ok {
		return fmt.Errorf("auth: unsupported claims target %T", v)
	}
	*out = map[string]interface{}(t.claims)
	return nil
}

// Verify parses raw, rejecting anything not signed with HS256 and the configured secret.
func (h *HS256Verifier) Verify(_ context.Context, raw string) (middleware.Token, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return h.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if _, ok := claims["exp"]; !ok {
		return nil, errors.New("auth: token has no expiry")
	}
	return verifiedToken{claims: claims}, nil
}
