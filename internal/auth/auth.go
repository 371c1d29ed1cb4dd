// Package auth handles the HS256 service tokens exchanged with the evidence
// service: verifying inbound API tokens and minting outbound callback tokens.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ServiceName is this service's identity in token claims.
	ServiceName = "ai-analysis-service"
	// EvidenceServiceName is the upstream peer's identity.
	EvidenceServiceName = "evidence-service"

	defaultTokenLifetime = 5 * time.Minute
)

// Config holds the shared secret and outbound token lifetime.
type Config struct {
	Secret        string
	TokenLifetime time.Duration
}

// Service issues and verifies service-to-service tokens.
type Service struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// New creates an auth service.
func New(config *Config) *Service {
	lifetime := config.TokenLifetime
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	return &Service{
		secret:   []byte(config.Secret),
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Issue mints a short-lived token addressed to the evidence service, used as
// the bearer credential on result callbacks.
func (s *Service) Issue() (string, error) {
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    ServiceName,
		Audience:  jwt.ClaimStrings{EvidenceServiceName},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify validates an inbound token from the evidence service: HS256 only,
// unexpired, issued by the evidence service, and addressed to this service.
// It returns the token subject, which may be empty.
func (s *Service) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return s.secret, nil
		},
		jwt.WithIssuer(EvidenceServiceName),
		jwt.WithAudience(ServiceName),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	return claims.Subject, nil
}
