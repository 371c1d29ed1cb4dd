package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signPeerToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func peerClaims(now time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    EvidenceServiceName,
		Audience:  jwt.ClaimStrings{ServiceName},
		Subject:   "user-7",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
}

func TestVerifyAcceptsPeerToken(t *testing.T) {
	svc := New(&Config{Secret: "shared-secret"})
	token := signPeerToken(t, "shared-secret", peerClaims(time.Now()))

	subject, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", subject)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	svc := New(&Config{Secret: "shared-secret"})
	token := signPeerToken(t, "other-secret", peerClaims(time.Now()))

	_, err := svc.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	svc := New(&Config{Secret: "shared-secret"})
	claims := peerClaims(time.Now().Add(-10 * time.Minute))
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-5 * time.Minute))

	_, err := svc.Verify(signPeerToken(t, "shared-secret", claims))
	assert.Error(t, err)
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	svc := New(&Config{Secret: "shared-secret"})
	claims := peerClaims(time.Now())
	claims.Audience = jwt.ClaimStrings{"some-other-service"}

	_, err := svc.Verify(signPeerToken(t, "shared-secret", claims))
	assert.Error(t, err)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	svc := New(&Config{Secret: "shared-secret"})
	claims := peerClaims(time.Now())
	claims.Issuer = "imposter"

	_, err := svc.Verify(signPeerToken(t, "shared-secret", claims))
	assert.Error(t, err)
}

func TestIssuedTokenCarriesServiceIdentity(t *testing.T) {
	svc := New(&Config{Secret: "shared-secret", TokenLifetime: time.Minute})

	signed, err := svc.Issue()
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte("shared-secret"), nil
	})
	require.NoError(t, err)

	assert.Equal(t, ServiceName, claims.Issuer)
	assert.Contains(t, claims.Audience, EvidenceServiceName)
	assert.True(t, claims.ExpiresAt.After(time.Now()))
}
