package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadcondition/streetcrop/internal/auth"
)

func newTestJWTService(key, issuer, audience string) *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{
		SigningKey: key,
		Issuer:     issuer,
		Audience:   audience,
	})
}

func TestJWTService_GenerateAndValidateAccessToken(t *testing.T) {
	svc := newTestJWTService("test-secret-key-for-testing-only", "streetcrop", "streetcrop-api")

	token, expiresAt, err := svc.GenerateAccessToken("fleet-eu-1", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "fleet-eu-1", claims.ClientID)
	assert.Equal(t, "fleet-eu-1", claims.Subject)
	assert.Equal(t, "streetcrop", claims.Issuer)

	clientID, err := svc.ClientID(token)
	require.NoError(t, err)
	assert.Equal(t, "fleet-eu-1", clientID)
}

func TestJWTService_DefaultTTL(t *testing.T) {
	svc := newTestJWTService("test-secret-key-for-testing-only", "streetcrop", "streetcrop-api")

	_, expiresAt, err := svc.GenerateAccessToken("batch", 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(auth.DefaultTokenTTL), expiresAt, 5*time.Second)
}

func TestJWTService_MissingClientID(t *testing.T) {
	svc := newTestJWTService("test-secret-key-for-testing-only", "streetcrop", "streetcrop-api")

	_, _, err := svc.GenerateAccessToken("", time.Hour)
	assert.ErrorIs(t, err, auth.ErrMissingClientID)
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := newTestJWTService("test-secret-key-for-testing-only", "streetcrop", "streetcrop-api")

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}

func TestJWTService_Expired(t *testing.T) {
	svc := newTestJWTService("test-secret-key-for-testing-only", "streetcrop", "streetcrop-api")

	token, _, err := svc.GenerateAccessToken("fleet", time.Nanosecond)
	require.NoError(t, err)

	// NumericDate truncates to seconds; wait past the boundary.
	time.Sleep(1100 * time.Millisecond)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrAccessTokenExpired)
}

func TestJWTService_Mismatch(t *testing.T) {
	issuer := newTestJWTService("key-one", "streetcrop", "streetcrop-api")
	token, _, err := issuer.GenerateAccessToken("fleet", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name      string
		validator *auth.JWTService
	}{
		{"wrong signing key", newTestJWTService("key-two", "streetcrop", "streetcrop-api")},
		{"wrong issuer", newTestJWTService("key-one", "someone-else", "streetcrop-api")},
		{"wrong audience", newTestJWTService("key-one", "streetcrop", "other-api")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.validator.ValidateAccessToken(token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}
