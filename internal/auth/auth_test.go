package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbuslabs/azurechat/internal/config"
)

func TestMain(m *testing.M) {
	config.AppConfig.JWTSecret = "test-secret"
	m.Run()
}

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("42")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	subject, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "42", subject)
}

func TestValidateJWTRejectsGarbage(t *testing.T) {
	_, err := ValidateJWT("not-a-token")
	assert.Error(t, err)
}

func TestValidateJWTRejectsWrongSecret(t *testing.T) {
	token, err := GenerateJWT("42")
	require.NoError(t, err)

	config.AppConfig.JWTSecret = "other-secret"
	defer func() { config.AppConfig.JWTSecret = "test-secret" }()

	_, err = ValidateJWT(token)
	assert.Error(t, err)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2!")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2!", hash)

	assert.True(t, CheckPasswordHash("hunter2!", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
}

func TestRefreshTokenHashing(t *testing.T) {
	token, hash, err := NewRefreshToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotEqual(t, token, hash)

	// The lookup hash is deterministic.
	assert.Equal(t, hash, HashRefreshToken(token))

	// Two tokens never collide.
	token2, hash2, err := NewRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
	assert.NotEqual(t, hash, hash2)
}
