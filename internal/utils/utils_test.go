package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccessTokenClaims(t *testing.T) {
	tok, err := NewAccessToken("secret", 7, "admin", 15)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), tok.Exp, 5*time.Second)

	parsed, err := jwt.Parse(tok.Token, func(*jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "7", claims["sub"])
	assert.Equal(t, "admin", claims["role"])
}

func TestRefreshTokens(t *testing.T) {
	a, err := NewRefreshToken(7)
	require.NoError(t, err)
	b, err := NewRefreshToken(7)
	require.NoError(t, err)

	assert.Len(t, a.Raw, 96)
	assert.NotEqual(t, a.Raw, b.Raw)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), a.Exp, 5*time.Second)

	assert.Len(t, HashRefreshRaw(a.Raw), 64)
	assert.Equal(t, HashRefreshRaw(a.Raw), HashRefreshRaw(a.Raw))
	assert.NotEqual(t, HashRefreshRaw(a.Raw), HashRefreshRaw(b.Raw))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22", 4)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "hunter22"))
	assert.False(t, VerifyPassword(hash, "hunter23"))
	assert.False(t, VerifyPassword("not-a-hash", "hunter22"))

	// Out-of-range costs are clamped instead of failing.
	hash, err = HashPassword("hunter22", 99)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "hunter22"))
}
