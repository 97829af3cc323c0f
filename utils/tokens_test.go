package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengovern/resilient-authbridge/store"
)

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, err := TokenExpiry(mintToken(t, exp))
	require.NoError(t, err)
	assert.True(t, exp.Equal(got))

	_, err = TokenExpiry("opaque-token")
	assert.Error(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = TokenExpiry(noExp)
	assert.Error(t, err)
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, IsExpired(mintToken(t, now.Add(time.Hour)), now, time.Minute))
	assert.True(t, IsExpired(mintToken(t, now.Add(30*time.Second)), now, time.Minute))
	assert.False(t, IsExpired("opaque-token", now, time.Minute))
}

func TestToOAuth2Token(t *testing.T) {
	assert.Nil(t, ToOAuth2Token(store.Credentials{RefreshToken: "r"}))

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	access := mintToken(t, exp)
	tok := ToOAuth2Token(store.Credentials{AccessToken: access, RefreshToken: "r"})
	require.NotNil(t, tok)
	assert.Equal(t, access, tok.AccessToken)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, exp.Equal(tok.Expiry))

	opaque := ToOAuth2Token(store.Credentials{AccessToken: "opaque"})
	require.NotNil(t, opaque)
	assert.True(t, opaque.Expiry.IsZero())
}
