package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signUserToken(t *testing.T, secret string, userID int, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestCheckUserToken(t *testing.T) {
	svc := NewTokenService("test-secret")

	t.Run("accepts valid token", func(t *testing.T) {
		userID, err := svc.CheckUserToken(signUserToken(t, "test-secret", 42, time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 42, userID)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		_, err := svc.CheckUserToken(signUserToken(t, "test-secret", 42, -time.Hour))
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		_, err := svc.CheckUserToken(signUserToken(t, "other-secret", 42, time.Hour))
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := svc.CheckUserToken("not.a.token")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("rejects token without user_id claim", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = svc.CheckUserToken(signed)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("rejects unsigned token", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": 42})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.CheckUserToken(signed)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

func TestAITokenRoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret")

	t.Run("issued token resolves to its node", func(t *testing.T) {
		signed, err := svc.MakeAIToken(7, time.Minute)
		require.NoError(t, err)

		nodeID, err := svc.CheckAIToken(signed)
		require.NoError(t, err)
		assert.Equal(t, 7, nodeID)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		signed, err := svc.MakeAIToken(7, -time.Minute)
		require.NoError(t, err)

		_, err = svc.CheckAIToken(signed)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("user token is not an AI token", func(t *testing.T) {
		_, err := svc.CheckAIToken(signUserToken(t, "test-secret", 42, time.Hour))
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}
