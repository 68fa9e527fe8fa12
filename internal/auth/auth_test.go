package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareTokenManager(t *testing.T) {
	m := NewShareTokenManager("test-secret", time.Hour)

	token, err := m.Generate("bill-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "bill-1", claims.BillID)
	assert.Equal(t, "bill-1", claims.Subject)

	t.Run("empty bill ID", func(t *testing.T) {
		_, err := m.Generate("")
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewShareTokenManager("other-secret", time.Hour)
		_, err := other.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Validate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		expired := NewShareTokenManager("test-secret", time.Hour)
		expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		old, err := expired.Generate("bill-1")
		require.NoError(t, err)

		_, err = m.Validate(old)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		claims := &ShareClaims{
			BillID: "bill-1",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = m.Validate(forged)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		claims := &ShareClaims{
			BillID:           "bill-1",
			RegisteredClaims: jwt.RegisteredClaims{Issuer: shareTokenIssuer},
		}
		none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = m.Validate(none)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestOrganizerKey(t *testing.T) {
	key, hash, err := NewOrganizerKey()
	require.NoError(t, err)
	assert.Len(t, key, 24)
	assert.NotEqual(t, key, hash)

	assert.NoError(t, VerifyOrganizerKey(hash, key))
	assert.ErrorIs(t, VerifyOrganizerKey(hash, "wrong"), ErrInvalidOrganizerKey)
	assert.ErrorIs(t, VerifyOrganizerKey(hash, ""), ErrInvalidOrganizerKey)
	assert.ErrorIs(t, VerifyOrganizerKey("", key), ErrInvalidOrganizerKey)

	other, _, err := NewOrganizerKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}
