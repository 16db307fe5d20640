package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	s := NewJWTService("secret", 2)
	id := uuid.New()
	tok, err := s.Generate(id, "a@example.com", "admin")
	require.NoError(t, err)

	claims, err := s.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestJWTRejects(t *testing.T) {
	s := NewJWTService("secret", 1)
	tok, err := s.Generate(uuid.New(), "a@example.com", "member")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewJWTService("other", 1).Validate(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		late := NewJWTService("secret", 1)
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := late.Validate(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		claims := Claims{
			UserID: uuid.New(),
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = s.Validate(foreign)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.Validate("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestJWTDefaultTTL(t *testing.T) {
	s := NewJWTService("secret", 0)
	assert.Equal(t, 24*time.Hour, s.ttl)
}
