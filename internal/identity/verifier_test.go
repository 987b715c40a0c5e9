package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() Claims {
	now := time.Now()
	return Claims{
		Email: "member@example.org",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "8d0f2c1e-0000-4000-8000-000000000001",
			Audience:  jwt.ClaimStrings{DefaultAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestVerify_ValidToken(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())

	claims, err := NewVerifier(testSecret).Verify(token)

	require.NoError(t, err)
	assert.Equal(t, "8d0f2c1e-0000-4000-8000-000000000001", claims.Subject)
	assert.Equal(t, "member@example.org", claims.Email)
}

func TestVerify_Rejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongAud := validClaims()
	wrongAud.Audience = jwt.ClaimStrings{"anon"}

	noSubject := validClaims()
	noSubject.Subject = ""

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, jwt.SigningMethodHS256, []byte("another-secret"), validClaims())},
		{"expired", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired)},
		{"wrong audience", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), wrongAud)},
		{"missing subject", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noSubject)},
		{"missing expiry", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry)},
		{"other hmac method", signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims())},
		{"garbage", "not.a.jwt"},
	}

	v := NewVerifier(testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}
