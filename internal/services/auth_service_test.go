package services

import (
	"testing"
	"time"

	"bank-sca/internal/models"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_IssueAndValidate(t *testing.T) {
	svc := NewAuthService("jwt-secret")

	token, err := svc.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, tokenIssuer, claims.Issuer)
}

func TestAuthService_Rejects(t *testing.T) {
	svc := NewAuthService("jwt-secret")

	other, err := NewAuthService("other-secret").IssueToken("alice", time.Hour)
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.Claims{
		UserID: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expiredToken, err := expired.SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	noUser := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	noUserToken, err := noUser.SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &models.Claims{UserID: "alice"})
	noneToken, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"malformed":      "not-a-token",
		"wrong key":      other,
		"expired":        expiredToken,
		"missing user":   noUserToken,
		"unsigned token": noneToken,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestAuthService_IssueRequiresUser(t *testing.T) {
	_, err := NewAuthService("k").IssueToken(" ", time.Hour)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
