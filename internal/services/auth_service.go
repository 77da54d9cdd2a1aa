// Path: internal/services/auth_service.go
package services

import (
	"errors"
	"strings"
	"time"

	"bank-sca/internal/models"

	"github.com/golang-jwt/jwt/v4"
)

// AuthService verifies identity tokens. The engine trusts the user id in a
// valid token as-is.
type AuthService interface {
	ValidateToken(token string) (*models.Claims, error)
	IssueToken(userID string, ttl time.Duration) (string, error)
}

const tokenIssuer = "bank-sca"

type authService struct {
	jwtKey string
}

// NewAuthService creates a new AuthService.
func NewAuthService(jwtSecret string) AuthService {
	return &authService{jwtKey: jwtSecret}
}

// IssueToken signs a token for userID. It is used by development tooling;
// production tokens come from the identity provider sharing JWT_SECRET.
func (s *authService) IssueToken(userID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", newError(ErrUnauthorized, "User id is required", nil)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	now := time.Now()
	claims := &models.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtKey))
	if err != nil {
		return "", internalError("failed to sign token", err)
	}
	return tokenString, nil
}

// ValidateToken validates a JWT and returns the claims.
func (s *authService) ValidateToken(tokenString string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.jwtKey), nil
	})

	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok {
			if ve.Errors&jwt.ValidationErrorMalformed != 0 {
				return nil, newError(ErrUnauthorized, "Malformed token", nil)
			} else if ve.Errors&(jwt.ValidationErrorExpired|jwt.ValidationErrorNotValidYet) != 0 {
				return nil, newError(ErrUnauthorized, "Token expired or not yet valid", nil)
			}
		}
		return nil, newError(ErrUnauthorized, "Token verification failed", err)
	}

	if !token.Valid || claims.UserID == "" {
		return nil, newError(ErrUnauthorized, "Token is not valid", nil)
	}

	return claims, nil
}
