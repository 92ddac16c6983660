// Package auth verifies operator bearer tokens and exposes the operator identity to handlers.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// contextKey is where echo-jwt stores the parsed token.
const contextKey = "user"

// Claims are the operator token claims. Subject is the operator id.
type Claims struct {
	OrganizationID string `json:"org"`
	jwt.RegisteredClaims
}

// Operator is the authenticated caller of the operator API.
type Operator struct {
	ID             string
	OrganizationID string
}

// JWTMiddleware validates HS256 bearer tokens. Requests for which skipper returns true pass through.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		ContextKey:    contextKey,
		Skipper:       skipper,
		NewClaimsFunc: func(echo.Context) jwt.Claims {
			return new(Claims)
		},
	})
}

// GenerateToken signs a token for operatorID in organizationID valid for ttl.
func GenerateToken(operatorID, organizationID, secret string, ttl time.Duration) (string, time.Time, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return "", time.Time{}, errors.New("operator id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, errors.New("jwt secret is required")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		OrganizationID: strings.TrimSpace(organizationID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// OperatorFromContext returns the operator carried by the validated token.
func OperatorFromContext(c echo.Context) (Operator, error) {
	token, ok := c.Get(contextKey).(*jwt.Token)
	if !ok || token == nil {
		return Operator{}, echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return Operator{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Operator{}, echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
	}
	return Operator{ID: subject, OrganizationID: strings.TrimSpace(claims.OrganizationID)}, nil
}
