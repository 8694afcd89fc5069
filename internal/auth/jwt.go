// Package auth guards the operator endpoints (force trigger, self-test)
// with HS256 bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

// RoleOperator is the only role accepted on operator endpoints.
const RoleOperator = "operator"

// Claims are the operator token claims.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ParseOperatorToken validates tokenString and requires the operator role.
// Every failure wraps model.ErrAuthentication.
func ParseOperatorToken(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", model.ErrAuthentication)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: operator secret not configured", model.ErrAuthentication)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAuthentication, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", model.ErrAuthentication)
	}
	if claims.Role != RoleOperator {
		return nil, fmt.Errorf("%w: role %q is not allowed", model.ErrAuthentication, claims.Role)
	}
	return claims, nil
}

// IssueOperatorToken signs an operator token for subject valid for ttl.
func IssueOperatorToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: operator secret is empty", model.ErrConfiguration)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := Claims{
		Role: RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
