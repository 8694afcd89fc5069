package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rajchinnag/Death-Switch/internal/api/respond"
)

type contextKey string

const contextKeySubject contextKey = "auth.subject"

// ExtractBearer returns the token from an "Authorization: Bearer <token>"
// header.
func ExtractBearer(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", errors.New("missing Authorization header")
	}
	parts := strings.Fields(h)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid Authorization header format, expected 'Bearer <token>'")
	}
	return parts[1], nil
}

// SubjectFromContext returns the operator subject stored by RequireOperator.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(contextKeySubject).(string)
	return s
}

// RequireOperator rejects requests without a valid operator token. With an
// empty secret every request is rejected: operator endpoints stay closed
// until a secret is configured.
func RequireOperator(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				respond.WriteForbidden(w, "operator endpoints are disabled")
				return
			}
			raw, err := ExtractBearer(r)
			if err != nil {
				respond.WriteUnauthorized(w, err.Error())
				return
			}
			claims, err := ParseOperatorToken(raw, secret)
			if err != nil {
				log.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Err(err).Msg("operator token rejected")
				respond.WriteUnauthorized(w, "invalid operator token")
				return
			}
			ctx := context.WithValue(r.Context(), contextKeySubject, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
