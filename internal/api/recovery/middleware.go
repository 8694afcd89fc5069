// Package recovery keeps a panicking handler from taking the switch down.
package recovery

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/hlog"

	"github.com/rajchinnag/Death-Switch/internal/api/respond"
)

// Middleware turns a handler panic into a 500 and logs the stack on the
// request logger, so the entry carries the request ID. http.ErrAbortHandler
// is re-raised for net/http to handle.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			hlog.FromRequest(r).Error().
				Interface("panic", rec).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			respond.WriteInternalError(w, "internal error")
		}()
		next.ServeHTTP(w, r)
	})
}
