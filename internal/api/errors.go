package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/rajchinnag/Death-Switch/internal/api/respond"
	"github.com/rajchinnag/Death-Switch/internal/model"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrDisabled),
		errors.Is(err, model.ErrAlreadyTriggered),
		errors.Is(err, model.ErrReleaseInFlight):
		return http.StatusConflict
	case errors.Is(err, model.ErrStateCorruption):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeErr logs server-side failures and replies with the mapped status.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Stack().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	respond.WriteError(w, code, err.Error())
}
