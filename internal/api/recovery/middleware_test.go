package recovery

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajchinnag/Death-Switch/internal/api/respond"
)

func TestMiddleware_PanicBecomes500(t *testing.T) {
	var logs bytes.Buffer
	h := hlog.NewHandler(zerolog.New(&logs))(Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("release table exploded")
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/kill-switch", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	var body respond.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, respond.StatusError, body.Status)
	assert.Equal(t, http.StatusInternalServerError, body.Code)
	assert.Contains(t, logs.String(), "release table exploded")
	assert.Contains(t, logs.String(), "/kill-switch")
}

func TestMiddleware_PassesThrough(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestMiddleware_ReraisesAbort(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/documents/x", nil))
	})
}
