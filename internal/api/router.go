// Package api exposes the switch over HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/rajchinnag/Death-Switch/internal/activity"
	"github.com/rajchinnag/Death-Switch/internal/api/recovery"
	"github.com/rajchinnag/Death-Switch/internal/auth"
	"github.com/rajchinnag/Death-Switch/internal/factory"
	"github.com/rajchinnag/Death-Switch/internal/health"
	"github.com/rajchinnag/Death-Switch/internal/model"
	"github.com/rajchinnag/Death-Switch/internal/monitor"
	"github.com/rajchinnag/Death-Switch/internal/trigger"
)

// Switch is the state machine surface used by the handlers.
type Switch interface {
	CheckIn(ctx context.Context, origin, note string) (time.Time, error)
	KillSwitch(ctx context.Context, candidate, origin string) (trigger.Outcome, error)
	ForceTrigger(ctx context.Context, reason string) (trigger.ReleaseSummary, error)
	Status() trigger.Status
}

// Monitor is the monitoring loop surface used by the handlers.
type Monitor interface {
	Launch(ctx context.Context) bool
	Health() monitor.Health
}

// Registry stores recipients and documents.
type Registry interface {
	AddRecipient(ctx context.Context, rec model.Recipient) (model.Recipient, error)
	Recipients(ctx context.Context) ([]model.Recipient, error)
	SaveDocument(ctx context.Context, filename, description string, src io.Reader) (model.Document, error)
	Documents(ctx context.Context) ([]model.Document, error)
	OpenDocument(ctx context.Context, storedName string) (*os.File, model.Document, error)
	Verify(ctx context.Context, doc model.Document) error
}

// ServiceHealth reports aggregated dependency health.
type ServiceHealth interface {
	IsHealthy() bool
	Report() health.Report
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Switch   Switch
	Monitor  Monitor
	Registry Registry
	Store    activity.Store
	Health   ServiceHealth

	// BaseContext outlives requests; the monitoring loop started by
	// /start-trigger runs under it.
	BaseContext context.Context

	OperatorSecret       []byte
	KillSwitchConfigured bool
	Channels             []string
	ChannelIssues        []factory.ChannelIssue
	MaxUpload            int64
	Environment          string
	Log                  zerolog.Logger
}

type server struct {
	Deps
}

// NewRouter wires every route.
func NewRouter(d Deps) *mux.Router {
	if d.BaseContext == nil {
		d.BaseContext = context.Background()
	}
	s := &server{Deps: d}

	router := mux.NewRouter()
	router.Use(hlog.NewHandler(d.Log))
	router.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	router.Use(recovery.Middleware)
	router.Use(hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(r).Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", status).Int("size", size).Dur("duration", dur).Msg("request")
	}))

	operator := auth.RequireOperator(d.OperatorSecret)

	router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	router.HandleFunc("/status", s.status).Methods(http.MethodGet)
	router.HandleFunc("/record-activity", s.recordActivity).Methods(http.MethodPost)
	router.HandleFunc("/kill-switch", s.killSwitch).Methods(http.MethodPost)
	router.Handle("/trigger-now", operator(http.HandlerFunc(s.triggerNow))).Methods(http.MethodPost)
	router.HandleFunc("/start-trigger", s.startTrigger).Methods(http.MethodPost)
	router.Handle("/test-system", operator(http.HandlerFunc(s.testSystem))).Methods(http.MethodPost)
	router.HandleFunc("/activity-log", s.activityLog).Methods(http.MethodGet)

	router.HandleFunc("/add-recipient", s.addRecipient).Methods(http.MethodPost)
	router.HandleFunc("/recipients", s.listRecipients).Methods(http.MethodGet)
	router.HandleFunc("/upload-document", s.uploadDocument).Methods(http.MethodPost)
	router.HandleFunc("/documents", s.listDocuments).Methods(http.MethodGet)
	router.HandleFunc("/documents/{filename}", s.serveDocument).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return router
}
