package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/rajchinnag/Death-Switch/internal/api/respond"
	"github.com/rajchinnag/Death-Switch/internal/auth"
	"github.com/rajchinnag/Death-Switch/internal/model"
	"github.com/rajchinnag/Death-Switch/internal/monitor"
	"github.com/rajchinnag/Death-Switch/internal/trigger"
)

const maxActivityLimit = 500

type statusResponse struct {
	trigger.Status
	TimeRemainingHuman string         `json:"timeRemainingHuman,omitempty"`
	RecipientsCount    int            `json:"recipientsCount"`
	DocumentsCount     int            `json:"documentsCount"`
	Monitor            monitor.Health `json:"monitor"`
	Channels           []string       `json:"channels"`
}

// GET /status
func (s *server) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statusResponse{Status: s.Switch.Status(), Monitor: s.Monitor.Health(), Channels: s.Channels}
	if resp.NextDeadline != nil {
		resp.TimeRemainingHuman = resp.TimeRemaining.Round(time.Second).String()
	}
	recipients, err := s.Registry.Recipients(ctx)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	docs, err := s.Registry.Documents(ctx)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	resp.RecipientsCount = len(recipients)
	resp.DocumentsCount = len(docs)
	respond.WriteJSON(w, http.StatusOK, resp)
}

// POST /record-activity
func (s *server) recordActivity(w http.ResponseWriter, r *http.Request) {
	ua := r.UserAgent()
	if ua == "" {
		ua = "unknown"
	}
	at, err := s.Switch.CheckIn(r.Context(), r.RemoteAddr, "check-in from "+ua)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     respond.StatusSuccess,
		"message":    "Activity recorded; inactivity timer reset",
		"recordedAt": at,
	})
}

type killSwitchRequest struct {
	Code string `json:"code"`
}

// POST /kill-switch
func (s *server) killSwitch(w http.ResponseWriter, r *http.Request) {
	var req killSwitchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil || req.Code == "" {
		respond.WriteBadRequest(w, "kill switch code required")
		return
	}
	out, err := s.Switch.KillSwitch(r.Context(), req.Code, r.RemoteAddr)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	switch out {
	case trigger.OutcomeActivated:
		respond.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  respond.StatusSuccess,
			"message": "Kill switch activated; system disabled",
		})
	case trigger.OutcomeNotConfigured:
		respond.WriteBadRequest(w, "kill switch not configured")
	case trigger.OutcomeThrottled:
		w.Header().Set("Retry-After", "60")
		respond.WriteTooManyRequests(w, "too many kill switch attempts; try again later")
	default:
		respond.WriteUnauthorized(w, "invalid kill switch code")
	}
}

type triggerRequest struct {
	Reason string `json:"reason"`
}

// POST /trigger-now (operator)
func (s *server) triggerNow(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
			respond.WriteBadRequest(w, "invalid JSON body")
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual trigger by " + auth.SubjectFromContext(r.Context())
	}
	hlog.FromRequest(r).Warn().Str("operator", auth.SubjectFromContext(r.Context())).Msg("manual trigger requested")
	sum, err := s.Switch.ForceTrigger(r.Context(), reason)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"status": "triggered", "release": sum})
}

// POST /start-trigger
func (s *server) startTrigger(w http.ResponseWriter, r *http.Request) {
	if h := s.Monitor.Health(); h.Halted {
		respond.WriteUnavailable(w, "monitoring halted: "+h.LastError)
		return
	}
	if !s.Monitor.Launch(s.BaseContext) {
		respond.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "already_running",
			"message": "Monitoring loop is already running",
		})
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  respond.StatusSuccess,
		"message": "Monitoring loop started",
	})
}

// GET /activity-log?limit=N
func (s *server) activityLog(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respond.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxActivityLimit)
	}
	recs, err := s.Store.Recent(r.Context(), limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.ActivityRecord{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"activities": recs})
}
