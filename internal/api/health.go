package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rajchinnag/Death-Switch/internal/api/respond"
	"github.com/rajchinnag/Death-Switch/internal/factory"
	"github.com/rajchinnag/Death-Switch/internal/model"
)

// GET /health
// Always 200; the body reports healthy or unhealthy.
func (s *server) health(w http.ResponseWriter, r *http.Request) {
	rep := s.Health.Report()
	status := "unhealthy"
	if rep.Healthy {
		status = "healthy"
	}
	body := map[string]any{
		"status":      status,
		"components":  rep.Components,
		"environment": s.Environment,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	if !rep.Since.IsZero() {
		body["since"] = rep.Since.Format(time.RFC3339)
	}
	if len(rep.Down) > 0 {
		body["down"] = rep.Down
	}
	respond.WriteJSON(w, http.StatusOK, body)
}

type selfTestReport struct {
	Channels             []string               `json:"channels"`
	ChannelIssues        []factory.ChannelIssue `json:"channelIssues"`
	KillSwitchConfigured bool                   `json:"killSwitchConfigured"`
	RecipientsConfigured bool                   `json:"recipientsConfigured"`
	DocumentsAvailable   bool                   `json:"documentsAvailable"`
	BrokenDocuments      []string               `json:"brokenDocuments"`
	DatabaseAccessible   bool                   `json:"databaseAccessible"`
	Phase                string                 `json:"phase"`
	Ready                bool                   `json:"ready"`
}

// POST /test-system (operator)
// Checks configuration without sending anything and records SYSTEM_TEST.
func (s *server) testSystem(w http.ResponseWriter, r *http.Request) {
	rep := s.selfTest(r.Context())
	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      respond.StatusSuccess,
		"testResults": rep,
		"message":     "System test completed",
	})
}

func (s *server) selfTest(ctx context.Context) selfTestReport {
	rep := selfTestReport{
		Channels:             s.Channels,
		ChannelIssues:        s.ChannelIssues,
		KillSwitchConfigured: s.KillSwitchConfigured,
		BrokenDocuments:      []string{},
		Phase:                string(s.Switch.Status().Phase),
	}
	if rep.Channels == nil {
		rep.Channels = []string{}
	}
	if rep.ChannelIssues == nil {
		rep.ChannelIssues = []factory.ChannelIssue{}
	}
	if recs, err := s.Registry.Recipients(ctx); err == nil {
		rep.RecipientsConfigured = len(recs) > 0
	}
	if docs, err := s.Registry.Documents(ctx); err == nil {
		rep.DocumentsAvailable = len(docs) > 0
		for _, d := range docs {
			if err := s.Registry.Verify(ctx, d); err != nil {
				rep.BrokenDocuments = append(rep.BrokenDocuments, d.StoredName)
			}
		}
	}
	_, err := s.Store.Append(ctx, model.ActivityRecord{
		Timestamp: time.Now(),
		Type:      model.ActivitySystemTest,
		Origin:    "operator",
		Note:      "system self-test",
	})
	rep.DatabaseAccessible = err == nil
	rep.Ready = rep.DatabaseAccessible && len(rep.Channels) > 0 && rep.RecipientsConfigured &&
		rep.DocumentsAvailable && len(rep.BrokenDocuments) == 0
	return rep
}
