package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rajchinnag/Death-Switch/internal/metrics"
	"github.com/rajchinnag/Death-Switch/internal/model"
	"github.com/rajchinnag/Death-Switch/internal/notify"
)

type releasePlan struct {
	id           string
	reason       string
	firedAt      time.Time
	lastActivity time.Time
	// done holds pairs that already have an outcome in the log, keyed by
	// pairKey. Only set when resuming.
	done map[string]bool
}

func pairKey(recipient, document string) string { return recipient + "\x00" + document }

// PairResult is the delivery outcome for one recipient and one document.
type PairResult struct {
	Recipient string        `json:"recipient"`
	Document  string        `json:"document"`
	Channel   string        `json:"channel,omitempty"`
	Success   bool          `json:"success"`
	Skipped   bool          `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
	Result    notify.Result `json:"result"`
}

// ReleaseSummary describes one release.
type ReleaseSummary struct {
	ReleaseID  string       `json:"releaseId"`
	Reason     string       `json:"reason"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Total      int          `json:"total"`
	Delivered  int          `json:"delivered"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Error      string       `json:"error,omitempty"`
	Pairs      []PairResult `json:"pairs"`
}

// release sends every document to every recipient. It is best-effort: a
// failed pair never stops the others. Pairs not yet started when the kill
// switch fires are skipped. The caller's cancellation does not cut a release
// short; only the kill switch does.
func (m *Machine) release(ctx context.Context, plan releasePlan) (summary ReleaseSummary) {
	ctx = context.WithoutCancel(ctx)
	summary = ReleaseSummary{ReleaseID: plan.id, Reason: plan.reason, StartedAt: m.clock.Now()}
	log := m.log.With().Str("release_id", plan.id).Logger()

	defer func() {
		summary.FinishedAt = m.clock.Now()
		m.record(ctx, model.ActivityReleaseFinished, fmt.Sprintf("release=%s delivered=%d failed=%d skipped=%d",
			plan.id, summary.Delivered, summary.Failed, summary.Skipped))
		m.mu.Lock()
		m.releasing = false
		s := summary
		m.lastRelease = &s
		m.mu.Unlock()
		m.inflight.Done()
		log.Info().Int("total", summary.Total).Int("delivered", summary.Delivered).
			Int("failed", summary.Failed).Int("skipped", summary.Skipped).Msg("release finished")
	}()

	recipients, err := m.deps.Directory.Recipients(ctx)
	if err == nil {
		var docs []model.Document
		docs, err = m.deps.Directory.Documents(ctx)
		if err == nil {
			m.fanOut(ctx, plan, recipients, docs, &summary)
			return summary
		}
	}
	summary.Error = err.Error()
	log.Error().Stack().Err(err).Msg("release aborted: cannot list recipients or documents")
	m.record(ctx, model.ActivityReleaseFailed, fmt.Sprintf("release=%s error=%s", plan.id, err))
	return summary
}

func (m *Machine) fanOut(ctx context.Context, plan releasePlan, recipients []model.Recipient, docs []model.Document, summary *ReleaseSummary) {
	type pair struct {
		r model.Recipient
		d model.Document
	}
	todo := make([]pair, 0, len(recipients)*len(docs))
	for _, r := range recipients {
		for _, d := range docs {
			if !plan.done[pairKey(r.Email, d.StoredName)] {
				todo = append(todo, pair{r, d})
			}
		}
	}
	summary.Total = len(todo)
	if summary.Total == 0 {
		m.log.Warn().Str("release_id", plan.id).Int("recipients", len(recipients)).Int("documents", len(docs)).
			Msg("nothing to release")
		return
	}

	// a document that vanished or changed since upload is failed for every
	// recipient without contacting any channel
	broken := make(map[string]error, len(docs))
	for _, d := range docs {
		if err := m.deps.Directory.Verify(ctx, d); err != nil {
			broken[d.StoredName] = err
		}
	}

	var (
		mu    sync.Mutex
		g     errgroup.Group
		pairs = make([]PairResult, 0, summary.Total)
	)
	collect := func(p PairResult) {
		mu.Lock()
		defer mu.Unlock()
		pairs = append(pairs, p)
		switch {
		case p.Skipped:
			summary.Skipped++
			metrics.ReleasePairs.WithLabelValues("skipped").Inc()
		case p.Success:
			summary.Delivered++
			metrics.ReleasePairs.WithLabelValues("delivered").Inc()
		default:
			summary.Failed++
			metrics.ReleasePairs.WithLabelValues("failed").Inc()
		}
	}
	g.SetLimit(m.cfg.Concurrency)

	for _, p := range todo {
		r, d := p.r, p.d
		base := PairResult{Recipient: r.Email, Document: d.StoredName}
		if m.aborted.Load() {
			base.Skipped = true
			collect(base)
			continue
		}
		if err := broken[d.StoredName]; err != nil {
			base.Error = err.Error()
			m.record(ctx, model.ActivityReleaseFailed, pairNote(plan.id, base))
			collect(base)
			continue
		}
		g.Go(func() error {
			collect(m.sendPair(ctx, plan, r, d, base))
			return nil
		})
	}
	_ = g.Wait()
	summary.Pairs = pairs
}

func (m *Machine) sendPair(ctx context.Context, plan releasePlan, r model.Recipient, d model.Document, p PairResult) PairResult {
	// re-check: the kill switch may have fired while this pair was queued
	if m.aborted.Load() {
		p.Skipped = true
		return p
	}
	subject, body, err := m.deps.Templates.Render(r.PreferredLanguage, notify.TemplateData{
		OwnerName:     m.cfg.OwnerName,
		RecipientName: r.Name,
		DocumentName:  d.Name,
		Description:   d.Description,
		DocumentURL:   d.URL,
		ReleaseID:     plan.id,
		LastCheckIn:   notify.FormatTime(plan.lastActivity),
		ReleasedAt:    notify.FormatTime(plan.firedAt),
	})
	if err != nil {
		p.Error = fmt.Sprintf("render message: %v", err)
		m.record(ctx, model.ActivityReleaseFailed, pairNote(plan.id, p))
		return p
	}

	res := m.deps.Sender.SendToRecipient(ctx, r, notify.Message{
		ReleaseID: plan.id,
		Subject:   subject,
		Body:      body,
		Attachment: &notify.Attachment{
			Name:   d.Name,
			Path:   d.Path,
			URL:    d.URL,
			Size:   d.Size,
			Digest: d.Digest,
		},
	})
	p.Result = res
	p.Success = res.Success
	p.Channel = res.Channel
	typ := model.ActivityReleaseDelivered
	if !res.Success {
		typ = model.ActivityReleaseFailed
		p.Error = "all channels failed"
	}
	m.record(ctx, typ, pairNote(plan.id, p))
	return p
}

// record appends a release outcome. A failure here is logged, never
// propagated: the send already happened.
func (m *Machine) record(ctx context.Context, typ model.ActivityType, note string) {
	if _, err := m.deps.Store.Append(ctx, model.ActivityRecord{
		Timestamp: m.clock.Now(),
		Type:      typ,
		Origin:    "system",
		Note:      note,
	}); err != nil {
		m.log.Error().Stack().Err(err).Str("type", string(typ)).Msg("failed to record release outcome")
	}
}

func pairNote(releaseID string, p PairResult) string {
	note := fmt.Sprintf("release=%s recipient=%s document=%s", releaseID, p.Recipient, p.Document)
	if p.Channel != "" {
		note += " channel=" + p.Channel
	}
	if p.Error != "" {
		note += " error=" + p.Error
	}
	return note
}

// noteField extracts key's value from a note written by pairNote or
// fireLocked. Values run to the next known key, so document names may
// contain spaces.
func noteField(note, key string) string {
	for off := 0; ; {
		j := strings.Index(note[off:], key+"=")
		if j < 0 {
			return ""
		}
		i := off + j
		if i > 0 && note[i-1] != ' ' {
			off = i + 1
			continue
		}
		v := note[i+len(key)+1:]
		end := len(v)
		for _, next := range noteKeys {
			if k := strings.Index(v, " "+next+"="); k >= 0 && k < end {
				end = k
			}
		}
		return v[:end]
	}
}

var noteKeys = []string{"release", "reason", "recipient", "document", "channel", "error", "delivered"}
