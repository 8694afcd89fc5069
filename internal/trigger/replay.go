package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

// Restore derives the phase from the activity log. It must run once before
// any other operation. An empty log (or one without any check-in) is armed
// with a bootstrap check-in so a restart never restarts the clock.
//
// A log whose timestamps decrease or that contains an unknown record type
// is corrupt: Restore returns model.ErrStateCorruption and the machine
// refuses every later operation.
//
// A release that reached RELEASE_FINISHED is never dispatched again. One
// that was interrupted (TRIGGER_FIRED with no RELEASE_FINISHED) is kept as
// pending, and the next Reevaluate sends only the pairs that have no
// outcome in the log.
func (m *Machine) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		phase        = PhaseActive
		enteredAt    time.Time
		lastActivity time.Time
		prev         time.Time
		n            int
		interrupted  *releasePlan
	)
	err := m.deps.Store.Replay(ctx, func(rec model.ActivityRecord) error {
		n++
		if !rec.Type.Valid() {
			return fmt.Errorf("%w: record %d has unknown type %q", model.ErrStateCorruption, rec.ID, rec.Type)
		}
		if rec.Timestamp.Before(prev) {
			return fmt.Errorf("%w: record %d at %s precedes %s", model.ErrStateCorruption, rec.ID,
				rec.Timestamp.Format(time.RFC3339Nano), prev.Format(time.RFC3339Nano))
		}
		prev = rec.Timestamp
		if phase == PhaseDisabled {
			return nil
		}
		switch rec.Type {
		case model.ActivityCheckIn:
			phase, enteredAt, lastActivity = PhaseActive, rec.Timestamp, rec.Timestamp
			interrupted = nil
		case model.ActivityTriggerFired:
			phase, enteredAt = PhaseTriggered, rec.Timestamp
			interrupted = nil
			// logs written before release IDs were recorded cannot be resumed
			if id := noteField(rec.Note, "release"); id != "" {
				interrupted = &releasePlan{
					id:           id,
					reason:       noteField(rec.Note, "reason"),
					firedAt:      rec.Timestamp,
					lastActivity: lastActivity,
					done:         make(map[string]bool),
				}
			}
		case model.ActivityReleaseDelivered, model.ActivityReleaseFailed:
			if interrupted == nil || noteField(rec.Note, "release") != interrupted.id {
				return nil
			}
			r, d := noteField(rec.Note, "recipient"), noteField(rec.Note, "document")
			if r != "" && d != "" {
				interrupted.done[pairKey(r, d)] = true
			}
		case model.ActivityReleaseFinished:
			if interrupted != nil && noteField(rec.Note, "release") == interrupted.id {
				interrupted = nil
			}
		case model.ActivityKillSwitch:
			phase, enteredAt = PhaseDisabled, rec.Timestamp
			interrupted = nil
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrStateCorruption) {
			m.corrupt = err
			m.log.Error().Err(err).Msg("activity log is corrupt; switch halted")
		}
		return err
	}

	if phase == PhaseActive && lastActivity.IsZero() {
		rec, err := m.deps.Store.Append(ctx, model.ActivityRecord{
			Timestamp: m.clock.Now(),
			Type:      model.ActivityCheckIn,
			Origin:    "bootstrap",
			Note:      "switch armed",
		})
		if err != nil {
			return fmt.Errorf("arm switch: %w", err)
		}
		enteredAt, lastActivity = rec.Timestamp, rec.Timestamp
	}

	now := m.clock.Now()
	m.phase = phase
	m.phaseEnteredAt = rebase(now, enteredAt)
	m.lastActivity = rebase(now, lastActivity)
	m.pending = nil
	if phase == PhaseTriggered && interrupted != nil {
		interrupted.firedAt = rebase(now, interrupted.firedAt)
		interrupted.lastActivity = rebase(now, interrupted.lastActivity)
		m.pending = interrupted
		m.log.Warn().Str("release_id", interrupted.id).Int("pairs_done", len(interrupted.done)).
			Msg("release was interrupted; it resumes on the next evaluation")
	}
	m.aborted.Store(phase == PhaseDisabled)
	m.restored = true
	m.log.Info().Str("phase", string(phase)).Time("last_activity", lastActivity).Int("records", n).
		Msg("switch state restored")
	return nil
}
