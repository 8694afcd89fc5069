package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

func TestRestore_EmptyLogArmsSwitch(t *testing.T) {
	h := newHarness(t, 1, 1)
	h.restore(t)

	last, err := h.store.Last(context.Background(), model.ActivityCheckIn)
	require.NoError(t, err)
	assert.Equal(t, "bootstrap", last.Origin)
	st := h.m.Status()
	assert.Equal(t, PhaseActive, st.Phase)
	assert.Equal(t, t0, st.LastActivity)
}

func TestRestore_ClockKeepsRunningAcrossRestart(t *testing.T) {
	h := newHarness(t, 1, 1)
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-90 * time.Minute), Type: model.ActivityCheckIn})
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-80 * time.Minute), Type: model.ActivityKillSwitchFailed})
	h.restore(t)

	st := h.m.Status()
	assert.Equal(t, PhaseActive, st.Phase)
	assert.Equal(t, t0.Add(-90*time.Minute), st.LastActivity)
	assert.Equal(t, 1, h.count(t, model.ActivityCheckIn), "no bootstrap when a check-in exists")

	// 30 minutes after restart the inactivity window is reached
	assert.Equal(t, PhaseVerifying, h.tick(t, 0.5))
}

func TestRestore_DowntimeCoveringBothWindowsTriggers(t *testing.T) {
	h := newHarness(t, 2, 1)
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-5 * time.Hour), Type: model.ActivityCheckIn})
	h.restore(t)

	assert.Equal(t, PhaseTriggered, h.tick(t, 0))
	assert.Equal(t, 2, h.sender.count())
}

func TestRestore_TriggeredIsNotReleasedAgain(t *testing.T) {
	h := newHarness(t, 1, 1)
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-5 * time.Hour), Type: model.ActivityCheckIn})
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-2 * time.Hour), Type: model.ActivityTriggerFired})
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-2 * time.Hour), Type: model.ActivityReleaseDelivered})
	h.restore(t)

	assert.Equal(t, PhaseTriggered, h.tick(t, 1))
	assert.Equal(t, 0, h.sender.count())
}

func TestRestore_FinishedReleaseIsNotResent(t *testing.T) {
	h := newHarness(t, 2, 1)
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-5 * time.Hour), Type: model.ActivityCheckIn})
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-2 * time.Hour), Type: model.ActivityTriggerFired,
		Note: "release=r-1 reason=verification window elapsed"})
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-2 * time.Hour), Type: model.ActivityReleaseFinished,
		Note: "release=r-1 delivered=0 failed=0 skipped=0"})
	h.restore(t)

	assert.Empty(t, h.m.Status().PendingRelease)
	assert.Equal(t, PhaseTriggered, h.tick(t, 1))
	assert.Equal(t, 0, h.sender.count())
}

func TestRestore_InterruptedReleaseResumes(t *testing.T) {
	h := newHarness(t, 2, 2)
	rs, docs := h.dir.recipients, h.dir.docs
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-5 * time.Hour), Type: model.ActivityCheckIn})
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-2 * time.Hour), Type: model.ActivityTriggerFired,
		Note: "release=r-1 reason=verification window elapsed"})
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-2 * time.Hour), Type: model.ActivityReleaseDelivered,
		Note: pairNote("r-1", PairResult{Recipient: rs[0].Email, Document: docs[0].StoredName, Channel: "email"})})
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-2 * time.Hour), Type: model.ActivityReleaseFailed,
		Note: pairNote("r-1", PairResult{Recipient: rs[1].Email, Document: docs[0].StoredName, Error: "all channels failed"})})
	// an outcome from another release does not count
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-2 * time.Hour), Type: model.ActivityReleaseDelivered,
		Note: pairNote("r-0", PairResult{Recipient: rs[0].Email, Document: docs[1].StoredName})})
	h.restore(t)

	st := h.m.Status()
	assert.Equal(t, PhaseTriggered, st.Phase)
	assert.Equal(t, "r-1", st.PendingRelease)
	assert.Equal(t, 0, h.sender.count(), "restore itself never sends")

	assert.Equal(t, PhaseTriggered, h.tick(t, 0))
	assert.ElementsMatch(t, []string{rs[0].Email + "|" + docs[1].Name, rs[1].Email + "|" + docs[1].Name}, h.sender.calls)
	st = h.m.Status()
	assert.Empty(t, st.PendingRelease)
	require.NotNil(t, st.LastRelease)
	assert.Equal(t, "r-1", st.LastRelease.ReleaseID)
	assert.Equal(t, 2, st.LastRelease.Total)
	assert.Equal(t, 1, h.count(t, model.ActivityReleaseFinished))

	// finished now, for this process and the next
	h.tick(t, 1)
	assert.Equal(t, 2, h.sender.count())
	h.restore(t)
	assert.Empty(t, h.m.Status().PendingRelease)
	h.tick(t, 2)
	assert.Equal(t, 2, h.sender.count())
}

func TestRestore_CheckInDropsInterruptedRelease(t *testing.T) {
	h := newHarness(t, 1, 1)
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-5 * time.Hour), Type: model.ActivityCheckIn})
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-2 * time.Hour), Type: model.ActivityTriggerFired,
		Note: "release=r-1 reason=manual trigger"})
	h.restore(t)
	require.Equal(t, "r-1", h.m.Status().PendingRelease)

	_, err := h.m.CheckIn(context.Background(), "owner", "")
	require.NoError(t, err)
	assert.Empty(t, h.m.Status().PendingRelease)
	assert.Equal(t, PhaseActive, h.tick(t, 0.5))
	assert.Equal(t, 0, h.sender.count())
}

func TestNoteField(t *testing.T) {
	note := pairNote("r-1", PairResult{Recipient: "a@x.com", Document: "1_my will.pdf", Channel: "email"})
	assert.Equal(t, "r-1", noteField(note, "release"))
	assert.Equal(t, "a@x.com", noteField(note, "recipient"))
	assert.Equal(t, "1_my will.pdf", noteField(note, "document"))
	assert.Equal(t, "email", noteField(note, "channel"))
	assert.Empty(t, noteField(note, "error"))
	assert.Empty(t, noteField("prerelease=x", "release"))
}

func TestRestore_DisabledIsTerminal(t *testing.T) {
	h := newHarness(t, 1, 1)
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-5 * time.Hour), Type: model.ActivityCheckIn})
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-4 * time.Hour), Type: model.ActivityKillSwitch})
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-3 * time.Hour), Type: model.ActivityCheckIn})
	h.restore(t)

	assert.Equal(t, PhaseDisabled, h.m.Status().Phase)
	assert.Equal(t, PhaseDisabled, h.tick(t, 100))
	_, err := h.m.CheckIn(context.Background(), "x", "")
	assert.ErrorIs(t, err, model.ErrDisabled)
}

func TestRestore_DecreasingTimestampsAreCorruption(t *testing.T) {
	h := newHarness(t, 1, 1)
	h.store.Inject(model.ActivityRecord{Timestamp: t0, Type: model.ActivityCheckIn})
	h.store.Inject(model.ActivityRecord{Timestamp: t0.Add(-time.Second), Type: model.ActivityCheckIn})

	err := h.m.Restore(context.Background())
	require.ErrorIs(t, err, model.ErrStateCorruption)

	_, err = h.m.CheckIn(context.Background(), "x", "")
	assert.ErrorIs(t, err, model.ErrStateCorruption)
	assert.ErrorIs(t, h.m.Reevaluate(context.Background()), model.ErrStateCorruption)
	_, err = h.m.ForceTrigger(context.Background(), "")
	assert.ErrorIs(t, err, model.ErrStateCorruption)
	assert.Contains(t, h.m.Status().Error, "state corruption")
}

func TestRestore_UnknownTypeIsCorruption(t *testing.T) {
	h := newHarness(t, 1, 1)
	h.store.Inject(model.ActivityRecord{Timestamp: t0, Type: "HEARTBEAT"})

	require.ErrorIs(t, h.m.Restore(context.Background()), model.ErrStateCorruption)
	assert.Equal(t, 0, h.count(t, model.ActivityCheckIn), "a corrupt log must not be armed")
}
