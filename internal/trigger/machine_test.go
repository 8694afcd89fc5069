package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajchinnag/Death-Switch/internal/activity"
	"github.com/rajchinnag/Death-Switch/internal/killswitch"
	"github.com/rajchinnag/Death-Switch/internal/model"
	"github.com/rajchinnag/Death-Switch/internal/notify"
)

const code = "open-sesame"

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// at moves the clock to t0 plus h hours.
func (c *fakeClock) at(h float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t0.Add(time.Duration(h * float64(time.Hour)))
}

type fakeDirectory struct {
	recipients []model.Recipient
	docs       []model.Document
	broken     map[string]error
	err        error
}

func (d *fakeDirectory) Recipients(context.Context) ([]model.Recipient, error) {
	return d.recipients, d.err
}
func (d *fakeDirectory) Documents(context.Context) ([]model.Document, error) { return d.docs, d.err }
func (d *fakeDirectory) Verify(_ context.Context, doc model.Document) error {
	return d.broken[doc.StoredName]
}

type countingSender struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]bool
	entered chan struct{}
	gate    chan struct{}
}

func (s *countingSender) SendToRecipient(_ context.Context, r model.Recipient, msg notify.Message) notify.Result {
	s.mu.Lock()
	s.calls = append(s.calls, r.Email+"|"+msg.Attachment.Name)
	first := len(s.calls) == 1
	s.mu.Unlock()
	if first && s.entered != nil {
		close(s.entered)
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.fail[r.Email] {
		return notify.Result{Attempts: []notify.Attempt{{Channel: "email", Error: "down"}}}
	}
	return notify.Result{Channel: "email", Success: true, Attempts: []notify.Attempt{{Channel: "email"}}}
}

func (s *countingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type harness struct {
	m      *Machine
	store  *activity.MemoryStore
	clock  *fakeClock
	sender *countingSender
	dir    *fakeDirectory
}

func recipients(n int) []model.Recipient {
	out := make([]model.Recipient, n)
	for i := range out {
		out[i] = model.Recipient{Name: fmt.Sprintf("R%d", i), Email: fmt.Sprintf("r%d@example.com", i), Phone: "+919876543210"}
	}
	return out
}

func documents(n int) []model.Document {
	out := make([]model.Document, n)
	for i := range out {
		name := fmt.Sprintf("doc%d.pdf", i)
		out[i] = model.Document{Name: name, StoredName: "1_" + name, URL: "https://x/documents/1_" + name}
	}
	return out
}

func fastAuth(t *testing.T, secret string, opts ...killswitch.Option) *killswitch.Authenticator {
	t.Helper()
	if secret == "" {
		a, err := killswitch.New("", 4)
		require.NoError(t, err)
		return a
	}
	h, err := killswitch.Hash(secret, killswitch.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
	require.NoError(t, err)
	a, err := killswitch.New(h, 4, opts...)
	require.NoError(t, err)
	return a
}

func newHarness(t *testing.T, nRecipients, nDocs int, opts ...func(*harness)) *harness {
	t.Helper()
	h := &harness{
		store:  activity.NewMemoryStore(),
		clock:  &fakeClock{now: t0},
		sender: &countingSender{},
		dir:    &fakeDirectory{recipients: recipients(nRecipients), docs: documents(nDocs)},
	}
	for _, o := range opts {
		o(h)
	}
	m, err := New(Config{InactivityWindow: 2 * time.Hour, VerificationWindow: time.Hour, Concurrency: 1},
		Deps{Store: h.store, Directory: h.dir, Sender: h.sender, Auth: fastAuth(t, code)},
		WithClock(h.clock))
	require.NoError(t, err)
	h.m = m
	return h
}

func (h *harness) restore(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.Restore(context.Background()))
}

func (h *harness) tick(t *testing.T, at float64) Phase {
	t.Helper()
	h.clock.at(at)
	require.NoError(t, h.m.Reevaluate(context.Background()))
	return h.m.Status().Phase
}

func (h *harness) count(t *testing.T, types ...model.ActivityType) int {
	t.Helper()
	n, err := h.store.Count(context.Background(), types...)
	require.NoError(t, err)
	return n
}

func TestScenario_TriggersAfterBothWindows(t *testing.T) {
	h := newHarness(t, 1, 1)
	h.restore(t)

	_, err := h.m.CheckIn(context.Background(), "test", "")
	require.NoError(t, err)

	assert.Equal(t, PhaseActive, h.tick(t, 1.0))
	assert.Equal(t, PhaseVerifying, h.tick(t, 2.5))
	assert.Equal(t, PhaseTriggered, h.tick(t, 3.4))
	assert.Equal(t, 1, h.sender.count())

	st := h.m.Status()
	require.NotNil(t, st.LastRelease)
	assert.Equal(t, 1, st.LastRelease.Delivered)
	assert.False(t, st.Releasing)
}

func TestScenario_CheckInDuringVerificationCancels(t *testing.T) {
	h := newHarness(t, 1, 1)
	h.restore(t)

	assert.Equal(t, PhaseVerifying, h.tick(t, 2.5))

	h.clock.at(2.7)
	_, err := h.m.CheckIn(context.Background(), "test", "")
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, h.m.Status().Phase)

	assert.Equal(t, PhaseActive, h.tick(t, 3.4))
	assert.Equal(t, 0, h.sender.count())
	assert.Equal(t, 0, h.count(t, model.ActivityTriggerFired))
}

func TestReevaluate_Idempotent(t *testing.T) {
	h := newHarness(t, 2, 2)
	h.restore(t)

	h.tick(t, 2.5)
	before := h.count(t)
	entered := h.m.Status().PhaseEnteredAt
	assert.Equal(t, PhaseVerifying, h.tick(t, 2.5))
	assert.Equal(t, before, h.count(t))
	assert.Equal(t, entered, h.m.Status().PhaseEnteredAt)

	h.tick(t, 3.4)
	sent := h.sender.count()
	records := h.count(t)
	for i := 0; i < 5; i++ {
		assert.Equal(t, PhaseTriggered, h.tick(t, 3.4+float64(i)))
	}
	assert.Equal(t, 4, sent)
	assert.Equal(t, sent, h.sender.count(), "dispatch must happen once per trigger")
	assert.Equal(t, records, h.count(t))
	assert.Equal(t, 1, h.count(t, model.ActivityTriggerFired))
}

func TestReevaluate_BothWindowsElapsedAtOnce(t *testing.T) {
	h := newHarness(t, 1, 1)
	h.restore(t)

	assert.Equal(t, PhaseTriggered, h.tick(t, 10))
	assert.Equal(t, 1, h.sender.count())
}

func TestCheckIn_ReturnsToActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 1)
	h.restore(t)

	_, err := h.m.CheckIn(ctx, "a", "")
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, h.m.Status().Phase)

	h.tick(t, 2.5)
	_, err = h.m.CheckIn(ctx, "b", "")
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, h.m.Status().Phase)

	// a check-in after a completed release re-arms the switch
	h.tick(t, 10)
	require.Equal(t, PhaseTriggered, h.m.Status().Phase)
	at, err := h.m.CheckIn(ctx, "c", "")
	require.NoError(t, err)
	st := h.m.Status()
	assert.Equal(t, PhaseActive, st.Phase)
	assert.Equal(t, at, st.LastActivity)

	_, err = h.m.KillSwitch(ctx, code, "test")
	require.NoError(t, err)
	_, err = h.m.CheckIn(ctx, "d", "")
	assert.ErrorIs(t, err, model.ErrDisabled)
	assert.Equal(t, PhaseDisabled, h.m.Status().Phase)
}

func TestCheckIn_AppendFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, 1, 1)
	h.restore(t)
	h.tick(t, 2.5)

	h.store.FailAppend = errors.New("disk full")
	h.clock.at(2.6)
	_, err := h.m.CheckIn(context.Background(), "x", "")
	require.Error(t, err)
	assert.Equal(t, PhaseVerifying, h.m.Status().Phase)
}

func TestKillSwitch_DisablesForGood(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 1)
	h.restore(t)
	h.tick(t, 2.5)

	out, err := h.m.KillSwitch(ctx, "wrong-code", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, out)
	assert.Equal(t, PhaseVerifying, h.m.Status().Phase)

	out, err = h.m.KillSwitch(ctx, "abc", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, out)
	assert.Equal(t, 2, h.count(t, model.ActivityKillSwitchFailed))

	out, err = h.m.KillSwitch(ctx, code, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, out)
	assert.Equal(t, PhaseDisabled, h.m.Status().Phase)

	for _, at := range []float64{5, 50, 500} {
		assert.Equal(t, PhaseDisabled, h.tick(t, at))
	}
	_, err = h.m.ForceTrigger(ctx, "operator")
	assert.ErrorIs(t, err, model.ErrDisabled)
	assert.Equal(t, 0, h.sender.count())

	// failed attempts never echo the candidate
	recs, err := h.store.Recent(ctx, 0)
	require.NoError(t, err)
	for _, r := range recs {
		assert.NotContains(t, r.Note, "wrong-code")
		assert.NotContains(t, r.Note, code)
	}
}

func TestKillSwitch_NotConfigured(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 1)
	m, err := New(Config{InactivityWindow: 2 * time.Hour, VerificationWindow: time.Hour},
		Deps{Store: h.store, Directory: h.dir, Sender: h.sender, Auth: fastAuth(t, "")}, WithClock(h.clock))
	require.NoError(t, err)
	require.NoError(t, m.Restore(ctx))

	out, err := m.KillSwitch(ctx, "anything", "x")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotConfigured, out)
	assert.Equal(t, PhaseActive, m.Status().Phase)
	last, err := h.store.Last(ctx, model.ActivityKillSwitchFailed)
	require.NoError(t, err)
	assert.Contains(t, last.Note, "not configured")
}

func TestKillSwitch_ThrottledAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 1)
	m, err := New(Config{InactivityWindow: 2 * time.Hour, VerificationWindow: time.Hour},
		Deps{Store: h.store, Directory: h.dir, Sender: h.sender,
			Auth: fastAuth(t, code, killswitch.WithFailureLimit(time.Hour, 2))},
		WithClock(h.clock))
	require.NoError(t, err)
	require.NoError(t, m.Restore(ctx))

	for i := 0; i < 2; i++ {
		out, err := m.KillSwitch(ctx, "wrong-code", "1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, OutcomeInvalid, out)
	}
	// the right code is refused too while the bucket is empty
	out, err := m.KillSwitch(ctx, code, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, OutcomeThrottled, out)
	assert.Equal(t, PhaseActive, m.Status().Phase)

	assert.Equal(t, 3, h.count(t, model.ActivityKillSwitchFailed))
	last, err := h.store.Last(ctx, model.ActivityKillSwitchFailed)
	require.NoError(t, err)
	assert.Contains(t, last.Note, "too many failed attempts")
}

func TestForceTrigger_SendsCrossProduct(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3, 2)
	h.restore(t)

	sum, err := h.m.ForceTrigger(ctx, "operator")
	require.NoError(t, err)
	assert.Equal(t, 6, h.sender.count())
	assert.Equal(t, 6, sum.Total)
	assert.Equal(t, 6, sum.Delivered)
	assert.Len(t, sum.Pairs, 6)
	assert.NotEmpty(t, sum.ReleaseID)
	assert.False(t, sum.FinishedAt.IsZero())
	assert.Equal(t, 6, h.count(t, model.ActivityReleaseDelivered))

	_, err = h.m.ForceTrigger(ctx, "again")
	assert.ErrorIs(t, err, model.ErrAlreadyTriggered)
	assert.Equal(t, 6, h.sender.count())
}

func TestRelease_EmptyDirectoryIsNotAnError(t *testing.T) {
	h := newHarness(t, 0, 3)
	h.restore(t)

	sum, err := h.m.ForceTrigger(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, PhaseTriggered, h.m.Status().Phase)
	assert.Zero(t, sum.Total)
	assert.Empty(t, sum.Error)
	assert.Equal(t, 0, h.sender.count())
}

func TestRelease_FailuresDoNotStopOthers(t *testing.T) {
	h := newHarness(t, 3, 2, func(h *harness) {
		h.sender.fail = map[string]bool{"r1@example.com": true}
		h.dir.broken = map[string]error{"1_doc1.pdf": fmt.Errorf("%w: gone", model.ErrNotFound)}
	})
	h.restore(t)

	sum, err := h.m.ForceTrigger(context.Background(), "")
	require.NoError(t, err)
	// doc1 is broken for everyone; r1 fails doc0
	assert.Equal(t, 3, h.sender.count())
	assert.Equal(t, 2, sum.Delivered)
	assert.Equal(t, 4, sum.Failed)
	assert.Equal(t, 4, h.count(t, model.ActivityReleaseFailed))
}

func TestRelease_DirectoryErrorIsRecorded(t *testing.T) {
	h := newHarness(t, 1, 1, func(h *harness) { h.dir.err = errors.New("registry unreadable") })
	h.restore(t)

	sum, err := h.m.ForceTrigger(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, sum.Error, "registry unreadable")
	assert.Equal(t, 1, h.count(t, model.ActivityReleaseFailed))
	assert.Equal(t, PhaseTriggered, h.m.Status().Phase)
}

func TestKillSwitch_HaltsInFlightRelease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2, 3, func(h *harness) {
		h.sender.entered = make(chan struct{})
		h.sender.gate = make(chan struct{})
	})
	h.restore(t)

	done := make(chan ReleaseSummary, 1)
	go func() {
		sum, err := h.m.ForceTrigger(ctx, "")
		assert.NoError(t, err)
		done <- sum
	}()
	<-h.sender.entered

	st := h.m.Status()
	assert.Equal(t, PhaseTriggered, st.Phase)
	assert.True(t, st.Releasing)
	_, err := h.m.CheckIn(ctx, "x", "")
	assert.ErrorIs(t, err, model.ErrReleaseInFlight)

	out, err := h.m.KillSwitch(ctx, code, "x")
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, out)
	close(h.sender.gate)

	sum := <-done
	assert.Equal(t, 1, h.sender.count(), "sends not yet started must be skipped")
	assert.Equal(t, 6, sum.Total)
	assert.Equal(t, 1, sum.Delivered)
	assert.Equal(t, 5, sum.Skipped)
	assert.Equal(t, PhaseDisabled, h.m.Status().Phase)
	require.NoError(t, h.m.Wait(ctx))
}

func TestStatus_TimeRemaining(t *testing.T) {
	h := newHarness(t, 1, 1)
	h.restore(t)

	h.clock.at(0.5)
	st := h.m.Status()
	assert.Equal(t, PhaseActive, st.Phase)
	require.NotNil(t, st.NextDeadline)
	assert.Equal(t, t0.Add(2*time.Hour), *st.NextDeadline)
	assert.Equal(t, 90*time.Minute, st.TimeRemaining)
	assert.Equal(t, 30*time.Minute, st.TimeInPhase)

	h.tick(t, 2.25)
	st = h.m.Status()
	assert.Equal(t, PhaseVerifying, st.Phase)
	assert.Equal(t, t0.Add(2*time.Hour), st.PhaseEnteredAt)
	assert.Equal(t, 45*time.Minute, st.TimeRemaining)
}

func TestConcurrentCheckInsAndTicks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 1)
	h.restore(t)
	h.clock.at(1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.m.CheckIn(ctx, "c", "")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, h.m.Reevaluate(ctx))
			_ = h.m.Status()
		}()
	}
	wg.Wait()
	assert.Equal(t, PhaseActive, h.m.Status().Phase)
	assert.Equal(t, 21, h.count(t, model.ActivityCheckIn))
}

func TestConcurrentEvaluationsAfterDeadlineFireOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3, 2)
	h.restore(t)
	h.clock.at(3.5)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if i%8 == 0 {
				if _, err := h.m.ForceTrigger(ctx, "operator"); err != nil {
					assert.ErrorIs(t, err, model.ErrAlreadyTriggered)
				}
				return
			}
			assert.NoError(t, h.m.Reevaluate(ctx))
		}(i)
	}
	close(start)
	wg.Wait()
	require.NoError(t, h.m.Wait(ctx))

	assert.Equal(t, PhaseTriggered, h.m.Status().Phase)
	assert.Equal(t, 1, h.count(t, model.ActivityTriggerFired))
	assert.Equal(t, 3*2, h.sender.count(), "each pair is sent exactly once")
	assert.Equal(t, 3*2, h.count(t, model.ActivityReleaseDelivered))
	assert.Equal(t, 1, h.count(t, model.ActivityReleaseFinished))
}

func TestNew_RejectsBadConfig(t *testing.T) {
	h := newHarness(t, 0, 0)
	deps := Deps{Store: h.store, Directory: h.dir, Sender: h.sender, Auth: fastAuth(t, "")}
	_, err := New(Config{InactivityWindow: 0, VerificationWindow: time.Hour}, deps)
	assert.ErrorIs(t, err, model.ErrConfiguration)
	_, err = New(Config{InactivityWindow: time.Hour, VerificationWindow: time.Hour}, Deps{})
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestOperationsRequireRestore(t *testing.T) {
	h := newHarness(t, 0, 0)
	_, err := h.m.CheckIn(context.Background(), "x", "")
	assert.ErrorIs(t, err, errNotRestored)
	assert.ErrorIs(t, h.m.Reevaluate(context.Background()), errNotRestored)
	assert.NotEmpty(t, h.m.Status().Error)
}
