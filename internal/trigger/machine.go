// Package trigger is the dead man's switch state machine. It owns the
// switch phase, derives it from the activity log at startup, and runs the
// release fan-out exactly once per trigger.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rajchinnag/Death-Switch/internal/activity"
	"github.com/rajchinnag/Death-Switch/internal/killswitch"
	"github.com/rajchinnag/Death-Switch/internal/metrics"
	"github.com/rajchinnag/Death-Switch/internal/model"
	"github.com/rajchinnag/Death-Switch/internal/notify"
)

// Phase is the switch phase.
type Phase string

const (
	PhaseActive    Phase = "ACTIVE"
	PhaseVerifying Phase = "VERIFYING"
	PhaseTriggered Phase = "TRIGGERED"
	PhaseDisabled  Phase = "DISABLED"
)

// Outcome is the result of a kill-switch attempt.
type Outcome string

const (
	OutcomeActivated     Outcome = "activated"
	OutcomeInvalid       Outcome = "invalid"
	OutcomeNotConfigured Outcome = "not_configured"
	OutcomeThrottled     Outcome = "throttled"
)

var errNotRestored = errors.New("switch state has not been restored from the activity log")

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Directory lists what a release sends and to whom.
type Directory interface {
	Recipients(ctx context.Context) ([]model.Recipient, error)
	Documents(ctx context.Context) ([]model.Document, error)
	Verify(ctx context.Context, doc model.Document) error
}

// Sender delivers one message to one recipient, falling back across
// channels.
type Sender interface {
	SendToRecipient(ctx context.Context, r model.Recipient, msg notify.Message) notify.Result
}

// Verifier checks kill-switch codes.
type Verifier interface {
	Verify(ctx context.Context, candidate string) killswitch.Verdict
}

// Config holds the timing and fan-out settings.
type Config struct {
	InactivityWindow   time.Duration
	VerificationWindow time.Duration
	// Concurrency bounds parallel pair sends during a release.
	Concurrency int
	// OwnerName is used in release messages.
	OwnerName string
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Store     activity.Store
	Directory Directory
	Sender    Sender
	Auth      Verifier
	Templates *notify.Templates
}

// Machine is the switch state machine. All phase changes happen under mu;
// release sends happen outside it.
type Machine struct {
	cfg   Config
	deps  Deps
	clock Clock
	log   zerolog.Logger

	mu             sync.Mutex
	restored       bool
	corrupt        error
	phase          Phase
	phaseEnteredAt time.Time
	lastActivity   time.Time
	releasing      bool
	lastRelease    *ReleaseSummary
	// pending is a release restored from the log without RELEASE_FINISHED.
	pending *releasePlan

	// aborted is set with the DISABLED transition and read by release
	// workers before each pair.
	aborted  atomic.Bool
	inflight sync.WaitGroup
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(m *Machine) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the machine logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Machine) { m.log = log }
}

// New validates the configuration. Call Restore before any other method.
func New(cfg Config, deps Deps, opts ...Option) (*Machine, error) {
	if cfg.InactivityWindow <= 0 || cfg.VerificationWindow <= 0 {
		return nil, fmt.Errorf("%w: inactivity and verification windows must be positive", model.ErrConfiguration)
	}
	if deps.Store == nil || deps.Directory == nil || deps.Sender == nil || deps.Auth == nil {
		return nil, fmt.Errorf("%w: store, directory, sender and authenticator are required", model.ErrConfiguration)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if deps.Templates == nil {
		t, err := notify.NewTemplates(nil)
		if err != nil {
			return nil, err
		}
		deps.Templates = t
	}
	m := &Machine{cfg: cfg, deps: deps, clock: systemClock{}, log: zerolog.Nop(), phase: PhaseActive}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Machine) readyLocked() error {
	if m.corrupt != nil {
		return m.corrupt
	}
	if !m.restored {
		return errNotRestored
	}
	return nil
}

// rebase re-expresses a stored timestamp against the clock reading now.
// Stores hand back wall-clock-only times; the result carries now's
// monotonic reading, so window arithmetic ignores wall clock steps.
func rebase(now, stored time.Time) time.Time {
	if stored.IsZero() {
		return stored
	}
	return now.Add(stored.Sub(now))
}

func (m *Machine) setPhaseLocked(to Phase, at time.Time, why string) {
	from := m.phase
	m.phase = to
	m.phaseEnteredAt = at
	if from == to {
		return
	}
	metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
	m.log.Info().Str("from", string(from)).Str("to", string(to)).Time("at", at).Str("reason", why).Msg("phase transition")
}

// CheckIn records proof of life and returns the recorded timestamp. Any
// non-disabled phase returns to ACTIVE, except while a release is being
// sent. A check-in after a completed release re-arms the switch.
func (m *Machine) CheckIn(ctx context.Context, origin, note string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readyLocked(); err != nil {
		return time.Time{}, err
	}
	switch {
	case m.phase == PhaseDisabled:
		return time.Time{}, model.ErrDisabled
	case m.releasing:
		return time.Time{}, model.ErrReleaseInFlight
	}

	now := m.clock.Now()
	rec, err := m.deps.Store.Append(ctx, model.ActivityRecord{
		Timestamp: now,
		Type:      model.ActivityCheckIn,
		Origin:    origin,
		Note:      note,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("record check-in: %w", err)
	}
	m.lastActivity = rebase(now, rec.Timestamp)
	m.pending = nil
	m.setPhaseLocked(PhaseActive, m.lastActivity, "check-in")
	metrics.CheckIns.Inc()
	return rec.Timestamp, nil
}

// Reevaluate advances time-based transitions. With no check-in and no time
// passage it has no effect. A trigger fired here is released before
// Reevaluate returns, as is the remainder of a release interrupted by a
// restart.
func (m *Machine) Reevaluate(ctx context.Context) error {
	m.mu.Lock()
	if err := m.readyLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	plan, err := m.advanceLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if plan != nil {
		m.release(ctx, *plan)
	}
	return nil
}

// advanceLocked may pass through VERIFYING to TRIGGERED in one call when
// both deadlines have already elapsed. VERIFYING is dated from the
// inactivity deadline, not from when it was noticed.
func (m *Machine) advanceLocked(ctx context.Context) (*releasePlan, error) {
	if m.pending != nil && m.phase == PhaseTriggered && !m.releasing {
		plan := m.pending
		m.pending = nil
		m.releasing = true
		m.inflight.Add(1)
		m.log.Warn().Str("release_id", plan.id).Int("pairs_done", len(plan.done)).
			Msg("resuming interrupted release")
		return plan, nil
	}
	now := m.clock.Now()
	if m.phase == PhaseActive && now.Sub(m.lastActivity) >= m.cfg.InactivityWindow {
		m.setPhaseLocked(PhaseVerifying, m.lastActivity.Add(m.cfg.InactivityWindow), "inactivity window elapsed")
	}
	if m.phase == PhaseVerifying && now.Sub(m.phaseEnteredAt) >= m.cfg.VerificationWindow {
		return m.fireLocked(ctx, now, "verification window elapsed")
	}
	return nil, nil
}

// fireLocked durably records the trigger and commits TRIGGERED. The caller
// must release the returned plan after unlocking.
func (m *Machine) fireLocked(ctx context.Context, now time.Time, reason string) (*releasePlan, error) {
	plan := releasePlan{id: uuid.NewString(), reason: reason, lastActivity: m.lastActivity}
	rec, err := m.deps.Store.Append(ctx, model.ActivityRecord{
		Timestamp: now,
		Type:      model.ActivityTriggerFired,
		Origin:    "system",
		Note:      fmt.Sprintf("release=%s reason=%s", plan.id, reason),
	})
	if err != nil {
		return nil, fmt.Errorf("record trigger: %w", err)
	}
	m.releasing = true
	m.inflight.Add(1)
	plan.firedAt = rebase(now, rec.Timestamp)
	m.setPhaseLocked(PhaseTriggered, plan.firedAt, reason)
	return &plan, nil
}

// ForceTrigger enters TRIGGERED immediately, bypassing both windows, and
// returns once the release has been sent.
func (m *Machine) ForceTrigger(ctx context.Context, reason string) (ReleaseSummary, error) {
	if reason == "" {
		reason = "manual trigger"
	}
	m.mu.Lock()
	if err := m.readyLocked(); err != nil {
		m.mu.Unlock()
		return ReleaseSummary{}, err
	}
	switch m.phase {
	case PhaseDisabled:
		m.mu.Unlock()
		return ReleaseSummary{}, model.ErrDisabled
	case PhaseTriggered:
		m.mu.Unlock()
		return ReleaseSummary{}, model.ErrAlreadyTriggered
	}
	plan, err := m.fireLocked(ctx, m.clock.Now(), reason)
	m.mu.Unlock()
	if err != nil {
		return ReleaseSummary{}, err
	}
	return m.release(ctx, *plan), nil
}

// KillSwitch verifies candidate and, when valid, disables the switch for
// good. It halts an in-flight release before its next pair. Every attempt
// is recorded; the candidate never is.
func (m *Machine) KillSwitch(ctx context.Context, candidate, origin string) (Outcome, error) {
	m.mu.Lock()
	if err := m.readyLocked(); err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.mu.Unlock()

	// hashing is slow; keep it outside the lock
	verdict := m.deps.Auth.Verify(ctx, candidate)
	metrics.KillSwitchAttempts.WithLabelValues(string(verdict.Result)).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()

	if verdict.Result != killswitch.Valid {
		if _, err := m.deps.Store.Append(ctx, model.ActivityRecord{
			Timestamp: now,
			Type:      model.ActivityKillSwitchFailed,
			Origin:    origin,
			Note:      verdict.Reason,
		}); err != nil {
			return "", fmt.Errorf("record kill-switch attempt: %w", err)
		}
		m.log.Warn().Str("origin", origin).Str("reason", verdict.Reason).Msg("kill switch attempt rejected")
		switch verdict.Result {
		case killswitch.NotConfigured:
			return OutcomeNotConfigured, nil
		case killswitch.Throttled:
			return OutcomeThrottled, nil
		}
		return OutcomeInvalid, nil
	}

	note := fmt.Sprintf("disabled from %s", m.phase)
	if m.phase == PhaseDisabled {
		note = "already disabled"
	}
	rec, err := m.deps.Store.Append(ctx, model.ActivityRecord{
		Timestamp: now,
		Type:      model.ActivityKillSwitch,
		Origin:    origin,
		Note:      note,
	})
	if err != nil {
		return "", fmt.Errorf("record kill switch: %w", err)
	}
	if m.phase == PhaseDisabled {
		return OutcomeActivated, nil
	}
	m.aborted.Store(true)
	m.pending = nil
	m.setPhaseLocked(PhaseDisabled, rebase(now, rec.Timestamp), "kill switch")
	return OutcomeActivated, nil
}

// Wait blocks until in-flight releases finish or ctx is done.
func (m *Machine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
