// Package monitor runs the periodic re-evaluation of the switch. It is the
// only driver of time-based transitions.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rajchinnag/Death-Switch/internal/metrics"
	"github.com/rajchinnag/Death-Switch/internal/model"
)

// ErrAlreadyRunning is returned by Run when the loop is already running.
var ErrAlreadyRunning = errors.New("monitoring loop already running")

// Evaluator advances time-based transitions.
type Evaluator interface {
	Reevaluate(ctx context.Context) error
}

// Config controls the tick cadence.
type Config struct {
	Interval time.Duration
	// StaleAfter marks the loop unhealthy when no tick completed for this
	// long while idle. Defaults to three intervals.
	StaleAfter time.Duration
}

// Health is an observable snapshot of the loop.
type Health struct {
	Running           bool      `json:"running"`
	Halted            bool      `json:"halted"`
	LastTick          time.Time `json:"lastTick,omitempty"`
	Ticks             int64     `json:"ticks"`
	Errors            int64     `json:"errors"`
	ConsecutiveErrors int64     `json:"consecutiveErrors"`
	Skipped           int64     `json:"skipped"`
	LastError         string    `json:"lastError,omitempty"`
}

// Loop calls Reevaluate on a fixed interval. A tick still in progress when
// the next one is due causes that tick to be skipped, so evaluations never
// pile up.
type Loop struct {
	ev  Evaluator
	cfg Config
	log zerolog.Logger
	now func() time.Time

	running    atomic.Bool
	halted     atomic.Bool
	inProgress atomic.Bool
	lastTick   atomic.Int64
	ticks      atomic.Int64
	errs       atomic.Int64
	consec     atomic.Int64
	skipped    atomic.Int64

	mu      sync.Mutex
	lastErr string
	wg      sync.WaitGroup
}

// NewLoop constructs a Loop from dependencies.
func NewLoop(ev Evaluator, cfg Config, log zerolog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * cfg.Interval
	}
	return &Loop{ev: ev, cfg: cfg, log: log.With().Str("component", "monitor").Logger(), now: time.Now}
}

// Launch starts Run in the background unless the loop is already running.
// It reports whether a new loop was started.
func (l *Loop) Launch(ctx context.Context) bool {
	if !l.running.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		if err := l.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.log.Error().Err(err).Msg("monitoring loop exited")
		}
	}()
	return true
}

// Run ticks until ctx is canceled or the activity log turns out to be
// corrupt.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	return l.run(ctx)
}

func (l *Loop) run(ctx context.Context) error {
	defer l.running.Store(false)
	l.halted.Store(false)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	defer l.wg.Wait()

	l.log.Info().Dur("interval", l.cfg.Interval).Msg("monitoring loop starting")
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.dispatch(ctx, cancel)
	for {
		select {
		case <-ctx.Done():
			if cause := context.Cause(ctx); errors.Is(cause, model.ErrStateCorruption) {
				return cause
			}
			l.log.Info().Msg("monitoring loop stopping")
			return ctx.Err()
		case <-ticker.C:
			l.dispatch(ctx, cancel)
		}
	}
}

// dispatch runs one tick in the background, or records a skip when the
// previous one has not finished.
func (l *Loop) dispatch(ctx context.Context, halt context.CancelCauseFunc) {
	if ctx.Err() != nil {
		return
	}
	if !l.inProgress.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		metrics.MonitorTicks.WithLabelValues("skipped").Inc()
		l.log.Warn().Msg("previous evaluation still running; tick skipped")
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.inProgress.Store(false)
		if err := l.tick(ctx); errors.Is(err, model.ErrStateCorruption) {
			halt(err)
		}
	}()
}

func (l *Loop) tick(ctx context.Context) error {
	err := l.ev.Reevaluate(ctx)
	now := l.now()
	l.lastTick.Store(now.UnixNano())
	l.ticks.Add(1)
	metrics.MonitorLastTick.Set(float64(now.Unix()))

	if err == nil {
		l.consec.Store(0)
		metrics.MonitorTicks.WithLabelValues("ok").Inc()
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	l.errs.Add(1)
	n := l.consec.Add(1)
	l.mu.Lock()
	l.lastErr = err.Error()
	l.mu.Unlock()
	metrics.MonitorTicks.WithLabelValues("error").Inc()

	if errors.Is(err, model.ErrStateCorruption) {
		l.halted.Store(true)
		l.log.Error().Err(err).Msg("activity log corrupt; monitoring halted, operator action required")
		return err
	}
	l.log.Error().Stack().Err(err).Int64("consecutive", n).Msg("re-evaluation failed")
	return err
}

// Health returns the current snapshot.
func (l *Loop) Health() Health {
	h := Health{
		Running:           l.running.Load(),
		Halted:            l.halted.Load(),
		Ticks:             l.ticks.Load(),
		Errors:            l.errs.Load(),
		ConsecutiveErrors: l.consec.Load(),
		Skipped:           l.skipped.Load(),
	}
	if ns := l.lastTick.Load(); ns != 0 {
		h.LastTick = time.Unix(0, ns).UTC()
	}
	l.mu.Lock()
	h.LastError = l.lastErr
	l.mu.Unlock()
	return h
}

func (l *Loop) Name() string { return "monitor" }

// IsHealthy is false when the loop is stopped, halted, failing, or has gone
// quiet while idle.
func (l *Loop) IsHealthy() bool {
	if !l.running.Load() || l.halted.Load() || l.consec.Load() > 0 {
		return false
	}
	return !l.stale()
}

func (l *Loop) stale() bool {
	ns := l.lastTick.Load()
	if ns == 0 || l.inProgress.Load() {
		return false
	}
	return l.now().Sub(time.Unix(0, ns)) > l.cfg.StaleAfter
}

// Start watches the loop and logs when it stops ticking. It blocks until
// ctx is done.
func (l *Loop) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := l.IsHealthy()
			if cur == prev {
				continue
			}
			if cur {
				l.log.Info().Msg("monitoring loop healthy")
			} else {
				h := l.Health()
				l.log.Error().Bool("running", h.Running).Bool("halted", h.Halted).Time("last_tick", h.LastTick).
					Str("last_error", h.LastError).Msg("monitoring loop unhealthy")
			}
			prev = cur
		}
	}
}
