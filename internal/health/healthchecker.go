// Package health aggregates component checks into the service verdict
// reported on /health.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Checker is a component that keeps its own health current. Start blocks
// until ctx is done.
type Checker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// Report is the aggregate view of every registered checker.
type Report struct {
	Healthy    bool            `json:"healthy"`
	Since      time.Time       `json:"since,omitempty"`
	Down       []string        `json:"down,omitempty"`
	Components map[string]bool `json:"components"`
}

// Aggregator is UP only while every checker is healthy. It starts DOWN until
// the first evaluation.
type Aggregator struct {
	checkers []Checker
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	healthy bool
	since   time.Time
	down    []string
}

func NewAggregator(log zerolog.Logger, checkers ...Checker) *Aggregator {
	return &Aggregator{
		checkers: checkers,
		log:      log.With().Str("component", "health").Logger(),
		now:      time.Now,
	}
}

// IsHealthy returns the verdict of the last evaluation.
func (a *Aggregator) IsHealthy() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.healthy
}

// Components asks each checker directly, so it can be fresher than
// IsHealthy.
func (a *Aggregator) Components() map[string]bool {
	out := make(map[string]bool, len(a.checkers))
	for _, c := range a.checkers {
		out[c.Name()] = c.IsHealthy()
	}
	return out
}

func (a *Aggregator) Report() Report {
	comps := a.Components()
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Report{
		Healthy:    a.healthy,
		Since:      a.since,
		Down:       append([]string(nil), a.down...),
		Components: comps,
	}
}

// Evaluate runs one pass over the checkers and logs a change of verdict.
func (a *Aggregator) Evaluate() bool {
	var down []string
	for _, c := range a.checkers {
		if !c.IsHealthy() {
			down = append(down, c.Name())
		}
	}
	sort.Strings(down)
	healthy := len(down) == 0

	a.mu.Lock()
	changed := a.since.IsZero() || healthy != a.healthy
	a.healthy = healthy
	a.down = down
	if changed {
		a.since = a.now().UTC()
	}
	a.mu.Unlock()

	if changed {
		if healthy {
			a.log.Info().Msg("service health: UP")
		} else {
			a.log.Error().Strs("down", down).Msg("service health: DOWN")
		}
	}
	return healthy
}

// Start evaluates immediately and then on every interval.
func (a *Aggregator) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.Evaluate()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Evaluate()
		}
	}
}

// WaitHealthy polls c until it reports healthy, ctx ends, or timeout
// elapses.
func WaitHealthy(ctx context.Context, c Checker, timeout, poll time.Duration) error {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			if c.IsHealthy() {
				return nil
			}
			return &NotReadyError{Component: c.Name(), After: timeout, Cause: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// NotReadyError reports a component that never came up.
type NotReadyError struct {
	Component string
	After     time.Duration
	Cause     error
}

func (e *NotReadyError) Error() string {
	return e.Component + " not healthy within " + e.After.String()
}

func (e *NotReadyError) Unwrap() error { return e.Cause }
