package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/rajchinnag/Death-Switch/internal/metrics"
	"github.com/rajchinnag/Death-Switch/internal/model"
)

// DefaultSendTimeout bounds a single channel attempt.
const DefaultSendTimeout = 30 * time.Second

var errNoAddress = errors.New("recipient has no address for this medium")

// Attempt records one channel try.
type Attempt struct {
	Channel  string        `json:"channel"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of delivering one message to one recipient.
// Channel is the channel that succeeded, empty when none did.
type Result struct {
	Channel  string    `json:"channel,omitempty"`
	Success  bool      `json:"success"`
	Attempts []Attempt `json:"attempts"`
}

// Dispatcher tries channels in a fixed order and stops at the first success.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	log      zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSendTimeout overrides the per-attempt timeout.
func WithSendTimeout(d time.Duration) Option {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.timeout = d
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(log zerolog.Logger) Option {
	return func(ds *Dispatcher) { ds.log = log }
}

// NewDispatcher freezes the channel order. A nil channel is dropped.
func NewDispatcher(channels []Channel, opts ...Option) *Dispatcher {
	d := &Dispatcher{timeout: DefaultSendTimeout, log: zerolog.Nop()}
	for _, ch := range channels {
		if ch != nil {
			d.channels = append(d.channels, ch)
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Channels returns the channel names in priority order.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.Name()
	}
	return names
}

// SendToRecipient walks the channels in order until one succeeds. Failures,
// panics and timeouts are logged and recorded as attempts; they never
// escape. No channel after the successful one is contacted.
func (d *Dispatcher) SendToRecipient(ctx context.Context, r model.Recipient, msg Message) Result {
	var res Result
	for _, ch := range d.channels {
		if ctx.Err() != nil {
			break
		}
		name := ch.Name()
		to := r.AddressFor(ch.Medium())
		if to == "" {
			res.Attempts = append(res.Attempts, Attempt{Channel: name, Skipped: true, Error: errNoAddress.Error()})
			metrics.DeliveryAttempts.WithLabelValues(name, "skipped").Inc()
			continue
		}

		start := time.Now()
		err := d.attempt(ctx, ch, to, msg)
		elapsed := time.Since(start)
		metrics.DeliveryDuration.WithLabelValues(name).Observe(elapsed.Seconds())

		if err == nil {
			metrics.DeliveryAttempts.WithLabelValues(name, "success").Inc()
			res.Attempts = append(res.Attempts, Attempt{Channel: name, Duration: elapsed})
			res.Channel = name
			res.Success = true
			d.log.Info().Str("channel", name).Str("recipient", r.Email).Str("release_id", msg.ReleaseID).
				Dur("elapsed", elapsed).Msg("notification delivered")
			return res
		}

		metrics.DeliveryAttempts.WithLabelValues(name, outcomeOf(err)).Inc()
		res.Attempts = append(res.Attempts, Attempt{Channel: name, Error: err.Error(), Duration: elapsed})
		d.log.Warn().Err(err).Str("channel", name).Str("recipient", r.Email).Str("release_id", msg.ReleaseID).
			Msg("channel failed; trying next")
	}
	if !res.Success {
		d.log.Error().Str("recipient", r.Email).Str("release_id", msg.ReleaseID).Int("attempts", len(res.Attempts)).
			Msg("all channels failed")
	}
	return res
}

type panicError struct{ v any }

func (p panicError) Error() string { return fmt.Sprintf("channel panicked: %v", p.v) }

// attempt runs one send under the per-attempt timeout. The send runs on its
// own goroutine so a channel that ignores ctx cannot hold the dispatcher
// past the deadline.
func (d *Dispatcher) attempt(ctx context.Context, ch Channel, to string, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- panicError{v: v}
			}
		}()
		done <- ch.Send(ctx, to, msg)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return d.timedOut(ch)
		}
		return fmt.Errorf("%w: %w", model.ErrTransientDelivery, err)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return d.timedOut(ch)
		}
		return fmt.Errorf("%w: %w", model.ErrTransientDelivery, ctx.Err())
	}
}

func (d *Dispatcher) timedOut(ch Channel) error {
	return fmt.Errorf("%w: %s timed out after %s: %w", model.ErrTransientDelivery, ch.Name(), d.timeout, context.DeadlineExceeded)
}

func outcomeOf(err error) string {
	var p panicError
	switch {
	case errors.As(err, &p):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "error"
}

// Close releases channels that hold connections.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, ch := range d.channels {
		if c, ok := ch.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
