package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Pinger is implemented by components that can probe their own backing
// resource. HealthPing returns nil when healthy.
type Pinger interface {
	HealthPing(ctx context.Context) error
}

// Probe is a Checker that pings a resource on every interval. It starts
// unhealthy until the first successful ping, and logs only when the result
// flips so a dead database does not flood the log.
type Probe struct {
	name    string
	target  Pinger
	timeout time.Duration
	log     zerolog.Logger

	healthy  atomic.Bool
	failures atomic.Int64

	mu      sync.Mutex
	lastErr error
	checked time.Time
}

// NewProbe returns a probe for target. A non-positive timeout means two
// seconds per ping.
func NewProbe(name string, target Pinger, timeout time.Duration, log zerolog.Logger) *Probe {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Probe{name: name, target: target, timeout: timeout, log: log.With().Str("checker", name).Logger()}
}

func (p *Probe) Name() string    { return p.name }
func (p *Probe) IsHealthy() bool { return p.healthy.Load() }

// Last returns when the most recent ping ran and its error.
func (p *Probe) Last() (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checked, p.lastErr
}

// Check pings once and records the outcome.
func (p *Probe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.target.HealthPing(ctx)

	p.mu.Lock()
	p.lastErr = err
	p.checked = time.Now().UTC()
	p.mu.Unlock()

	was := p.healthy.Swap(err == nil)
	if err != nil {
		n := p.failures.Add(1)
		if was || n == 1 {
			p.log.Error().Stack().Err(err).Msg("health probe failed")
		}
		return err
	}
	if p.failures.Swap(0) > 0 {
		p.log.Info().Msg("health probe recovered")
	}
	return nil
}

func (p *Probe) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Check(ctx)
		}
	}
}
