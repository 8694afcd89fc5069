package activity

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rajchinnag/Death-Switch/internal/health"
)

// NewStoreHealthChecker returns a probe named "activity_store". Stores
// without a HealthPing of their own are probed with a Count.
func NewStoreHealthChecker(store Store, log zerolog.Logger, probeTimeout time.Duration) *health.Probe {
	return health.NewProbe("activity_store", storePinger{store}, probeTimeout, log)
}

type storePinger struct{ s Store }

func (p storePinger) HealthPing(ctx context.Context) error {
	if hp, ok := p.s.(health.Pinger); ok {
		return hp.HealthPing(ctx)
	}
	_, err := p.s.Count(ctx)
	return err
}
