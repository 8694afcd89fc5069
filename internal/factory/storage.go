package factory

import (
	"context"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/rajchinnag/Death-Switch/internal/activity"
	"github.com/rajchinnag/Death-Switch/internal/activity/postgres"
	"github.com/rajchinnag/Death-Switch/internal/activity/sqlite"
	"github.com/rajchinnag/Death-Switch/internal/config"
)

// NewActivityStore opens the activity store selected by cfg.DBDriver.
// Opening is retried with exponential backoff for up to
// BootstrapTimeoutSeconds so the service tolerates a database that is still
// starting.
func NewActivityStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (activity.Store, error) {
	var open func() (activity.Store, error)
	switch cfg.DBDriver {
	case "sqlite":
		open = func() (activity.Store, error) { return sqlite.New(cfg.SQLitePath) }
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("DEATHSWITCH_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
		open = func() (activity.Store, error) { return postgres.New(cfg.PostgresDSN) }
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 200 * time.Millisecond
	exp.Multiplier = 2
	exp.MaxInterval = 2 * time.Second
	exp.MaxElapsedTime = time.Duration(cfg.BootstrapTimeoutSeconds) * time.Second
	exp.Reset()

	var store activity.Store
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		s, err := open()
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Str("driver", cfg.DBDriver).Msg("activity store open failed")
			return err
		}
		store = s
		return nil
	}, backoff.WithContext(exp, ctx))
	if err != nil {
		return nil, fmt.Errorf("open %s activity store: %w", cfg.DBDriver, err)
	}
	log.Info().Str("driver", cfg.DBDriver).Int("attempts", attempt).Msg("activity store ready")
	return store, nil
}
