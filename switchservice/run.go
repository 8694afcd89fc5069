// Package switchservice wires configuration, storage, the state machine,
// the monitoring loop and the HTTP API into one process.
package switchservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rajchinnag/Death-Switch/internal/activity"
	"github.com/rajchinnag/Death-Switch/internal/api"
	"github.com/rajchinnag/Death-Switch/internal/config"
	"github.com/rajchinnag/Death-Switch/internal/factory"
	"github.com/rajchinnag/Death-Switch/internal/health"
	"github.com/rajchinnag/Death-Switch/internal/killswitch"
	"github.com/rajchinnag/Death-Switch/internal/logger"
	"github.com/rajchinnag/Death-Switch/internal/model"
	"github.com/rajchinnag/Death-Switch/internal/monitor"
	"github.com/rajchinnag/Death-Switch/internal/notify"
	"github.com/rajchinnag/Death-Switch/internal/registry"
	"github.com/rajchinnag/Death-Switch/internal/trigger"
)

// releaseDrainTimeout bounds how long shutdown waits for an in-flight
// release.
const releaseDrainTimeout = 2 * time.Minute

// Run starts the switch service and blocks until shutdown or error.
func Run() error {
	log := logger.New("deathswitch")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log = logger.Build("deathswitch", os.Stdout, logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Dur("inactivity_window", cfg.InactivityWindow).
		Dur("verification_window", cfg.VerificationWindow).
		Msg("Dead man's switch starting")

	ctx, stop := newServerContext()
	defer stop()

	store, err := factory.NewActivityStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Activity store unavailable")
		return err
	}
	defer store.Close()

	reg, err := registry.New(cfg.DataDir, cfg.DocumentsDir, cfg.PublicBaseURL)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Registry unavailable")
		return err
	}

	authn, err := killswitch.New(cfg.KillSwitchHash, cfg.KillSwitchMinLength,
		killswitch.WithConcurrency(cfg.KillSwitchConcurrency),
		killswitch.WithFailureLimit(cfg.KillSwitchFailureInterval, cfg.KillSwitchMaxFailures),
	)
	if err != nil {
		// the switch keeps running; every kill-switch attempt reports not_configured
		log.Error().Err(err).Msg("Kill switch hash is malformed")
	} else if !authn.Configured() {
		log.Warn().Msg("Kill switch not configured")
	}

	templates, err := notify.NewTemplates(cfg.Templates)
	if err != nil {
		log.Error().Err(err).Msg("Invalid message templates")
		return err
	}

	dispatcher, issues := factory.NewDispatcher(cfg, log)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing notification channels")
		}
	}()

	machine, err := trigger.New(trigger.Config{
		InactivityWindow:   cfg.InactivityWindow,
		VerificationWindow: cfg.VerificationWindow,
		Concurrency:        cfg.DispatchConcurrency,
		OwnerName:          cfg.OwnerName,
	}, trigger.Deps{
		Store:     store,
		Directory: reg,
		Sender:    dispatcher,
		Auth:      authn,
		Templates: templates,
	}, trigger.WithLogger(log.With().Str("component", "switch").Logger()))
	if err != nil {
		return err
	}

	loop := monitor.NewLoop(machine, monitor.Config{Interval: cfg.CheckInterval}, log)
	if err := machine.Restore(ctx); err != nil {
		if !errors.Is(err, model.ErrStateCorruption) {
			log.Error().Stack().Err(err).Msg("Failed to restore switch state")
			return err
		}
		// keep serving so the operator can inspect /status and /activity-log
		log.Error().Err(err).Msg("Activity log corrupt; monitoring will not start")
	} else if cfg.MonitorAutoStart {
		loop.Launch(ctx)
	}

	storeChecker, svcHealth := startHealthCheckers(ctx, cfg, log, store, loop)
	bootTimeout := time.Duration(max(cfg.HealthIntervalSeconds*2, 60)) * time.Second
	if err := health.WaitHealthy(ctx, storeChecker, bootTimeout, 250*time.Millisecond); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}

	router := api.NewRouter(api.Deps{
		Switch:               machine,
		Monitor:              loop,
		Registry:             reg,
		Store:                store,
		Health:               svcHealth,
		BaseContext:          ctx,
		OperatorSecret:       []byte(cfg.OperatorJWTSecret),
		KillSwitchConfigured: authn.Configured(),
		Channels:             dispatcher.Channels(),
		ChannelIssues:        issues,
		Environment:          string(cfg.Environment),
		Log:                  log,
	})

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
	case runErr = <-errCh:
		log.Error().Stack().Err(runErr).Msg("HTTP server failed")
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := server.Shutdown(ctxShutdown); serr != nil {
		log.Error().Stack().Err(serr).Msg("Server forced to shutdown")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), releaseDrainTimeout)
	defer cancelDrain()
	if werr := machine.Wait(drainCtx); werr != nil {
		log.Error().Err(werr).Msg("Release still in flight at shutdown")
	}
	log.Info().Msg("Server exited")
	return runErr
}

// startHealthCheckers starts the store probe, the monitor watchdog and the
// service-level aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, store activity.Store, loop *monitor.Loop) (*health.Probe, *health.Aggregator) {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	storeChecker := activity.NewStoreHealthChecker(store, log, probeTimeout)
	go storeChecker.Start(ctx, interval)
	go loop.Start(ctx, interval)

	svcHealth := health.NewAggregator(log, storeChecker, loop)
	go svcHealth.Start(ctx, interval)
	return storeChecker, svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// a manual trigger answers after the release has been sent
		WriteTimeout: releaseDrainTimeout,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

// newServerContext returns a context cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
