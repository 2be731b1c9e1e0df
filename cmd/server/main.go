// cmd/server/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/outreach-orchestrator/internal/config"
	"github.com/unclebandit/outreach-orchestrator/internal/controller"
	"github.com/unclebandit/outreach-orchestrator/internal/db"
	"github.com/unclebandit/outreach-orchestrator/internal/handler"
	"github.com/unclebandit/outreach-orchestrator/internal/logging"
	"github.com/unclebandit/outreach-orchestrator/internal/metrics"
	"github.com/unclebandit/outreach-orchestrator/internal/repository"
	"github.com/unclebandit/outreach-orchestrator/internal/service"
	"github.com/unclebandit/outreach-orchestrator/internal/trigger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging).With().Str("service", "outreach-server").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	if err := a.Serve(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
	logger.Info().Msg("server stopped")
}

// app is the long-running process: the ops HTTP API plus the trigger scheduler.
type app struct {
	cfg       *config.Config
	router    http.Handler
	scheduler *trigger.Scheduler
	logger    zerolog.Logger
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var sqlDB *sql.DB
	if cfg.Database.DSN != "" {
		var err error
		if sqlDB, err = db.Open(ctx, cfg.Database); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sqlDB.Close)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, database-backed triggers and the teaser calendar are disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(cfg.Metrics.Capacity, metrics.WithRegisterer(reg))

	tr, closeTransport, err := cfg.OpenTransport(logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeTransport)

	store, closeStore, err := cfg.OpenStore(ctx, sqlDB)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	orch := service.NewOrchestrator(tr, store, collector, logger)
	notifier := cfg.Notifier(tr, collector, logger)

	a.scheduler = trigger.NewScheduler(collector, logger)
	if err := a.registerTriggers(sqlDB, collector, notifier, orch); err != nil {
		a.Close()
		return nil, err
	}

	ops := &handler.OpsHandler{
		Live:    orch,
		Store:   store,
		Metrics: collector,
		Logger:  logger,
	}
	if sqlDB != nil {
		ops.DB = sqlDB
		ops.Teasers = &repository.TeaserRepository{DB: sqlDB, Logger: logger}
	}
	triggers := &controller.TriggerController{Triggers: a.scheduler, Logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", ops.HealthHandler)
	r.Get("/campaigns/progress", ops.GetProgressHandler)
	r.Get("/metrics/summary", ops.MetricsSummaryHandler)
	r.Get("/calendar/teasers", ops.ListTeasersHandler)
	r.Get("/triggers", triggers.ListTriggers)
	r.Post("/triggers/{name}", triggers.RunTrigger)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	a.router = r
	return a, nil
}

// registerTriggers adds every trigger the configured backends can serve. With
// triggers disabled they are registered without an interval and only run when
// POSTed to /triggers/{name}.
func (a *app) registerTriggers(sqlDB *sql.DB, collector *metrics.Collector, alerter trigger.Alerter, runner trigger.CampaignRunner) error {
	tc := a.cfg.Triggers
	interval, cadenceInterval := tc.Interval, tc.CadenceInterval
	if !tc.Enabled {
		interval, cadenceInterval = 0, 0
	}

	a.scheduler.Register(&trigger.BounceRateCheck{
		Metrics:    collector,
		Alerter:    alerter,
		Threshold:  tc.BounceThreshold,
		MinSamples: tc.BounceMinSamples,
	}, interval)

	if sqlDB == nil {
		return nil
	}

	ops := &repository.OpsRepository{DB: sqlDB}
	a.scheduler.Register(&trigger.DeadlineCheck{Source: ops, Alerter: alerter, Window: tc.DeadlineWindow}, interval)
	a.scheduler.Register(&trigger.DeployCheck{Source: ops, Alerter: alerter}, interval)
	a.scheduler.Register(&trigger.DMBacklogCheck{Source: ops, Alerter: alerter, Threshold: tc.BacklogThreshold}, interval)

	if tc.TeasersFile != "" {
		teasers, err := loadTeasers(tc.TeasersFile)
		if err != nil {
			return err
		}
		a.scheduler.Register(&trigger.TeaserSync{
			Source: trigger.StaticTeasers(teasers),
			Store:  &repository.TeaserRepository{DB: sqlDB, Logger: a.logger},
		}, interval)
	}

	identities, err := a.cfg.Campaign.SenderIdentities()
	if err != nil {
		return err
	}
	if len(identities) == 0 {
		a.logger.Warn().Msg("no sender identities configured, cadence-run is disabled")
		return nil
	}
	weekdays, err := tc.Weekdays()
	if err != nil {
		return err
	}
	loc, err := tc.Location()
	if err != nil {
		return err
	}
	seg := a.cfg.Campaign.Segment
	targets := repository.NewCachedTargetSource(&repository.TargetRepository{DB: sqlDB, Segment: seg}, seg, tc.TargetsCacheTTL)
	a.scheduler.Register(&trigger.CadenceRun{
		Weekdays:   weekdays,
		Hour:       tc.CadenceHour,
		Location:   loc,
		Targets:    targets,
		Identities: identities,
		Config:     a.cfg.Campaign.RunConfig(a.cfg.Progress.File),
		Runner:     runner,
		Logger:     a.logger,
	}, cadenceInterval)
	return nil
}

// Serve runs the HTTP server and the scheduler until ctx is cancelled, then
// shuts the server down gracefully.
func (a *app) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      a.router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.scheduler.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases backends in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close backend")
		}
	}
	a.closers = nil
}

var validate = validator.New()

// loadTeasers reads the JSON teaser list synced into the calendar.
func loadTeasers(path string) ([]trigger.Teaser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read teasers file: %w", err)
	}
	var teasers []trigger.Teaser
	if err := json.Unmarshal(data, &teasers); err != nil {
		return nil, fmt.Errorf("parse teasers file %s: %w", path, err)
	}
	for i, t := range teasers {
		if err := validate.Struct(t); err != nil {
			return nil, fmt.Errorf("teaser %d: %w", i, err)
		}
	}
	return teasers, nil
}
