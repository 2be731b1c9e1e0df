package main

import (
	"context"
	"database/sql"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/unclebandit/outreach-orchestrator/internal/config"
	"github.com/unclebandit/outreach-orchestrator/internal/db"
	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
	"github.com/unclebandit/outreach-orchestrator/internal/metrics"
	"github.com/unclebandit/outreach-orchestrator/internal/model"
	"github.com/unclebandit/outreach-orchestrator/internal/repository"
	"github.com/unclebandit/outreach-orchestrator/internal/service"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run (or resume) a campaign",
		Long: `Dispatches one email job per target through the configured transport.

Targets come from --targets-file (a JSON array of business records) or, when
no file is given, from the targets table of DATABASE_URL filtered by the
configured segment. With --save-progress a second run over the same targets
resumes the first one instead of sending again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cfg, cmd.Flags())
			targetsFile, _ := cmd.Flags().GetString("targets-file")
			fill, _ := cmd.Flags().GetBool("fill-fields")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err = runCampaign(ctx, cfg, newLogger(cfg), targetsFile, fill, cmd.OutOrStdout())
			return err
		},
	}

	f := cmd.Flags()
	f.Int("target-count", 0, "dispatch at most this many targets, highest priority first (0 = all)")
	f.Int("max-concurrent", 0, "maximum sends in flight")
	f.Int("delay-ms", 0, "minimum milliseconds between consecutive dispatches, across all workers")
	f.String("priority-order", "", "high-to-low, low-to-high or none")
	f.Bool("save-progress", false, "checkpoint progress and resume an interrupted run")
	f.String("progress-file", "", "checkpoint file (selects the file progress store)")
	f.Int("retry-ceiling", 0, "retries allowed per job after a transient failure (0 = never retry; unset = configured value)")
	f.String("run-key", "", "separates this run's checkpoint from earlier runs over the same targets")
	f.Duration("job-timeout", 0, "per-send timeout")
	f.String("targets-file", "", "JSON file of targets")
	f.StringSlice("identity", nil, "sender identity, repeatable (\"Name <address>\" or address)")
	f.String("template", "", "message template handed to the transport")
	f.Bool("fill-fields", false, "replace {name}, {email}, {industry}, {vertical}, {city} in the template per target")
	return cmd
}

// applyRunFlags overrides the configured campaign defaults with the flags that were set.
func applyRunFlags(cfg *config.Config, f *pflag.FlagSet) {
	c := &cfg.Campaign
	if f.Changed("target-count") {
		c.TargetCount, _ = f.GetInt("target-count")
	}
	if f.Changed("max-concurrent") {
		c.MaxConcurrentAgents, _ = f.GetInt("max-concurrent")
	}
	if f.Changed("delay-ms") {
		ms, _ := f.GetInt("delay-ms")
		c.DelayBetweenEmails = time.Duration(ms) * time.Millisecond
	}
	if f.Changed("priority-order") {
		c.PriorityOrder, _ = f.GetString("priority-order")
	}
	if f.Changed("save-progress") {
		c.SaveProgress, _ = f.GetBool("save-progress")
	}
	if f.Changed("retry-ceiling") {
		c.RetryCeiling, _ = f.GetInt("retry-ceiling")
	}
	if f.Changed("run-key") {
		c.RunKey, _ = f.GetString("run-key")
	}
	if f.Changed("job-timeout") {
		c.JobTimeout, _ = f.GetDuration("job-timeout")
	}
	if f.Changed("identity") {
		c.Identities, _ = f.GetStringSlice("identity")
	}
	if f.Changed("template") {
		c.Template, _ = f.GetString("template")
	}
	if f.Changed("progress-file") {
		cfg.Progress.Store = "file"
		cfg.Progress.File, _ = f.GetString("progress-file")
	}
}

// runCampaign wires the configured backends, runs one campaign and writes the
// final stats to out as JSON.
func runCampaign(ctx context.Context, cfg *config.Config, logger zerolog.Logger, targetsFile string, fill bool, out io.Writer) (*model.CampaignStats, error) {
	identities, err := cfg.Campaign.SenderIdentities()
	if err != nil {
		return nil, appErrors.NewConfigurationError("identities", err.Error())
	}

	var sqlDB *sql.DB
	if cfg.Database.DSN != "" && (targetsFile == "" || cfg.Progress.Store == "postgres") {
		sqlDB, err = db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		defer sqlDB.Close()
	}

	var targets []model.TargetEntity
	switch {
	case targetsFile != "":
		targets, err = loadTargetsFile(targetsFile)
	case sqlDB != nil:
		repo := &repository.TargetRepository{DB: sqlDB, Segment: cfg.Campaign.Segment}
		targets, err = repo.LoadTargets(ctx)
	default:
		return nil, appErrors.NewConfigurationError("targets", "no --targets-file given and no database configured")
	}
	if err != nil {
		return nil, err
	}

	store, closeStore, err := cfg.OpenStore(ctx, sqlDB)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	tr, closeTransport, err := cfg.OpenTransport(logger)
	if err != nil {
		return nil, err
	}
	defer closeTransport()

	var opts []service.Option
	if fill {
		opts = append(opts, service.WithRenderer(service.FillTargetFields))
	}
	collector := metrics.NewCollector(cfg.Metrics.Capacity)
	orch := service.NewOrchestrator(tr, store, collector, logger, opts...)

	logger.Info().
		Int("targets", len(targets)).
		Int("identities", len(identities)).
		Str("transport", cfg.Transport.Kind).
		Str("progress_store", cfg.Progress.Store).
		Msg("starting campaign")

	stats, err := orch.Run(ctx, targets, identities, cfg.Campaign.RunConfig(cfg.Progress.File))
	if err != nil {
		return nil, err
	}
	switch {
	case stats.CheckpointWarning:
		logger.Warn().Int("failures", stats.CheckpointFailures).Int("pending", stats.Pending).Msg("campaign finished, checkpoint writes failed")
	case stats.Cancelled:
		logger.Warn().Int("pending", stats.Pending).Msg("campaign interrupted, progress saved")
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// loadTargetsFile reads a JSON array of targets.
func loadTargetsFile(path string) ([]model.TargetEntity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, appErrors.NewConfigurationError("targets-file", err.Error())
	}
	var targets []model.TargetEntity
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, appErrors.NewConfigurationError("targets-file", "invalid JSON: "+err.Error())
	}
	return targets, nil
}
