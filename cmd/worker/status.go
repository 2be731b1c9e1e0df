package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/unclebandit/outreach-orchestrator/internal/config"
	"github.com/unclebandit/outreach-orchestrator/internal/db"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the stats of the stored checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("progress-file") {
				cfg.Progress.Store = "file"
				cfg.Progress.File, _ = cmd.Flags().GetString("progress-file")
			}
			return printStatus(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("progress-file", "", "checkpoint file (selects the file progress store)")
	return cmd
}

func printStatus(ctx context.Context, cfg *config.Config, out io.Writer) error {
	var sqlDB *sql.DB
	if cfg.Progress.Store == "postgres" {
		var err error
		if sqlDB, err = db.Open(ctx, cfg.Database); err != nil {
			return err
		}
		defer sqlDB.Close()
	}

	store, closeStore, err := cfg.OpenStore(ctx, sqlDB)
	if err != nil {
		return err
	}
	defer closeStore()

	snap, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		fmt.Fprintln(out, "no checkpoint found")
		return nil
	}

	s := snap.Stats
	fmt.Fprintf(out, "campaign %s saved %s\n", s.CampaignID, snap.SavedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "total %d  sent %d  failed %d  pending %d\n", s.TotalBusinesses, s.Sent, s.Failed, s.Pending)
	if s.CheckpointWarning {
		fmt.Fprintf(out, "warning: %d checkpoint writes failed during the run\n", s.CheckpointFailures)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"by_priority": s.ByPriority, "by_industry": s.ByIndustry})
}
