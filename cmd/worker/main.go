// cmd/worker runs outreach campaigns from the command line.
//
//	worker run --targets-file targets.json --identity ana@outreach.example --max-concurrent 5 --delay-ms 2000
//	worker status
//
// Exit status is 0 when a run completes or is interrupted (progress is saved),
// 1 when the run is rejected for its configuration and 2 for any other failure.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/unclebandit/outreach-orchestrator/internal/config"
	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
	"github.com/unclebandit/outreach-orchestrator/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if appErrors.IsConfiguration(err) {
		return 1
	}
	return 2
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Bulk outreach campaign runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "YAML config file (default: CONFIG_PATH or ./config.yaml)")
	root.AddCommand(newRunCmd(), newStatusCmd())
	return root
}

// loadConfig reads the layered configuration, honouring --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFrom(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, appErrors.NewConfigurationError("config", err.Error())
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.Logging).With().Str("service", "outreach-worker").Logger()
}
