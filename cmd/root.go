// Package cmd implements the layerpull command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/layertools/layerpull/internal/config"
	"github.com/layertools/layerpull/internal/logging"
)

var (
	cfgFile string
	verbose bool

	cfg    config.Config
	logger *zap.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layerpull",
		Short: "Pull image layers in parallel with coordinated progress",
		Long: `layerpull fetches a set of content-addressed image layers from an OCI
registry, bounded by a configurable concurrency limit, streaming progress to
the terminal and optionally to a metrics endpoint.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development, verbose)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newPullCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
