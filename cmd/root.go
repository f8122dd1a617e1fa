// Package cmd is the snaptosize command line: the edge, the runner, the
// all-in-one server and the offline pack tools.
package cmd

import (
	"github.com/spf13/cobra"

	"snaptosize/config"
	"snaptosize/logger"
)

var (
	cfg      config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "snaptosize",
	Short: "Print-ready size packs from a single image",
	Long: `snaptosize turns one image into marketplace-ready print packs: one archive
per aspect-ratio family at 300 DPI, plus an async preset pack for remote images.

The edge serves the job API and the web UI, runners produce the async packs,
and serve runs both in one process.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		level, known := logger.ParseLevel(cfg.LogLevel)
		if err := logger.Init(cfg.LogFile, true, level); err != nil {
			return err
		}
		if !known {
			logger.Warnf("Unknown log level %q, using info", cfg.LogLevel)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides SNAPTOSIZE_LOG_LEVEL)")
}
