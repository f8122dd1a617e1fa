package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"snaptosize/config"
	"snaptosize/frontend"
	"snaptosize/logger"
)

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Run the public edge: job API, signed downloads and the web UI",
	Long: `The edge owns the job registry and the usage ledger. It serves
/enqueue, /status and /download for async packs, the internal claim API for
runners, and the web UI endpoints for synchronous batches.`,
	Args: cobra.NoArgs,
	RunE: runEdge,
}

func init() {
	rootCmd.AddCommand(edgeCmd)
}

func runEdge(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(config.RoleEdge); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openEdge(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.RunnerURL == "" {
		logger.Warnf("SNAPTOSIZE_RUNNER_URL is empty, runners must poll for work")
	}
	go frontend.CleanupRoutine(ctx, cfg.RunDir, cfg.RunRetention, cleanupInterval, s.ledger)
	return serveHTTP(ctx, cfg.EdgeAddr, s.edge.Router(s.ui.Register))
}
