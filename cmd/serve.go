package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"snaptosize/config"
	"snaptosize/frontend"
	"snaptosize/logger"
	"snaptosize/runner"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the edge and a runner pool in one process",
	Long: `serve is the single-host deployment: the edge endpoints and the web UI on
SNAPTOSIZE_EDGE_ADDR, with runner workers claiming straight from the local
registry instead of over HTTP.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(config.RoleServe); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openEdge(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	// workers poll the registry directly
	s.edge.RunnerURL = ""

	pool := runner.NewPool(runner.New(s.jobs, s.blobs, newBuilder()), cfg.RunnerWorkers, cfg.RunnerPoll)
	pool.Start(ctx)
	logger.Infof("Runner pool started with %d workers", cfg.RunnerWorkers)

	go frontend.CleanupRoutine(ctx, cfg.RunDir, cfg.RunRetention, cleanupInterval, s.ledger)
	err = serveHTTP(ctx, cfg.EdgeAddr, s.edge.Router(s.ui.Register))

	stop()
	pool.Wait()
	return err
}
