package cmd

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"snaptosize/blob"
	"snaptosize/config"
	"snaptosize/job"
	"snaptosize/logger"
	"snaptosize/routes"
	"snaptosize/runner"
)

var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Run an async pack runner against a remote edge",
	Long: `A runner claims queued jobs from the edge at SNAPTOSIZE_EDGE_URL, fetches
the source image, renders the preset pack, uploads it to the blob store and
reports the outcome. It accepts POST /generate as a wake-up and also polls.`,
	Args: cobra.NoArgs,
	RunE: runRunner,
}

func init() {
	rootCmd.AddCommand(runnerCmd)
}

func runRunner(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(config.RoleRunner); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	blobs, err := blob.New(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := blobs.(io.Closer); ok {
		defer c.Close()
	}

	client := job.NewClient(cfg.EdgeURL, cfg.RunnerToken)
	pool := runner.NewPool(runner.New(client, blobs, newBuilder()), cfg.RunnerWorkers, cfg.RunnerPoll)
	pool.Start(ctx)
	logger.Infof("Runner claiming from %s with %d workers", cfg.EdgeURL, cfg.RunnerWorkers)

	r := runner.NewRouter(pool, cfg.RunnerToken)
	routes.Mount(r)
	err = serveHTTP(ctx, cfg.RunnerAddr, r)

	stop()
	pool.Wait()
	return err
}
