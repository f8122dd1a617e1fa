package cmd

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"snaptosize/blob"
	"snaptosize/config"
	"snaptosize/entitlement"
	"snaptosize/frontend"
	"snaptosize/job"
	"snaptosize/kvstore"
	"snaptosize/logger"
	"snaptosize/pack"
	"snaptosize/routes"
	"snaptosize/watermark"
)

const (
	shutdownTimeout = 10 * time.Second
	cleanupInterval = time.Hour
)

func newBuilder() *pack.Builder {
	return pack.NewBuilder(cfg.PackWorkers, watermark.New(cfg.WatermarkText, cfg.WatermarkFont))
}

func newOracle() entitlement.Oracle {
	var o entitlement.Oracle
	switch cfg.OracleProvider {
	case "http":
		logger.Infof("Using subscription oracle at %s", cfg.OracleURL)
		o = entitlement.NewHTTPOracle(cfg.OracleURL, cfg.OracleKey)
	default:
		logger.Infof("Using static oracle with %d handles", len(cfg.ProHandles))
		o = entitlement.NewStaticOracle(cfg.ProHandles)
	}
	return entitlement.NewCachedOracle(o, entitlement.DefaultCacheTTL)
}

// edgeStack is everything the public process owns.
type edgeStack struct {
	registry *kvstore.DB
	usage    *kvstore.DB
	jobs     *job.Store
	ledger   *entitlement.Ledger
	blobs    blob.Store
	edge     *routes.Edge
	ui       *frontend.Server
}

func openEdge(ctx context.Context) (*edgeStack, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	s := &edgeStack{}

	logger.Debugf("Opening job registry at %s", config.GetRegistryDBPath())
	var err error
	if s.registry, err = kvstore.Open(config.GetRegistryDBPath()); err != nil {
		return nil, err
	}
	logger.Debugf("Opening usage ledger at %s", config.GetLedgerDBPath())
	if s.usage, err = kvstore.Open(config.GetLedgerDBPath()); err != nil {
		s.Close()
		return nil, err
	}
	if s.blobs, err = blob.New(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}
	logger.Infof("Stores ready, blob backend %s", cfg.BlobBackend)

	s.jobs = job.NewStore(s.registry)
	s.ledger = entitlement.NewLedger(s.usage)
	s.edge = routes.NewEdge(cfg, s.jobs, s.blobs,
		routes.HealthCheck{Name: "registry", Check: s.registry.CheckHealth},
		routes.HealthCheck{Name: "ledger", Check: s.usage.CheckHealth},
	)

	gate := entitlement.NewGate(newOracle(), s.ledger)
	adapter := frontend.NewAdapter(gate, newBuilder(), s.edge, cfg.RunDir)
	s.ui = frontend.NewServer(adapter, cfg.SigningSecret)
	s.ui.SecureCookies = strings.HasPrefix(cfg.PublicURL, "https://")
	s.ui.TrustProxy = cfg.TrustProxy
	return s, nil
}

func (s *edgeStack) Close() {
	if c, ok := s.blobs.(io.Closer); ok {
		c.Close()
	}
	if s.usage != nil {
		s.usage.Close()
	}
	if s.registry != nil {
		s.registry.Close()
	}
}

// serveHTTP runs h on addr until ctx is done, then drains in-flight requests.
func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
