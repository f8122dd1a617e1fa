// Package routes holds the edge's HTTP surface: the public job API, signed
// downloads, the runner-facing internal API and the operational endpoints.
package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"snaptosize/blob"
	"snaptosize/config"
	"snaptosize/job"
	"snaptosize/logger"
	"snaptosize/metrics"
	"snaptosize/utils"
)

var log = logger.With("edge")

// Edge owns the job registry and signs download links for finished jobs.
type Edge struct {
	Jobs        *job.Store
	Blobs       blob.Store
	RunnerToken string
	Secret      string
	DownloadTTL time.Duration
	// RunnerURL receives a best-effort POST /generate after each enqueue.
	RunnerURL   string
	HTTPClient  *http.Client
	CORSOrigins []string
	// TrustProxy enables middleware.RealIP. Leave it off unless a proxy
	// in front rewrites X-Forwarded-For, or clients pick their own address.
	TrustProxy bool

	checks []HealthCheck
	now    func() time.Time
}

func NewEdge(cfg config.Config, jobs *job.Store, blobs blob.Store, checks ...HealthCheck) *Edge {
	return &Edge{
		Jobs:        jobs,
		Blobs:       blobs,
		RunnerToken: cfg.RunnerToken,
		Secret:      cfg.SigningSecret,
		DownloadTTL: cfg.DownloadTTL,
		RunnerURL:   cfg.RunnerURL,
		HTTPClient:  &http.Client{Timeout: 5 * time.Second},
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		checks:      checks,
		now:         time.Now,
	}
}

// Router wires the edge endpoints. Each extra function may register more
// routes on the same mux, such as the web UI.
func (e *Edge) Router(extra ...func(r chi.Router)) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if e.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(e.CORSOrigins) > 0 {
		r.Use(utils.CORS(e.CORSOrigins))
	}

	r.Post("/enqueue", e.EnqueueHandler)
	r.Get("/status/{jobID}", e.StatusHandler)
	r.Get("/download/{token}", e.DownloadHandler)
	r.Get("/api/sizes", SizesHandler)

	r.Route("/internal/jobs", func(r chi.Router) {
		r.Use(utils.RequireBearer(e.RunnerToken))
		r.Post("/next", e.ClaimNextHandler)
		r.Post("/{jobID}/claim", e.ClaimHandler)
		r.Post("/{jobID}/finalize", e.FinalizeHandler)
	})

	for _, register := range extra {
		register(r)
	}
	Mount(r, e.checks...)
	return r
}

// Mount adds /health, /version and /metrics to r.
func Mount(r chi.Router, checks ...HealthCheck) {
	r.Get("/health", HealthHandler(checks...))
	r.Get("/version", VersionHandler)
	r.Handle("/metrics", metrics.Handler())
}
