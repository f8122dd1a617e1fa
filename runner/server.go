package runner

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"snaptosize/failures"
	"snaptosize/models"
	"snaptosize/utils"
)

// GenerateResponse acknowledges a dispatched job.
type GenerateResponse struct {
	JobID    string `json:"job_id"`
	Accepted bool   `json:"accepted"`
}

// NewRouter serves POST /generate behind the shared bearer token. The caller
// mounts health, version and metrics next to it.
func NewRouter(pool *Pool, token string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.With(utils.RequireBearer(token)).Post("/generate", pool.GenerateHandler)
	return r
}

// GenerateHandler takes the job JSON the edge dispatched and hands its id to
// a claim worker. The claim itself happens against the registry, so a
// replayed or stale dispatch is harmless.
func (p *Pool) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	var j models.Job
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&j); err != nil {
		failures.WriteJSON(w, failures.New(failures.KindInputMissing, "request body must be a job record"))
		return
	}
	if j.ID == "" {
		failures.WriteJSON(w, failures.New(failures.KindInputMissing, "job_id is required"))
		return
	}

	accepted := p.Notify(j.ID)
	log.Infof("dispatch received for job %s (accepted=%v)", j.ID, accepted)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(GenerateResponse{JobID: j.ID, Accepted: accepted})
}
