package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"snaptosize/failures"
	"snaptosize/models"
)

// ClaimNextHandler claims the oldest queued job, or answers 204 when there is none.
func (e *Edge) ClaimNextHandler(w http.ResponseWriter, r *http.Request) {
	j, err := e.Jobs.ClaimNext(r.Context())
	if err != nil {
		log.Errorf("claim next failed: %v", err)
		failures.WriteJSON(w, err)
		return
	}
	if j == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// ClaimHandler moves one job from queued to running; 409 when it is not queued.
func (e *Edge) ClaimHandler(w http.ResponseWriter, r *http.Request) {
	j, err := e.Jobs.Claim(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		failures.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// FinalizeHandler records the runner's outcome; 409 on an illegal transition.
func (e *Edge) FinalizeHandler(w http.ResponseWriter, r *http.Request) {
	var o models.Outcome
	if err := decodeBody(r, &o); err != nil {
		failures.WriteJSON(w, err)
		return
	}
	j, err := e.Jobs.Finalize(r.Context(), chi.URLParam(r, "jobID"), o)
	if err != nil {
		log.Warnf("finalize rejected: %v", err)
		failures.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}
