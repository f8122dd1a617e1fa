package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"snaptosize/failures"
	"snaptosize/models"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return failures.New(failures.KindInputMissing, "request body is empty")
		}
		return failures.Wrap(failures.KindInputMissing, err, "request body is not valid JSON")
	}
	return nil
}

// Submit enqueues a job and notifies the runner.
func (e *Edge) Submit(ctx context.Context, p models.Payload) (string, error) {
	j, err := e.Jobs.Enqueue(ctx, p)
	if err != nil {
		return "", err
	}
	if e.RunnerURL != "" {
		go e.dispatch(*j)
	}
	return j.ID, nil
}

// Poll returns the job record; finished jobs carry a signed download_url.
func (e *Edge) Poll(ctx context.Context, id string) (*models.StatusResponse, error) {
	j, err := e.Jobs.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := &models.StatusResponse{
		JobID:  j.ID,
		Status: j.Status,
		Result: j.Result,
		Error:  j.Error,
	}
	if j.Status == models.StatusDone && j.Result != nil {
		link, err := e.Blobs.SignedURL(ctx, j.Result.StorageKey, e.DownloadTTL)
		if err != nil {
			log.Errorf("cannot sign download for job %s: %v", j.ID, err)
		} else {
			resp.DownloadURL = link
		}
	}
	return resp, nil
}

// EnqueueHandler accepts {image_url, presets} and answers {job_id}.
func (e *Edge) EnqueueHandler(w http.ResponseWriter, r *http.Request) {
	var p models.Payload
	if err := decodeBody(r, &p); err != nil {
		failures.WriteJSON(w, err)
		return
	}
	id, err := e.Submit(r.Context(), p)
	if err != nil {
		log.Warnf("enqueue rejected: %v", err)
		failures.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.EnqueueResponse{JobID: id})
}

// dispatch tells the runner about a new job. Failure only delays the job
// until a claim worker polls.
func (e *Edge) dispatch(j models.Job) {
	data, err := json.Marshal(j)
	if err != nil {
		log.Errorf("dispatch of job %s: %v", j.ID, err)
		return
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, e.RunnerURL+"/generate", bytes.NewReader(data))
	if err != nil {
		log.Errorf("dispatch of job %s: %v", j.ID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.RunnerToken)

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		log.Warnf("dispatch of job %s failed, runner will poll: %v", j.ID, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		log.Warnf("dispatch of job %s returned %s, runner will poll", j.ID, resp.Status)
		return
	}
	log.Debugf("dispatched job %s", j.ID)
}

// StatusHandler answers GET /status/{job_id}.
func (e *Edge) StatusHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := e.Poll(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		failures.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
