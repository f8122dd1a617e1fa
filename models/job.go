package models

import (
	"time"

	"snaptosize/failures"
	"snaptosize/pack"
)

type JobStatus string

const (
	StatusQueued  JobStatus = "queued"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusError   JobStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Payload is what the submitter asked for.
type Payload struct {
	ImageURL string   `json:"image_url"`
	Presets  []string `json:"presets"`
	DedupKey string   `json:"dedup_key,omitempty"` // opaque, stored as given
}

// Result is written by the runner on success.
type Result struct {
	Presets    []pack.PresetMeta `json:"presets"`
	StorageKey string            `json:"storage_key"`
	ZipBytes   int64             `json:"zip_bytes"`
	ZipHash    string            `json:"zip_hash,omitempty"`
}

// JobError is written by the runner on failure.
type JobError struct {
	Kind    failures.Kind `json:"kind"`
	Message string        `json:"message"`
}

// Job is the registry record.
type Job struct {
	ID        string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Payload   Payload   `json:"payload"`
	Result    *Result   `json:"result,omitempty"`
	Error     *JobError `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Outcome is the runner's terminal report for a job. Exactly one of Result or Error is set.
type Outcome struct {
	Result *Result   `json:"result,omitempty"`
	Error  *JobError `json:"error,omitempty"`
}

// Status returns the terminal status the outcome moves a job to.
func (o Outcome) Status() JobStatus {
	if o.Error != nil {
		return StatusError
	}
	return StatusDone
}

// Done builds a success outcome.
func Done(r Result) Outcome {
	return Outcome{Result: &r}
}

// Failed builds a failure outcome from a classified error.
func Failed(err error) Outcome {
	return Outcome{Error: &JobError{Kind: failures.KindOf(err), Message: failures.Message(err)}}
}

// EnqueueResponse is returned by POST /enqueue.
type EnqueueResponse struct {
	JobID string `json:"job_id"`
}

// StatusResponse is returned by GET /status/{job_id}.
type StatusResponse struct {
	JobID       string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	Result      *Result   `json:"result,omitempty"`
	Error       *JobError `json:"error,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
}
