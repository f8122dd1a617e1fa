// Package frontend binds the synchronous pack pipeline and the async job API
// to callers, behind the entitlement gate.
package frontend

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"snaptosize/catalog"
	"snaptosize/entitlement"
	"snaptosize/failures"
	"snaptosize/logger"
	"snaptosize/models"
	"snaptosize/normalize"
	"snaptosize/pack"
)

var log = logger.With("frontend")

// Jobs is the async registry as seen by a submitter. The edge itself and
// job.Client both provide it.
type Jobs interface {
	Submit(ctx context.Context, p models.Payload) (string, error)
	Poll(ctx context.Context, id string) (*models.StatusResponse, error)
}

type Adapter struct {
	gate    *entitlement.Gate
	builder *pack.Builder
	jobs    Jobs
	runDir  string
}

func NewAdapter(gate *entitlement.Gate, builder *pack.Builder, jobs Jobs, runDir string) *Adapter {
	return &Adapter{gate: gate, builder: builder, jobs: jobs, runDir: runDir}
}

// ArchiveFile is one written family archive.
type ArchiveFile struct {
	Family catalog.Family `json:"family"`
	Name   string         `json:"name"`
	Path   string         `json:"-"`
	Bytes  int64          `json:"bytes"`
}

// BatchResult lists the archives of one run, in family input order.
type BatchResult struct {
	RunID    string
	Archives []ArchiveFile
	Decision entitlement.Decision
}

// Paths returns the archive paths in order.
func (b *BatchResult) Paths() []string {
	out := make([]string, len(b.Archives))
	for i, a := range b.Archives {
		out[i] = a.Path
	}
	return out
}

// SingleResult is one exported derivative.
type SingleResult struct {
	RunID string
	Path  string
	Name  string
	Size  catalog.Size
}

// newRun creates an empty run directory.
func (a *Adapter) newRun() (string, string, error) {
	id := uuid.NewString()
	dir := filepath.Join(a.runDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", failures.Wrap(failures.KindInternal, err, "cannot create run directory")
	}
	return id, dir, nil
}

// RunPath resolves a file of a run, refusing anything outside the run directory.
func (a *Adapter) RunPath(runID, name string) (string, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return "", failures.New(failures.KindJobNotFound, "unknown run")
	}
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", failures.New(failures.KindJobNotFound, "unknown file")
	}
	return filepath.Join(a.runDir, runID, name), nil
}

// Batch gates the caller, renders every family and writes one archive per
// family. Free use is recorded only after all archives are on disk; a failed
// or cancelled batch leaves no files and no ledger entry.
func (a *Adapter) Batch(ctx context.Context, image []byte, families []catalog.Family, o catalog.Orientation, id entitlement.Identity) (*BatchResult, error) {
	if len(image) == 0 {
		return nil, failures.New(failures.KindInputMissing, "upload an image first")
	}
	if len(families) == 0 {
		return nil, failures.New(failures.KindInputMissing, "select at least one family")
	}

	d, err := a.gate.Check(ctx, id)
	if err != nil {
		return nil, err
	}

	img, err := normalize.Load(image)
	if err != nil {
		return nil, err
	}
	archives, err := a.builder.Build(ctx, img, families, o, d.Watermarked())
	if err != nil {
		return nil, err
	}

	runID, dir, err := a.newRun()
	if err != nil {
		return nil, err
	}
	result := &BatchResult{RunID: runID, Decision: d}
	for _, ar := range archives {
		path := filepath.Join(dir, ar.Name)
		if err := os.WriteFile(path, ar.Data, 0o644); err != nil {
			os.RemoveAll(dir)
			return nil, failures.Wrap(failures.KindInternal, err, "cannot write %s", ar.Name)
		}
		result.Archives = append(result.Archives, ArchiveFile{Family: ar.Family, Name: ar.Name, Path: path, Bytes: ar.Size()})
	}

	if err := ctx.Err(); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := a.gate.MarkUsed(ctx, d); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	log.Infof("run %s: %d archives in %s mode", runID, len(result.Archives), d.Mode)
	return result, nil
}

// Single exports one derivative. Only entitled callers may use it.
func (a *Adapter) Single(ctx context.Context, image []byte, family catalog.Family, label string, o catalog.Orientation, id entitlement.Identity) (*SingleResult, error) {
	if len(image) == 0 {
		return nil, failures.New(failures.KindInputMissing, "upload an image first")
	}
	if family == "" || label == "" {
		return nil, failures.New(failures.KindInputMissing, "choose a family and a size")
	}
	size, err := catalog.Lookup(family, label, o)
	if err != nil {
		return nil, failures.Wrap(failures.KindInputMissing, err, "%s has no size %q", family, label)
	}

	entitled, err := a.gate.Entitled(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entitled {
		return nil, failures.New(failures.KindFeatureLocked, "single-size export is a subscriber feature")
	}

	img, err := normalize.Load(image)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := a.builder.Derive(img, size.Width, size.Height, string(family), false)
	if err != nil {
		return nil, failures.Wrap(failures.KindInternal, err, "cannot render %s", size)
	}

	runID, dir, err := a.newRun()
	if err != nil {
		return nil, err
	}
	name := size.ExportName()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, failures.Wrap(failures.KindInternal, err, "cannot write %s", name)
	}
	log.Infof("run %s: exported %s", runID, name)
	return &SingleResult{RunID: runID, Path: path, Name: name, Size: size}, nil
}

// AsyncSubmit enqueues a remote image for the preset pack.
func (a *Adapter) AsyncSubmit(ctx context.Context, imageURL string, presets []string) (string, error) {
	if a.jobs == nil {
		return "", failures.New(failures.KindInternal, "async jobs are not configured")
	}
	return a.jobs.Submit(ctx, models.Payload{ImageURL: imageURL, Presets: presets})
}

// AsyncPoll returns the job's status record.
func (a *Adapter) AsyncPoll(ctx context.Context, jobID string) (*models.StatusResponse, error) {
	if a.jobs == nil {
		return nil, failures.New(failures.KindInternal, "async jobs are not configured")
	}
	if jobID == "" {
		return nil, failures.New(failures.KindInputMissing, "job id is required")
	}
	return a.jobs.Poll(ctx, jobID)
}

// Unlock exchanges a paid checkout session for the identity handle.
func (a *Adapter) Unlock(ctx context.Context, sessionID string) (string, error) {
	handle, err := a.gate.Unlock(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return handle, nil
}
