// Package runner turns queued jobs into uploaded preset archives.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cespare/xxhash/v2"

	"snaptosize/blob"
	"snaptosize/failures"
	"snaptosize/logger"
	"snaptosize/metrics"
	"snaptosize/models"
	"snaptosize/normalize"
	"snaptosize/pack"
)

// ContentType of uploaded archives.
const ContentType = "application/zip"

const (
	uploadRetries   = 3
	backoffBase     = 500 * time.Millisecond
	backoffJitter   = 0.2
	finalizeTimeout = 30 * time.Second
)

var log = logger.With("runner")

// Registry is what a runner needs from the job registry. The local store and
// the edge client both provide it.
type Registry interface {
	Claim(ctx context.Context, id string) (*models.Job, error)
	ClaimNext(ctx context.Context) (*models.Job, error)
	Finalize(ctx context.Context, id string, o models.Outcome) (*models.Job, error)
}

type Runner struct {
	registry Registry
	blobs    blob.Store
	builder  *pack.Builder
	fetcher  *Fetcher

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64 // uniform in [-1, 1)
}

func New(registry Registry, blobs blob.Store, builder *pack.Builder) *Runner {
	return &Runner{
		registry: registry,
		blobs:    blobs,
		builder:  builder,
		fetcher:  NewFetcher(),
		sleep:    sleepCtx,
		jitter:   func() float64 { return rand.Float64()*2 - 1 },
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Process runs a claimed job through every phase and always finalizes it.
// The returned error only reports a failed finalize.
func (r *Runner) Process(ctx context.Context, j *models.Job) (models.Outcome, error) {
	start := time.Now()
	log.Infof("processing job %s (%s)", j.ID, j.Payload.ImageURL)

	var outcome models.Outcome
	result, err := r.produce(ctx, j)
	if err != nil {
		outcome = models.Failed(err)
		log.Warnf("job %s failed after %s: %v", j.ID, time.Since(start).Round(time.Millisecond), err)
	} else {
		outcome = models.Done(*result)
		log.Infof("job %s done in %s: %d bytes at %s", j.ID, time.Since(start).Round(time.Millisecond), result.ZipBytes, result.StorageKey)
	}

	// A cancelled job still gets its terminal record.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if _, err := r.registry.Finalize(fctx, j.ID, outcome); err != nil {
		log.Errorf("failed to finalize job %s: %v", j.ID, err)
		return outcome, fmt.Errorf("finalize %s: %w", j.ID, err)
	}
	return outcome, nil
}

func (r *Runner) produce(ctx context.Context, j *models.Job) (*models.Result, error) {
	data, err := r.fetcher.Fetch(ctx, j.Payload.ImageURL)
	if err != nil {
		return nil, err
	}
	log.Debugf("job %s fetched %d bytes", j.ID, len(data))

	src, err := normalize.Decode(data)
	if err != nil {
		return nil, decodeError(err)
	}
	img := normalize.Normalize(src)
	log.Debugf("job %s decoded %s", j.ID, normalize.Describe(src))

	names := j.Payload.Presets
	if len(names) == 0 {
		names = pack.PresetNames()
	}
	archive, meta, err := r.builder.BuildPresets(ctx, img, names)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, failures.Wrap(failures.KindInternal, err, "cannot render presets")
	}
	metrics.ArchiveBytes.Observe(float64(len(archive)))

	key := blob.JobKey(j.ID)
	if err := r.upload(ctx, key, archive); err != nil {
		return nil, err
	}

	return &models.Result{
		Presets:    meta,
		StorageKey: key,
		ZipBytes:   int64(len(archive)),
		ZipHash:    fmt.Sprintf("%016x", xxhash.Sum64(archive)),
	}, nil
}

// decodeError moves normalizer failures into the runner's decode kinds.
func decodeError(err error) error {
	if failures.Is(err, failures.KindInputTooLarge) {
		return failures.New(failures.KindDecodeTooLarge, "%s", failures.Message(err))
	}
	return failures.Wrap(failures.KindDecodeFailed, err, "%s", failures.Message(err))
}

// upload makes one attempt plus uploadRetries retries with jittered exponential backoff.
func (r *Runner) upload(ctx context.Context, key string, data []byte) error {
	var err error
	attempts := 0
	for attempt := 0; attempt <= uploadRetries; attempt++ {
		if attempt > 0 {
			d := r.backoff(attempt - 1)
			log.Warnf("upload of %s failed (attempt %d), retrying in %s: %v", key, attempt, d, err)
			if serr := r.sleep(ctx, d); serr != nil {
				break
			}
		}
		attempts++
		err = r.blobs.Put(ctx, key, bytes.NewReader(data), ContentType)
		if err == nil {
			metrics.UploadAttempts.WithLabelValues("ok").Inc()
			return nil
		}
		metrics.UploadAttempts.WithLabelValues("failed").Inc()
		if ctx.Err() != nil {
			break
		}
	}
	return failures.Wrap(failures.KindUploadFailed, err, "upload to blob store failed after %d attempts", attempts)
}

func (r *Runner) backoff(n int) time.Duration {
	d := float64(backoffBase) * math.Pow(2, float64(n))
	return time.Duration(d * (1 + backoffJitter*r.jitter()))
}
