// Package job is the durable registry of asynchronous pack jobs.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"snaptosize/failures"
	"snaptosize/kvstore"
	"snaptosize/logger"
	"snaptosize/metrics"
	"snaptosize/models"
	"snaptosize/pack"
	"snaptosize/utils"
)

const (
	jobPrefix   = "job/"
	queuePrefix = "queue/"
)

var log = logger.With("registry")

// Store keeps job records in a kvstore. Records live under "job/<id>"; queued
// jobs also have an index entry "queue/<created_ns>/<id>" that is removed in
// the same batch as the claim.
type Store struct {
	kv    kvstore.Store
	now   func() time.Time
	newID func() (string, error)
}

// NewStore wraps kv. Ids are 128-bit random hex.
func NewStore(kv kvstore.Store) *Store {
	return &Store{
		kv:    kv,
		now:   time.Now,
		newID: func() (string, error) { return utils.GenerateRandomHex(16) },
	}
}

func jobKey(id string) string {
	return jobPrefix + id
}

func queueKey(j *models.Job) string {
	return fmt.Sprintf("%s%020d/%s", queuePrefix, j.CreatedAt.UnixNano(), j.ID)
}

// ValidatePayload checks an enqueue request and fills in the default preset list.
func ValidatePayload(p *models.Payload) error {
	p.ImageURL = strings.TrimSpace(p.ImageURL)
	if p.ImageURL == "" {
		return failures.New(failures.KindInputMissing, "image_url is required")
	}
	u, err := url.Parse(p.ImageURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return failures.New(failures.KindInputUnsupported, "image_url must be an absolute http(s) URL")
	}
	if len(p.Presets) == 0 {
		p.Presets = pack.PresetNames()
		return nil
	}
	seen := make(map[string]bool, len(p.Presets))
	for _, name := range p.Presets {
		if _, ok := pack.LookupPreset(name); !ok {
			return failures.New(failures.KindInputUnsupported, "unknown preset %q", name)
		}
		if seen[name] {
			return failures.New(failures.KindInputUnsupported, "duplicate preset %q", name)
		}
		seen[name] = true
	}
	return nil
}

// Enqueue persists a new queued job and returns its id. Identical payloads
// produce distinct jobs.
func (s *Store) Enqueue(ctx context.Context, p models.Payload) (*models.Job, error) {
	if err := ValidatePayload(&p); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	now := s.now().UTC()
	j := &models.Job{
		ID:        id,
		Status:    models.StatusQueued,
		Payload:   p,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := s.kv.Apply([]kvstore.Op{
		{Key: jobKey(id), Value: data},
		{Key: queueKey(j), Value: []byte(id)},
	}); err != nil {
		return nil, fmt.Errorf("store job %s: %w", id, err)
	}
	metrics.JobsEnqueued.Inc()
	log.Infof("enqueued job %s (%d presets)", id, len(p.Presets))
	return j, nil
}

// Status returns the current record of a job.
func (s *Store) Status(ctx context.Context, id string) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.kv.Get(jobKey(id))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, failures.New(failures.KindJobNotFound, "job %s not found", id)
		}
		return nil, fmt.Errorf("read job %s: %w", id, err)
	}
	var j models.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

// transition applies fn to the record of id under the store's compare-and-set.
func (s *Store) transition(id string, fn func(j *models.Job) ([]kvstore.Op, error)) (*models.Job, error) {
	var out *models.Job
	err := s.kv.Update(jobKey(id), func(cur []byte) ([]byte, []kvstore.Op, error) {
		if cur == nil {
			return nil, nil, failures.New(failures.KindJobNotFound, "job %s not found", id)
		}
		var j models.Job
		if err := json.Unmarshal(cur, &j); err != nil {
			return nil, nil, fmt.Errorf("decode job %s: %w", id, err)
		}
		extra, err := fn(&j)
		if err != nil {
			return nil, nil, err
		}
		j.UpdatedAt = s.now().UTC()
		next, err := json.Marshal(&j)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal job %s: %w", id, err)
		}
		out = &j
		return next, extra, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Claim moves a queued job to running. At most one caller wins.
func (s *Store) Claim(ctx context.Context, id string) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j, err := s.transition(id, func(j *models.Job) ([]kvstore.Op, error) {
		if j.Status != models.StatusQueued {
			return nil, failures.New(failures.KindProtocolError, "job %s is %s, not queued", id, j.Status)
		}
		j.Status = models.StatusRunning
		return []kvstore.Op{{Key: queueKey(j), Delete: true}}, nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("job %s claimed", id)
	return j, nil
}

// ClaimNext claims the oldest queued job. It returns nil, nil when the queue is empty.
func (s *Store) ClaimNext(ctx context.Context) (*models.Job, error) {
	var ids []string
	if err := s.kv.Scan(queuePrefix, func(_ string, value []byte) bool {
		ids = append(ids, string(value))
		return len(ids) < 16
	}); err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}
	for _, id := range ids {
		j, err := s.Claim(ctx, id)
		if err == nil {
			return j, nil
		}
		// lost the race to another claimer
		if failures.Is(err, failures.KindProtocolError) || failures.Is(err, failures.KindJobNotFound) {
			continue
		}
		return nil, err
	}
	return nil, nil
}

// Finalize moves a running job to done or error. Terminal records never change.
func (s *Store) Finalize(ctx context.Context, id string, o models.Outcome) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if (o.Result == nil) == (o.Error == nil) {
		return nil, failures.New(failures.KindProtocolError, "outcome must carry exactly one of result or error")
	}
	j, err := s.transition(id, func(j *models.Job) ([]kvstore.Op, error) {
		if j.Status != models.StatusRunning {
			return nil, failures.New(failures.KindProtocolError, "job %s is %s, not running", id, j.Status)
		}
		j.Status = o.Status()
		j.Result = o.Result
		j.Error = o.Error
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	kind := ""
	if j.Error != nil {
		kind = string(j.Error.Kind)
	}
	metrics.JobsFinished.WithLabelValues(string(j.Status), kind).Inc()
	log.Infof("job %s finalized as %s", id, j.Status)
	return j, nil
}

// QueueDepth counts queued jobs.
func (s *Store) QueueDepth() (int, error) {
	n := 0
	err := s.kv.Scan(queuePrefix, func(string, []byte) bool {
		n++
		return true
	})
	return n, err
}
