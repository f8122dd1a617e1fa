// Package blob stores finished archives and hands out time-limited download links.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"snaptosize/config"
	"snaptosize/logger"
	"snaptosize/pack"
	"snaptosize/utils"
)

var ErrNotFound = errors.New("blob not found")

var log = logger.With("blob")

// Store is the object store the runner uploads to and the edge signs links for.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// JobKey is where the runner puts a job's preset archive.
func JobKey(jobID string) string {
	return "jobs/" + jobID + "/" + pack.PresetArchiveName
}

// JobIDFromKey returns the job id embedded in a JobKey, or "" for other keys.
func JobIDFromKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) == 3 && parts[0] == "jobs" {
		return parts[1]
	}
	return ""
}

// validKey rejects keys that could escape a backend's root.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("invalid blob key %q", key)
		}
	}
	return nil
}

// EdgeSigner issues /download/{token} links for backends the edge streams itself.
type EdgeSigner struct {
	PublicURL string
	Secret    string
	now       func() time.Time
}

func NewEdgeSigner(publicURL, secret string) EdgeSigner {
	return EdgeSigner{PublicURL: strings.TrimRight(publicURL, "/"), Secret: secret, now: time.Now}
}

func (s EdgeSigner) URL(key string, ttl time.Duration) (string, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	token, err := utils.SignDownloadToken(s.Secret, JobIDFromKey(key), key, ttl, now())
	if err != nil {
		return "", err
	}
	return s.PublicURL + "/download/" + url.PathEscape(token), nil
}

// New builds the backend named by cfg.BlobBackend.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	signer := NewEdgeSigner(cfg.PublicURL, cfg.SigningSecret)
	switch cfg.BlobBackend {
	case "", "local":
		return NewLocal(cfg.BlobDir, signer)
	case "s3":
		return NewS3(cfg.S3)
	case "gcs":
		store, err := NewGCS(ctx, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("failed to set up GCS: %w", err)
		}
		return store, nil
	case "sftp":
		return NewSFTP(cfg.SFTP, signer), nil
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.BlobBackend)
	}
}
