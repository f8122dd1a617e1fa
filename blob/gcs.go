package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"snaptosize/config"
)

// GCS streams objects through a storage writer and signs V4 GET links.
type GCS struct {
	bucket string
	client *storage.Client
}

// decodeCredentials accepts base64 (the env form) or raw service account JSON.
func decodeCredentials(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, errors.New("gcs credentials are required")
	}
	if data, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		return data, nil
	}
	if data, err := base64.RawStdEncoding.DecodeString(encoded); err == nil {
		return data, nil
	}
	return []byte(encoded), nil
}

func NewGCS(ctx context.Context, cfg config.GCSConfig) (*GCS, error) {
	creds, err := decodeCredentials(cfg.CredentialsJSON)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx, option.WithCredentialsJSON(creds))
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCS{bucket: cfg.Bucket, client: client}, nil
}

func (g *GCS) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	if err := validKey(key); err != nil {
		return err
	}
	wc := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := io.Copy(wc, r); err != nil {
		wc.Close()
		return fmt.Errorf("io.Copy: %w", err)
	}
	// The object only becomes visible once Close succeeds.
	if err := wc.Close(); err != nil {
		return fmt.Errorf("Writer.Close: %w", err)
	}

	log.Infof("Successfully uploaded object '%s' to bucket '%s'", key, g.bucket)
	return nil
}

func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return rc, nil
}

func (g *GCS) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := g.client.Bucket(g.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign %s: %w", key, err)
	}
	return u, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
