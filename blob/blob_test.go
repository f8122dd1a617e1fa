package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"snaptosize/config"
	"snaptosize/utils"
)

func TestJobKey(t *testing.T) {
	key := JobKey("abc123")
	if key != "jobs/abc123/etsy_pack_v1.zip" {
		t.Fatalf("unexpected key %q", key)
	}
	if id := JobIDFromKey(key); id != "abc123" {
		t.Errorf("expected abc123, got %q", id)
	}
	if id := JobIDFromKey("other/thing"); id != "" {
		t.Errorf("expected empty id, got %q", id)
	}
}

func TestValidKey(t *testing.T) {
	for _, key := range []string{"", "/abs", "jobs/../x", "jobs//x", "./x"} {
		if validKey(key) == nil {
			t.Errorf("expected %q to be rejected", key)
		}
	}
	if err := validKey("jobs/a/b.zip"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLocalPutOpen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir, NewEdgeSigner("http://edge.test", "secret"))
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	ctx := context.Background()
	key := JobKey("job1")

	if _, err := store.Open(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Put(ctx, key, bytes.NewReader([]byte("zipdata")), "application/zip"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rc, err := store.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "zipdata" {
		t.Errorf("unexpected content %q", data)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "jobs", "job1"))
	if len(entries) != 1 {
		t.Errorf("expected only the archive in the job dir, got %d entries", len(entries))
	}
}

func TestLocalPutCancelledLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewLocal(dir, NewEdgeSigner("http://edge.test", "secret"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, JobKey("job2"), strings.NewReader("data"), "application/zip"); err == nil {
		t.Fatal("expected error for cancelled put")
	}
	if _, err := store.Open(context.Background(), JobKey("job2")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no blob after cancelled put, got %v", err)
	}
}

func TestLocalSignedURL(t *testing.T) {
	store, _ := NewLocal(t.TempDir(), NewEdgeSigner("http://edge.test/", "secret"))
	link, err := store.SignedURL(context.Background(), JobKey("job3"), time.Hour)
	if err != nil {
		t.Fatalf("SignedURL failed: %v", err)
	}
	prefix := "http://edge.test/download/"
	if !strings.HasPrefix(link, prefix) {
		t.Fatalf("unexpected link %q", link)
	}
	token, _ := url.PathUnescape(strings.TrimPrefix(link, prefix))
	claims, err := utils.VerifyDownloadToken(token, utils.VerifyConfig{Secret: "secret", ExpectedIssuer: utils.DownloadIssuer}, time.Now())
	if err != nil {
		t.Fatalf("token did not verify: %v", err)
	}
	if claims.Key != JobKey("job3") || claims.Subject != "job3" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestS3SignedURL(t *testing.T) {
	store, err := NewS3(config.S3Config{
		Bucket:    "packs",
		Region:    "us-east-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3 failed: %v", err)
	}
	link, err := store.SignedURL(context.Background(), JobKey("job4"), 15*time.Minute)
	if err != nil {
		t.Fatalf("SignedURL failed: %v", err)
	}
	if !strings.Contains(link, "/packs/jobs/job4/etsy_pack_v1.zip") {
		t.Errorf("expected path-style object URL, got %s", link)
	}
	if !strings.Contains(link, "X-Amz-Signature=") {
		t.Errorf("expected a presigned URL, got %s", link)
	}
}

func TestNewDispatch(t *testing.T) {
	cfg := config.Config{BlobBackend: "local", BlobDir: t.TempDir(), PublicURL: "http://edge.test", SigningSecret: "s"}
	store, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := store.(*Local); !ok {
		t.Errorf("expected *Local, got %T", store)
	}

	cfg.BlobBackend = "ftp"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("expected error for unknown backend")
	}

	cfg.BlobBackend = "sftp"
	if _, err := New(context.Background(), cfg); err != nil {
		t.Errorf("sftp backend should build lazily: %v", err)
	}
}

func TestDecodeCredentials(t *testing.T) {
	raw := `{"type":"service_account"}`
	for _, in := range []string{raw, "eyJ0eXBlIjoic2VydmljZV9hY2NvdW50In0="} {
		out, err := decodeCredentials(in)
		if err != nil || string(out) != raw {
			t.Errorf("decodeCredentials(%q) = %q, %v", in, out, err)
		}
	}
	if _, err := decodeCredentials(""); err == nil {
		t.Error("expected error for empty credentials")
	}
}
