package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"snaptosize/blob"
	"snaptosize/failures"
	"snaptosize/job"
	"snaptosize/kvstore"
	"snaptosize/models"
	"snaptosize/pack"
)

// memBlobs fails the first failPuts uploads.
type memBlobs struct {
	mu       sync.Mutex
	failPuts int
	puts     int
	objects  map[string][]byte
	types    map[string]string
}

func newMemBlobs(failPuts int) *memBlobs {
	return &memBlobs{failPuts: failPuts, objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failPuts > 0 {
		m.failPuts--
		return errors.New("503 slow down")
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memBlobs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobs) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "mem://" + key, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// imageServer serves /ok.png, /forbidden, /missing and /text.
func imageServer(t *testing.T, w, h int) *httptest.Server {
	t.Helper()
	data := pngBytes(t, w, h)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "Mozilla/5.0") {
			rw.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/ok.png":
			rw.Header().Set("Content-Type", "image/png")
			rw.Write(data)
		case "/redirect":
			http.Redirect(rw, r, "/ok.png", http.StatusFound)
		case "/forbidden":
			rw.WriteHeader(http.StatusForbidden)
		case "/text":
			rw.Write([]byte("hello, not an image"))
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	runner *Runner
	store  *job.Store
	blobs  *memBlobs
	sleeps []time.Duration
}

func newEnv(t *testing.T, failPuts int) *testEnv {
	t.Helper()
	kv, err := kvstore.OpenMem()
	if err != nil {
		t.Fatalf("OpenMem failed: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	env := &testEnv{store: job.NewStore(kv), blobs: newMemBlobs(failPuts)}
	env.runner = New(env.store, env.blobs, pack.NewBuilder(1, nil))
	env.runner.sleep = func(ctx context.Context, d time.Duration) error {
		env.sleeps = append(env.sleeps, d)
		return ctx.Err()
	}
	env.runner.jitter = func() float64 { return 0 }
	return env
}

func (e *testEnv) claim(t *testing.T, imageURL string, presets ...string) *models.Job {
	t.Helper()
	ctx := context.Background()
	queued, err := e.store.Enqueue(ctx, models.Payload{ImageURL: imageURL, Presets: presets})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	j, err := e.store.Claim(ctx, queued.ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	return j
}

func TestProcessThumbnail(t *testing.T) {
	srv := imageServer(t, 400, 300)
	env := newEnv(t, 0)
	j := env.claim(t, srv.URL+"/redirect", "thumb_1024")

	outcome, err := env.runner.Process(context.Background(), j)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome.Error != nil {
		t.Fatalf("unexpected job error: %+v", outcome.Error)
	}

	rec, _ := env.store.Status(context.Background(), j.ID)
	if rec.Status != models.StatusDone {
		t.Fatalf("expected done, got %s", rec.Status)
	}
	res := rec.Result
	if res.StorageKey != "jobs/"+j.ID+"/etsy_pack_v1.zip" {
		t.Errorf("unexpected storage key %s", res.StorageKey)
	}
	if len(res.Presets) != 1 || res.Presets[0].Width != 1024 || res.Presets[0].Height != 768 {
		t.Errorf("unexpected preset meta %+v", res.Presets)
	}
	if len(res.ZipHash) != 16 {
		t.Errorf("expected 16 hex hash chars, got %q", res.ZipHash)
	}

	data := env.blobs.objects[res.StorageKey]
	if int64(len(data)) != res.ZipBytes {
		t.Errorf("zip_bytes %d does not match uploaded %d", res.ZipBytes, len(data))
	}
	if env.blobs.types[res.StorageKey] != "application/zip" {
		t.Errorf("unexpected content type %q", env.blobs.types[res.StorageKey])
	}
	entries, err := pack.Unzip(data)
	if err != nil || len(entries) != 1 || entries[0].Name != "thumb_1024.jpg" {
		t.Fatalf("unexpected archive entries %v %v", entries, err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(entries[0].Data))
	if err != nil || cfg.Width != 1024 || cfg.Height != 768 {
		t.Errorf("unexpected jpeg %+v %v", cfg, err)
	}
}

func TestProcessForbiddenUploadsNothing(t *testing.T) {
	srv := imageServer(t, 10, 10)
	env := newEnv(t, 0)
	j := env.claim(t, srv.URL+"/forbidden", "thumb_1024")

	outcome, err := env.runner.Process(context.Background(), j)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome.Error == nil || outcome.Error.Kind != failures.KindImageForbidden {
		t.Fatalf("expected image-forbidden-by-host, got %+v", outcome)
	}
	rec, _ := env.store.Status(context.Background(), j.ID)
	if rec.Status != models.StatusError || rec.Error.Kind != failures.KindImageForbidden {
		t.Errorf("unexpected record %+v", rec)
	}
	if env.blobs.puts != 0 {
		t.Errorf("expected no uploads, got %d", env.blobs.puts)
	}
}

func TestProcessErrorKinds(t *testing.T) {
	srv := imageServer(t, 10, 10)
	cases := []struct {
		path string
		kind failures.Kind
	}{
		{"/missing", failures.KindFetchFailed},
		{"/text", failures.KindDecodeFailed},
	}
	for _, c := range cases {
		env := newEnv(t, 0)
		j := env.claim(t, srv.URL+c.path, "thumb_1024")
		outcome, err := env.runner.Process(context.Background(), j)
		if err != nil {
			t.Fatalf("%s: Process failed: %v", c.path, err)
		}
		if outcome.Error == nil || outcome.Error.Kind != c.kind {
			t.Errorf("%s: expected %s, got %+v", c.path, c.kind, outcome.Error)
		}
	}
}

func TestFetchBodyCap(t *testing.T) {
	srv := imageServer(t, 64, 64)
	f := NewFetcher()
	f.MaxBytes = 100
	_, err := f.Fetch(context.Background(), srv.URL+"/ok.png")
	if !failures.Is(err, failures.KindDecodeTooLarge) {
		t.Errorf("expected decode-too-large, got %v", err)
	}
}

func TestDecodeErrorMapping(t *testing.T) {
	big := decodeError(failures.New(failures.KindInputTooLarge, "image is 20000x10 pixels"))
	if !failures.Is(big, failures.KindDecodeTooLarge) {
		t.Errorf("expected decode-too-large, got %v", big)
	}
	bad := decodeError(failures.New(failures.KindInputUnsupported, "HEIC images are not supported"))
	if !failures.Is(bad, failures.KindDecodeFailed) || failures.Message(bad) != "HEIC images are not supported" {
		t.Errorf("expected decode-failed keeping the message, got %v", bad)
	}
}

func TestUploadRetriesWithBackoff(t *testing.T) {
	srv := imageServer(t, 200, 100)
	env := newEnv(t, 2)
	j := env.claim(t, srv.URL+"/ok.png", "thumb_1024")

	outcome, err := env.runner.Process(context.Background(), j)
	if err != nil || outcome.Error != nil {
		t.Fatalf("expected success after retries, got %+v %v", outcome.Error, err)
	}
	if env.blobs.puts != 3 {
		t.Errorf("expected 3 attempts, got %d", env.blobs.puts)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(env.sleeps) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, env.sleeps)
	}
	for i := range want {
		if env.sleeps[i] != want[i] {
			t.Errorf("sleep %d: expected %s, got %s", i, want[i], env.sleeps[i])
		}
	}
}

func TestUploadGivesUpAfterThreeRetries(t *testing.T) {
	srv := imageServer(t, 200, 100)
	env := newEnv(t, 10)
	j := env.claim(t, srv.URL+"/ok.png", "thumb_1024")

	outcome, _ := env.runner.Process(context.Background(), j)
	if outcome.Error == nil || outcome.Error.Kind != failures.KindUploadFailed {
		t.Fatalf("expected upload-failed, got %+v", outcome)
	}
	if env.blobs.puts != 4 {
		t.Errorf("expected 1 attempt plus 3 retries, got %d", env.blobs.puts)
	}
	if len(env.blobs.objects) != 0 {
		t.Error("no object should be stored")
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	r := &Runner{jitter: func() float64 { return -1 }}
	if d := r.backoff(0); d != 400*time.Millisecond {
		t.Errorf("expected 400ms at -20%%, got %s", d)
	}
	r.jitter = func() float64 { return 1 }
	if d := r.backoff(2); d != 2400*time.Millisecond {
		t.Errorf("expected 2.4s at +20%%, got %s", d)
	}
}

func TestPoolDrainsQueue(t *testing.T) {
	srv := imageServer(t, 120, 80)
	env := newEnv(t, 0)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		j, err := env.store.Enqueue(ctx, models.Payload{ImageURL: srv.URL + "/ok.png", Presets: []string{"thumb_1024"}})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, j.ID)
	}

	pool := NewPool(env.runner, 2, 10*time.Millisecond)
	runCtx, cancel := context.WithCancel(ctx)
	pool.Start(runCtx)
	pool.Notify(ids[0])

	deadline := time.Now().Add(20 * time.Second)
	for {
		done := 0
		for _, id := range ids {
			rec, _ := env.store.Status(ctx, id)
			if rec.Status.Terminal() {
				done++
			}
		}
		if done == len(ids) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d jobs finished", done, len(ids))
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	pool.Wait()

	for _, id := range ids {
		rec, _ := env.store.Status(ctx, id)
		if rec.Status != models.StatusDone {
			t.Errorf("job %s ended %s", id, rec.Status)
		}
	}
}

func TestGenerateAuth(t *testing.T) {
	env := newEnv(t, 0)
	pool := NewPool(env.runner, 1, time.Hour)
	h := NewRouter(pool, "token")

	body, _ := json.Marshal(models.Job{ID: "abc"})
	cases := []struct {
		auth string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"Token abc", http.StatusUnauthorized},
		{"Bearer nope", http.StatusForbidden},
		{"Bearer token", http.StatusAccepted},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader(body))
		if c.auth != "" {
			req.Header.Set("Authorization", c.auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Errorf("auth %q: expected %d, got %d", c.auth, c.want, rec.Code)
		}
	}

	select {
	case id := <-pool.notify:
		if id != "abc" {
			t.Errorf("expected abc to be queued, got %s", id)
		}
	default:
		t.Error("expected the accepted dispatch to notify a worker")
	}
}

func TestGenerateRejectsBadBody(t *testing.T) {
	env := newEnv(t, 0)
	h := NewRouter(NewPool(env.runner, 1, time.Hour), "token")
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
