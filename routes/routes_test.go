package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"snaptosize/blob"
	"snaptosize/config"
	"snaptosize/failures"
	"snaptosize/job"
	"snaptosize/kvstore"
	"snaptosize/models"
	"snaptosize/pack"
	"snaptosize/runner"
)

const testToken = "runner-secret"

type edgeEnv struct {
	edge  *Edge
	jobs  *job.Store
	blobs *blob.Local
	srv   *httptest.Server
}

func newEdgeEnv(t *testing.T) *edgeEnv {
	return startEdge(t, false)
}

// startEdge serves an edge on a pebble memory store with local blobs. With
// withRunner it also starts a runner that claims through the internal API
// and receives the edge's dispatches.
func startEdge(t *testing.T, withRunner bool) *edgeEnv {
	t.Helper()
	kv, err := kvstore.OpenMem()
	if err != nil {
		t.Fatalf("OpenMem failed: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	env := &edgeEnv{jobs: job.NewStore(kv)}
	cfg := config.Config{RunnerToken: testToken, SigningSecret: "sign", DownloadTTL: time.Hour}

	// the public URL is only known once the server is up
	mux := http.NewServeMux()
	env.srv = httptest.NewServer(mux)
	t.Cleanup(env.srv.Close)

	env.blobs, err = blob.NewLocal(t.TempDir(), blob.NewEdgeSigner(env.srv.URL, "sign"))
	if err != nil {
		t.Fatal(err)
	}

	if withRunner {
		r := runner.New(job.NewClient(env.srv.URL, testToken), env.blobs, pack.NewBuilder(2, nil))
		pool := runner.NewPool(r, 1, 50*time.Millisecond)
		ctx, cancel := context.WithCancel(context.Background())
		pool.Start(ctx)
		runnerSrv := httptest.NewServer(runner.NewRouter(pool, testToken))
		cfg.RunnerURL = runnerSrv.URL
		t.Cleanup(func() {
			cancel()
			pool.Wait()
			runnerSrv.Close()
		})
	}

	env.edge = NewEdge(cfg, env.jobs, env.blobs, HealthCheck{Name: "store", Check: kv.CheckHealth})
	mux.Handle("/", env.edge.Router())
	return env
}

func (e *edgeEnv) do(t *testing.T, method, path, auth string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, r)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeErrorBody(t *testing.T, resp *http.Response) failures.APIErrorDetail {
	t.Helper()
	var body failures.APIErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || len(body.Errors) != 1 {
		t.Fatalf("bad error body: %v %+v", err, body)
	}
	return body.Errors[0]
}

func TestEnqueueValidation(t *testing.T) {
	env := newEdgeEnv(t)
	cases := []models.Payload{
		{},
		{ImageURL: "ftp://example.com/a.jpg"},
		{ImageURL: "https://example.com/a.jpg", Presets: []string{"poster"}},
	}
	for _, p := range cases {
		resp := env.do(t, http.MethodPost, "/enqueue", "", p)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("payload %+v: expected 400, got %d", p, resp.StatusCode)
		}
	}

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/enqueue", strings.NewReader("{not json"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", resp.StatusCode)
	}
}

func TestForwardedForNeedsTrustProxy(t *testing.T) {
	e := &Edge{}
	echo := func(r chi.Router) {
		r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, r.RemoteAddr)
		})
	}
	ask := func() string {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.RemoteAddr = "192.0.2.10:4321"
		req.Header.Set("X-Forwarded-For", "198.51.100.1")
		rec := httptest.NewRecorder()
		e.Router(echo).ServeHTTP(rec, req)
		return rec.Body.String()
	}

	if got := ask(); got != "192.0.2.10:4321" {
		t.Errorf("untrusted header rewrote the address to %s", got)
	}
	e.TrustProxy = true
	if got := ask(); got != "198.51.100.1" {
		t.Errorf("expected the forwarded address, got %s", got)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	env := newEdgeEnv(t)
	resp := env.do(t, http.MethodGet, "/status/deadbeef", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if d := decodeErrorBody(t, resp); d.Code != string(failures.KindJobNotFound) {
		t.Errorf("unexpected code %s", d.Code)
	}
}

func TestInternalAPIRequiresToken(t *testing.T) {
	env := newEdgeEnv(t)
	if resp := env.do(t, http.MethodPost, "/internal/jobs/next", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/internal/jobs/next", "Bearer wrong", nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/internal/jobs/next", "Bearer "+testToken, nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 on empty queue, got %d", resp.StatusCode)
	}
}

func TestClientAgainstEdge(t *testing.T) {
	env := newEdgeEnv(t)
	ctx := context.Background()
	client := job.NewClient(env.srv.URL, testToken)

	queued, err := env.jobs.Enqueue(ctx, models.Payload{ImageURL: "https://example.com/a.jpg"})
	if err != nil {
		t.Fatal(err)
	}

	j, err := client.ClaimNext(ctx)
	if err != nil || j == nil || j.ID != queued.ID || j.Status != models.StatusRunning {
		t.Fatalf("unexpected claim %+v %v", j, err)
	}
	if _, err := client.Claim(ctx, queued.ID); !failures.Is(err, failures.KindProtocolError) {
		t.Errorf("expected protocol-error on second claim, got %v", err)
	}
	if _, err := client.Claim(ctx, "missing"); !failures.Is(err, failures.KindJobNotFound) {
		t.Errorf("expected job-not-found, got %v", err)
	}

	out := models.Failed(failures.New(failures.KindFetchFailed, "image host returned 500"))
	done, err := client.Finalize(ctx, queued.ID, out)
	if err != nil || done.Status != models.StatusError || done.Error.Kind != failures.KindFetchFailed {
		t.Fatalf("unexpected finalize %+v %v", done, err)
	}
	if _, err := client.Finalize(ctx, queued.ID, out); !failures.Is(err, failures.KindProtocolError) {
		t.Errorf("expected terminal record to be immutable, got %v", err)
	}
	if j, _ := client.ClaimNext(ctx); j != nil {
		t.Errorf("expected empty queue, got %+v", j)
	}
}

func TestDownloadRejectsBadToken(t *testing.T) {
	env := newEdgeEnv(t)
	resp := env.do(t, http.MethodGet, "/download/not-a-token", "", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

func TestHealthVersionSizes(t *testing.T) {
	env := newEdgeEnv(t)

	resp := env.do(t, http.MethodGet, "/health", "", nil)
	var health HealthResponse
	json.NewDecoder(resp.Body).Decode(&health)
	if resp.StatusCode != http.StatusOK || health.Status != "healthy" || health.Checks["store"] != "ok" {
		t.Errorf("unexpected health %d %+v", resp.StatusCode, health)
	}

	resp = env.do(t, http.MethodGet, "/version", "", nil)
	var v VersionResponse
	json.NewDecoder(resp.Body).Decode(&v)
	if v.GoVersion == "" || v.Version == "" {
		t.Errorf("unexpected version %+v", v)
	}

	resp = env.do(t, http.MethodGet, "/api/sizes?family=2x3&orientation=landscape", "", nil)
	var sizes []SizeInfo
	json.NewDecoder(resp.Body).Decode(&sizes)
	if len(sizes) != 6 || sizes[0].FileName != "6x4in_1800x1200.jpg" {
		t.Errorf("unexpected sizes %+v", sizes)
	}

	resp = env.do(t, http.MethodGet, "/api/sizes?family=5x5", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown family, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/metrics", "", nil)
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "snaptosize_jobs_enqueued_total") {
		t.Error("expected job counters on /metrics")
	}
}

func TestHealthReportsFailingCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(HealthCheck{Name: "store", Check: func() error { return io.ErrClosedPipe }})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestFormatUptime(t *testing.T) {
	got := formatUptime(26*time.Hour + 3*time.Minute + 4*time.Second)
	if got != "1d 2h 3m 4s" {
		t.Errorf("unexpected uptime %q", got)
	}
}

func sourceServer(t *testing.T, w, h int) *httptest.Server {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 3), uint8(y * 5), 128, 255})
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/forbidden.png" {
			rw.WriteHeader(http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "image/png")
		rw.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitTerminal(t *testing.T, env *edgeEnv, id string) models.StatusResponse {
	t.Helper()
	deadline := time.Now().Add(60 * time.Second)
	for {
		resp := env.do(t, http.MethodGet, "/status/"+id, "", nil)
		var st models.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if st.Status.Terminal() {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s still %s", id, st.Status)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestAsyncHappyPath(t *testing.T) {
	if testing.Short() {
		t.Skip("renders a 6000px preset")
	}
	env := startEdge(t, true)
	src := sourceServer(t, 300, 200)

	resp := env.do(t, http.MethodPost, "/enqueue", "", models.Payload{
		ImageURL: src.URL + "/photo.png",
		Presets:  []string{"thumb_1024", "etsy_3000px", "etsy_6000px"},
	})
	var enq models.EnqueueResponse
	if err := json.NewDecoder(resp.Body).Decode(&enq); err != nil || enq.JobID == "" {
		t.Fatalf("enqueue failed: %d %v", resp.StatusCode, err)
	}

	st := waitTerminal(t, env, enq.JobID)
	if st.Status != models.StatusDone {
		t.Fatalf("expected done, got %s %+v", st.Status, st.Error)
	}
	widths := []int{1024, 3000, 6000}
	if len(st.Result.Presets) != 3 {
		t.Fatalf("expected 3 presets, got %+v", st.Result.Presets)
	}
	for i, m := range st.Result.Presets {
		if m.Width != widths[i] {
			t.Errorf("preset %s: expected width %d, got %d", m.Name, widths[i], m.Width)
		}
	}
	if st.Result.StorageKey != "jobs/"+enq.JobID+"/etsy_pack_v1.zip" {
		t.Errorf("unexpected key %s", st.Result.StorageKey)
	}
	if !strings.HasPrefix(st.DownloadURL, env.srv.URL+"/download/") {
		t.Fatalf("unexpected download url %q", st.DownloadURL)
	}

	dl, err := http.Get(st.DownloadURL)
	if err != nil {
		t.Fatal(err)
	}
	defer dl.Body.Close()
	data, _ := io.ReadAll(dl.Body)
	if dl.StatusCode != http.StatusOK || dl.Header.Get("Content-Type") != "application/zip" {
		t.Fatalf("unexpected download %d %s", dl.StatusCode, dl.Header.Get("Content-Type"))
	}
	entries, err := pack.Unzip(data)
	if err != nil || len(entries) != 3 {
		t.Fatalf("unexpected archive: %v %d", err, len(entries))
	}
	for i, e := range entries {
		if e.Name != st.Result.Presets[i].Name+".jpg" {
			t.Errorf("entry %d named %s", i, e.Name)
		}
		if _, err := jpeg.DecodeConfig(bytes.NewReader(e.Data)); err != nil {
			t.Errorf("entry %s is not a JPEG: %v", e.Name, err)
		}
	}

	etag := dl.Header.Get("ETag")
	if etag != `"`+st.Result.ZipHash+`"` {
		t.Errorf("expected ETag from zip hash, got %q", etag)
	}
	req, _ := http.NewRequest(http.MethodGet, st.DownloadURL, nil)
	req.Header.Set("If-None-Match", etag)
	again, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	again.Body.Close()
	if again.StatusCode != http.StatusNotModified {
		t.Errorf("expected 304, got %d", again.StatusCode)
	}
}

func TestAsyncForbiddenSource(t *testing.T) {
	env := startEdge(t, true)
	src := sourceServer(t, 10, 10)

	j, err := env.jobs.Enqueue(context.Background(), models.Payload{ImageURL: src.URL + "/forbidden.png"})
	if err != nil {
		t.Fatal(err)
	}
	st := waitTerminal(t, env, j.ID)
	if st.Status != models.StatusError || st.Error.Kind != failures.KindImageForbidden {
		t.Fatalf("expected image-forbidden-by-host, got %s %+v", st.Status, st.Error)
	}
	if st.DownloadURL != "" {
		t.Error("failed jobs must not carry a download url")
	}
	if _, err := env.blobs.Open(context.Background(), blob.JobKey(j.ID)); err != blob.ErrNotFound {
		t.Errorf("expected no uploaded blob, got %v", err)
	}
}

func TestClientSubmitPoll(t *testing.T) {
	env := newEdgeEnv(t)
	ctx := context.Background()
	client := job.NewClient(env.srv.URL, "")

	id, err := client.Submit(ctx, models.Payload{ImageURL: "https://example.com/b.png", Presets: []string{"thumb_1024"}})
	if err != nil || id == "" {
		t.Fatalf("Submit failed: %q %v", id, err)
	}
	st, err := client.Poll(ctx, id)
	if err != nil || st.Status != models.StatusQueued || st.DownloadURL != "" {
		t.Errorf("unexpected status %+v %v", st, err)
	}
	if _, err := client.Submit(ctx, models.Payload{ImageURL: "nope"}); !failures.Is(err, failures.KindInputUnsupported) {
		t.Errorf("expected input-unsupported, got %v", err)
	}
	if _, err := client.Poll(ctx, "missing"); !failures.Is(err, failures.KindJobNotFound) {
		t.Errorf("expected job-not-found, got %v", err)
	}
}
