package frontend

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"snaptosize/catalog"
	"snaptosize/entitlement"
	"snaptosize/failures"
	"snaptosize/models"
	"snaptosize/normalize"
	"snaptosize/utils"
)

const (
	sessionCookie = "sts_session"
	browserCookie = "sts_browser"
	cookieMaxAge  = 365 * 24 * time.Hour

	maxUploadBytes = normalize.MaxInputBytes + 1<<20
	maxMemory      = 32 << 20
)

// Server is the HTTP binding used by the web UI.
type Server struct {
	adapter *Adapter
	// secret signs the session cookie.
	secret string
	// SecureCookies marks identity cookies Secure; set it behind TLS.
	SecureCookies bool
	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool

	now func() time.Time
}

func NewServer(a *Adapter, secret string) *Server {
	return &Server{adapter: a, secret: secret, now: time.Now}
}

// Router serves the UI API on its own.
func (s *Server) Router(origins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(utils.CORS(origins))
	s.Register(r)
	return r
}

// Register adds the UI endpoints to r.
func (s *Server) Register(r chi.Router) {
	r.Post("/api/batch", s.BatchHandler)
	r.Post("/api/single", s.SingleHandler)
	r.Get("/api/runs/{runID}/{file}", s.RunFileHandler)
	r.Post("/api/async", s.AsyncSubmitHandler)
	r.Get("/api/async/{jobID}", s.AsyncPollHandler)
	r.Get("/api/unlock", s.UnlockHandler)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// identityFrom reads the caller's identity from cookies and the client address.
// A session cookie that fails verification is ignored.
func (s *Server) identityFrom(r *http.Request) entitlement.Identity {
	id := entitlement.Identity{ClientIP: clientIP(r)}
	if c, err := r.Cookie(sessionCookie); err == nil {
		handle, err := utils.VerifySessionToken(c.Value, s.secret, s.now())
		if err != nil {
			log.Infof("ignoring session cookie from %s: %v", id.ClientIP, err)
		} else {
			id.SessionToken = handle
		}
	}
	if c, err := r.Cookie(browserCookie); err == nil {
		id.BrowserToken = c.Value
	}
	return id
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// parseUpload reads the multipart form and the "image" file.
func parseUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, failures.New(failures.KindInputTooLarge, "upload is larger than %d MiB", normalize.MaxInputBytes>>20)
		}
		return nil, failures.Wrap(failures.KindInputMissing, err, "expected a multipart form with an image")
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, failures.New(failures.KindInputMissing, "upload an image first")
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, normalize.MaxInputBytes+1))
	if err != nil {
		return nil, failures.Wrap(failures.KindInputMissing, err, "cannot read upload")
	}
	return data, nil
}

// formList accepts repeated fields and comma separated values.
func formList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.Form[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseOrientation(r *http.Request) (catalog.Orientation, error) {
	o, err := catalog.ParseOrientation(r.FormValue("orientation"))
	if err != nil {
		return "", failures.New(failures.KindInputUnsupported, "orientation must be portrait or landscape")
	}
	return o, nil
}

type archiveLink struct {
	ArchiveFile
	URL string `json:"url"`
}

// BatchResponse lists the archives of a finished batch.
type BatchResponse struct {
	RunID       string        `json:"run_id"`
	Mode        string        `json:"mode"`
	Watermarked bool          `json:"watermarked"`
	Archives    []archiveLink `json:"archives"`
}

func runURL(runID, name string) string {
	return "/api/runs/" + runID + "/" + name
}

// BatchHandler takes multipart "image", "families" and "orientation".
func (s *Server) BatchHandler(w http.ResponseWriter, r *http.Request) {
	data, err := parseUpload(w, r)
	if err != nil {
		failures.WriteJSON(w, err)
		return
	}
	var families []catalog.Family
	for _, name := range formList(r, "families") {
		f, err := catalog.ParseFamily(name)
		if err != nil {
			failures.WriteJSON(w, failures.New(failures.KindInputUnsupported, "unknown family %q", name))
			return
		}
		families = append(families, f)
	}
	o, err := parseOrientation(r)
	if err != nil {
		failures.WriteJSON(w, err)
		return
	}

	res, err := s.adapter.Batch(r.Context(), data, families, o, s.identityFrom(r))
	if err != nil {
		log.Infof("batch failed: %v", err)
		failures.WriteJSON(w, err)
		return
	}
	if res.Decision.Token != "" {
		s.setCookie(w, browserCookie, res.Decision.Token)
	}

	resp := BatchResponse{
		RunID:       res.RunID,
		Mode:        string(res.Decision.Mode),
		Watermarked: res.Decision.Watermarked(),
	}
	for _, a := range res.Archives {
		resp.Archives = append(resp.Archives, archiveLink{ArchiveFile: a, URL: runURL(res.RunID, a.Name)})
	}
	writeJSON(w, http.StatusOK, resp)
}

// SingleResponse names the exported file.
type SingleResponse struct {
	RunID  string `json:"run_id"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// SingleHandler takes multipart "image", "family", "size" and "orientation".
func (s *Server) SingleHandler(w http.ResponseWriter, r *http.Request) {
	data, err := parseUpload(w, r)
	if err != nil {
		failures.WriteJSON(w, err)
		return
	}
	var family catalog.Family
	if name := strings.TrimSpace(r.FormValue("family")); name != "" {
		f, err := catalog.ParseFamily(name)
		if err != nil {
			failures.WriteJSON(w, failures.New(failures.KindInputUnsupported, "unknown family %q", name))
			return
		}
		family = f
	}
	o, err := parseOrientation(r)
	if err != nil {
		failures.WriteJSON(w, err)
		return
	}

	res, err := s.adapter.Single(r.Context(), data, family, strings.TrimSpace(r.FormValue("size")), o, s.identityFrom(r))
	if err != nil {
		failures.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SingleResponse{
		RunID:  res.RunID,
		Name:   res.Name,
		Width:  res.Size.Width,
		Height: res.Size.Height,
		URL:    runURL(res.RunID, res.Name),
	})
}

// RunFileHandler serves a file written by a batch or single export.
func (s *Server) RunFileHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	path, err := s.adapter.RunPath(chi.URLParam(r, "runID"), name)
	if err != nil {
		failures.WriteJSON(w, err)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		failures.WriteJSON(w, failures.New(failures.KindJobNotFound, "file not found or expired"))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		failures.WriteJSON(w, failures.New(failures.KindJobNotFound, "file not found or expired"))
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// AsyncSubmitHandler enqueues {image_url, presets}.
func (s *Server) AsyncSubmitHandler(w http.ResponseWriter, r *http.Request) {
	var p models.Payload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&p); err != nil {
		failures.WriteJSON(w, failures.New(failures.KindInputMissing, "request body must be {image_url, presets}"))
		return
	}
	id, err := s.adapter.AsyncSubmit(r.Context(), p.ImageURL, p.Presets)
	if err != nil {
		failures.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.EnqueueResponse{JobID: id})
}

func (s *Server) AsyncPollHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.adapter.AsyncPoll(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		failures.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// UnlockResponse confirms a paid checkout.
type UnlockResponse struct {
	Unlocked bool   `json:"unlocked"`
	Handle   string `json:"handle"`
}

// UnlockHandler verifies ?session_id= and stores the signed handle in the session cookie.
func (s *Server) UnlockHandler(w http.ResponseWriter, r *http.Request) {
	handle, err := s.adapter.Unlock(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		failures.WriteJSON(w, err)
		return
	}
	token, err := utils.SignSessionToken(s.secret, handle, cookieMaxAge, s.now())
	if err != nil {
		log.Errorf("cannot sign session cookie: %v", err)
		failures.WriteJSON(w, failures.Wrap(failures.KindInternal, err, "cannot start session"))
		return
	}
	s.setCookie(w, sessionCookie, token)
	writeJSON(w, http.StatusOK, UnlockResponse{Unlocked: true, Handle: handle})
}
