package routes

import (
	"errors"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"snaptosize/blob"
	"snaptosize/failures"
	"snaptosize/utils"
)

// DownloadHandler streams a blob named by a signed token. The job's zip hash
// doubles as the ETag.
func (e *Edge) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	claims, err := utils.VerifyDownloadToken(chi.URLParam(r, "token"), utils.VerifyConfig{
		Secret:         e.Secret,
		ExpectedIssuer: utils.DownloadIssuer,
	}, e.now())
	if err != nil {
		log.Debugf("download token rejected: %v", err)
		if errors.Is(err, utils.ErrTokenExpired) {
			failures.WriteJSON(w, failures.New(failures.KindForbidden, "download link expired"))
			return
		}
		failures.WriteJSON(w, failures.New(failures.KindForbidden, "invalid download link"))
		return
	}

	if claims.Subject != "" {
		if j, err := e.Jobs.Status(r.Context(), claims.Subject); err == nil && j.Result != nil && j.Result.ZipHash != "" {
			etag := `"` + j.Result.ZipHash + `"`
			w.Header().Set("ETag", etag)
			if r.Header.Get("If-None-Match") == etag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	rc, err := e.Blobs.Open(r.Context(), claims.Key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			failures.WriteJSON(w, failures.New(failures.KindJobNotFound, "archive not found"))
			return
		}
		log.Errorf("cannot open blob %s: %v", claims.Key, err)
		failures.WriteJSON(w, failures.New(failures.KindInternal, "archive unavailable"))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(claims.Key)+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		log.Warnf("download of %s interrupted: %v", claims.Key, err)
	}
}
