package runner

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"snaptosize/failures"
	"snaptosize/normalize"
)

// UserAgent is sent on image downloads; some hosts refuse unknown clients.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const (
	connectTimeout = 10 * time.Second
	fetchTimeout   = 20 * time.Second
)

// Fetcher downloads source images with a bounded body.
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func NewFetcher() *Fetcher {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Fetcher{
		Client:   &http.Client{Transport: transport, Timeout: fetchTimeout},
		MaxBytes: normalize.MaxInputBytes,
	}
}

// Fetch GETs rawURL, following redirects. A 403 is reported as
// image-forbidden-by-host, any other non-2xx as fetch-failed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, failures.Wrap(failures.KindFetchFailed, err, "invalid image url")
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")

	resp, err := f.Client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, failures.Wrap(failures.KindFetchFailed, err, "cannot download image")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, failures.New(failures.KindImageForbidden, "image host refused the download (403)")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, failures.New(failures.KindFetchFailed, "image host returned %s", resp.Status)
	}

	if resp.ContentLength > f.MaxBytes {
		return nil, failures.New(failures.KindDecodeTooLarge, "image is %d bytes, limit is %d", resp.ContentLength, f.MaxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, failures.Wrap(failures.KindFetchFailed, err, "image download interrupted")
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, failures.New(failures.KindDecodeTooLarge, "image is larger than %d bytes", f.MaxBytes)
	}
	return data, nil
}
