package utils

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomHex(t *testing.T) {
	a, err := GenerateRandomHex(16)
	if err != nil {
		t.Fatalf("GenerateRandomHex failed: %v", err)
	}
	if len(a) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a))
	}
	b, _ := GenerateRandomHex(16)
	if a == b {
		t.Error("expected distinct ids")
	}
}

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken(24)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if len(tok) != 24 {
		t.Errorf("expected 24 chars, got %d", len(tok))
	}
	if empty, err := GenerateToken(0); err != nil || empty != "" {
		t.Errorf("expected empty token, got %q %v", empty, err)
	}
}

func TestGenerateTokenIsUniform(t *testing.T) {
	counts := make(map[rune]int)
	const draws = 62 * 400
	tok, err := GenerateToken(draws)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range tok {
		if !strings.ContainsRune(tokenAlphabet, c) {
			t.Fatalf("unexpected character %q", c)
		}
		counts[c]++
	}
	// a plain b%62 mapping draws the first 8 characters 5/4 as often
	var head, tail int
	for _, c := range tokenAlphabet[:8] {
		head += counts[c]
	}
	for _, c := range tokenAlphabet[54:] {
		tail += counts[c]
	}
	if ratio := float64(head) / float64(tail); ratio > 1.15 || ratio < 0.87 {
		t.Errorf("skewed distribution: first 8 drawn %d times, last 8 %d times", head, tail)
	}
}

func TestDownloadTokenRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok, err := SignDownloadToken("short", "job1", "jobs/job1/etsy_pack_v1.zip", time.Hour, now)
	if err != nil {
		t.Fatalf("SignDownloadToken failed: %v", err)
	}

	claims, err := VerifyDownloadToken(tok, VerifyConfig{Secret: "short", ExpectedIssuer: DownloadIssuer}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("VerifyDownloadToken failed: %v", err)
	}
	if claims.Subject != "job1" || claims.Key != "jobs/job1/etsy_pack_v1.zip" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestDownloadTokenRejections(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok, err := SignDownloadToken("secret", "job1", "k", time.Minute, now)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := VerifyDownloadToken(tok, VerifyConfig{Secret: "other"}, now); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := VerifyDownloadToken(tok, VerifyConfig{Secret: "secret"}, now.Add(2*time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := VerifyDownloadToken(tok, VerifyConfig{Secret: "secret"}, now.Add(-time.Hour)); !errors.Is(err, ErrTokenNotYetValid) {
		t.Errorf("expected ErrTokenNotYetValid, got %v", err)
	}
	if _, err := VerifyDownloadToken("not-a-token", VerifyConfig{Secret: "secret"}, now); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := VerifyDownloadToken(tok, VerifyConfig{Secret: "secret", ExpectedIssuer: "someone-else"}, now); !errors.Is(err, ErrInvalidIssuer) {
		t.Errorf("expected ErrInvalidIssuer, got %v", err)
	}
}

func TestSessionToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok, err := SignSessionToken("secret", "pro@example.com", 24*time.Hour, now)
	if err != nil {
		t.Fatalf("SignSessionToken failed: %v", err)
	}
	handle, err := VerifySessionToken(tok, "secret", now.Add(time.Hour))
	if err != nil || handle != "pro@example.com" {
		t.Fatalf("unexpected verify result %q %v", handle, err)
	}

	if _, err := VerifySessionToken("pro@example.com", "secret", now); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("bare handle: expected ErrInvalidToken, got %v", err)
	}
	if _, err := VerifySessionToken(tok, "other", now); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("wrong secret: expected ErrInvalidSignature, got %v", err)
	}
	if _, err := VerifySessionToken(tok, "secret", now.Add(48*time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}

	dl, err := SignDownloadToken("secret", "job1", "pro@example.com", time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := VerifySessionToken(dl, "secret", now); !errors.Is(err, ErrInvalidIssuer) {
		t.Errorf("download token as session: expected ErrInvalidIssuer, got %v", err)
	}
}

func TestRequireBearer(t *testing.T) {
	h := RequireBearer("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Basic abc", http.StatusUnauthorized},
		{"Bearer", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusForbidden},
		{"Bearer s3cret", http.StatusNoContent},
		{"bearer s3cret", http.StatusNoContent},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, "/generate", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Errorf("header %q: expected %d, got %d", c.header, c.want, rec.Code)
		}
	}
}
