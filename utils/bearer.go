package utils

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"snaptosize/failures"
)

var ErrMissingBearer = errors.New("missing or malformed bearer token")

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingBearer
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingBearer
	}
	return token, nil
}

// RequireBearer rejects requests without the shared token: 401 when the
// header is missing or malformed, 403 when the token is wrong.
func RequireBearer(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				failures.WriteJSON(w, failures.New(failures.KindUnauthorized, "bearer token required"))
				return
			}
			if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				failures.WriteJSON(w, failures.New(failures.KindForbidden, "invalid token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
