package utils

import (
	"fmt"
	"time"

	"snaptosize/models"
)

// SessionIssuer is stamped into session cookies so download tokens cannot stand in for them.
const SessionIssuer = "snaptosize-session"

// SignSessionToken wraps a subscription handle for storage in a cookie.
func SignSessionToken(secret, handle string, ttl time.Duration, now time.Time) (string, error) {
	return signClaims(secret, &models.SessionClaims{
		Issuer:    SessionIssuer,
		Subject:   handle,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})
}

// VerifySessionToken returns the handle inside a session token.
func VerifySessionToken(token, secret string, now time.Time) (string, error) {
	claims := &models.SessionClaims{}
	if err := parseClaims(token, secret, claims); err != nil {
		return "", err
	}
	if err := checkWindow(claims.Issuer, claims.IssuedAt, claims.ExpiresAt, VerifyConfig{Secret: secret, ExpectedIssuer: SessionIssuer}, now); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing handle", ErrInvalidToken)
	}
	return claims.Subject, nil
}
