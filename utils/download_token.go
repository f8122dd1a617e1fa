package utils

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"snaptosize/models"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var (
	ErrInvalidToken     = errors.New("invalid token format")
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token not yet valid")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrInvalidIssuer    = errors.New("invalid issuer")
)

// DownloadIssuer is stamped into every download token.
const DownloadIssuer = "snaptosize-edge"

// VerifyConfig holds verification configuration
type VerifyConfig struct {
	Secret         string
	ExpectedIssuer string        // Optional: validate issuer
	ClockSkew      time.Duration // Optional: allow clock skew (default 0)
}

// hmacKey stretches any secret to the 32 bytes HS256 requires.
func hmacKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// signClaims serializes claims as an HS256 JWT.
func signClaims(secret string, claims any) (string, error) {
	if secret == "" {
		return "", errors.New("signing secret cannot be empty")
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: hmacKey(secret)}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}
	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to create JWT: %w", err)
	}
	return token, nil
}

// parseClaims checks the HS256 signature of token and decodes its claims into out.
func parseClaims(token, secret string, out any) error {
	if token == "" {
		return ErrInvalidToken
	}
	if secret == "" {
		return errors.New("no verification key provided")
	}
	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := tok.Claims(hmacKey(secret), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// checkWindow validates the time bounds and issuer shared by every token kind.
func checkWindow(issuer string, issuedAt, expiresAt int64, config VerifyConfig, now time.Time) error {
	unix := now.Unix()
	skew := int64(config.ClockSkew.Seconds())
	switch {
	case expiresAt > 0 && expiresAt < unix-skew:
		return ErrTokenExpired
	case issuedAt > 0 && issuedAt > unix+skew:
		return ErrTokenNotYetValid
	case config.ExpectedIssuer != "" && issuer != config.ExpectedIssuer:
		return fmt.Errorf("%w: expected '%s', got '%s'", ErrInvalidIssuer, config.ExpectedIssuer, issuer)
	}
	return nil
}

// SignDownloadToken issues a token granting access to key until now+ttl.
func SignDownloadToken(secret, jobID, key string, ttl time.Duration, now time.Time) (string, error) {
	return signClaims(secret, &models.DownloadClaims{
		Issuer:    DownloadIssuer,
		Subject:   jobID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Key:       key,
	})
}

// VerifyDownloadToken checks the signature and validity window of a download token.
func VerifyDownloadToken(tokenString string, config VerifyConfig, now time.Time) (*models.DownloadClaims, error) {
	claims := &models.DownloadClaims{}
	if err := parseClaims(tokenString, config.Secret, claims); err != nil {
		return nil, err
	}
	if err := checkWindow(claims.Issuer, claims.IssuedAt, claims.ExpiresAt, config, now); err != nil {
		return nil, err
	}
	if claims.Key == "" {
		return nil, fmt.Errorf("%w: missing key", ErrInvalidToken)
	}
	return claims, nil
}
