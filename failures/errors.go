package failures

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the caller-visible classification of a failure.
type Kind string

const (
	KindInputMissing      Kind = "input-missing"
	KindInputUnsupported  Kind = "input-unsupported"
	KindInputTooLarge     Kind = "input-too-large"
	KindFetchFailed       Kind = "fetch-failed"
	KindImageForbidden    Kind = "image-forbidden-by-host"
	KindDecodeTooLarge    Kind = "decode-too-large"
	KindDecodeFailed      Kind = "decode-failed"
	KindArchiveTooLarge   Kind = "archive-too-large"
	KindPaywall           Kind = "paywall"
	KindFeatureLocked     Kind = "feature-locked"
	KindOracleUnavailable Kind = "oracle-unavailable"
	KindJobNotFound       Kind = "job-not-found"
	KindProtocolError     Kind = "protocol-error"
	KindUploadFailed      Kind = "upload-failed"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindInternal          Kind = "internal"
)

// Error is a classified failure. Family is set for archive-too-large so the
// operator knows which family to drop.
type Error struct {
	Kind    Kind
	Message string
	Family  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, &Error{Kind: k}) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ArchiveTooLarge reports a family whose archive overflowed the byte cap.
func ArchiveTooLarge(family string, size, limit int64) *Error {
	return &Error{
		Kind:    KindArchiveTooLarge,
		Family:  family,
		Message: fmt.Sprintf("archive for family %s is %.1f MiB, limit is %.0f MiB; remove some families or lower quality", family, mib(size), mib(limit)),
	}
}

func mib(n int64) float64 {
	return float64(n) / (1024 * 1024)
}

// KindOf returns the kind of the first classified error in err's chain,
// or KindInternal for anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message of err without transport detail.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind onto the status code returned by the HTTP surfaces.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInputMissing, KindInputUnsupported, KindDecodeFailed:
		return http.StatusBadRequest
	case KindInputTooLarge, KindDecodeTooLarge, KindArchiveTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindFetchFailed, KindImageForbidden, KindUploadFailed:
		return http.StatusBadGateway
	case KindPaywall:
		return http.StatusPaymentRequired
	case KindFeatureLocked, KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindOracleUnavailable:
		return http.StatusServiceUnavailable
	case KindJobNotFound:
		return http.StatusNotFound
	case KindProtocolError:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
