// Package syncerr classifies failures of outbound calls into the retry
// taxonomy used by the sync worker, price scheduler and token refresher.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"gorm.io/gorm"
)

// Kind is the retry class of a failure
type Kind string

const (
	// Transient failures are retried with backoff
	Transient Kind = "transient"
	// Permanent failures are never retried automatically
	Permanent Kind = "permanent"
	// Credential failures fail the current attempt and heal after a token refresh
	Credential Kind = "credential"
)

// Error carries a Kind alongside the underlying cause
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Permanentf builds a permanent error
func Permanentf(format string, args ...any) error {
	return &Error{Kind: Permanent, Op: fmt.Sprintf(format, args...)}
}

// Transientf builds a transient error
func Transientf(format string, args ...any) error {
	return &Error{Kind: Transient, Op: fmt.Sprintf(format, args...)}
}

// Credentialf builds a credential error
func Credentialf(format string, args ...any) error {
	return &Error{Kind: Credential, Op: fmt.Sprintf(format, args...)}
}

// KindForStatus maps an HTTP status code to a retry class
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Credential
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return Transient
	case status >= 500:
		return Transient
	case status >= 400:
		return Permanent
	default:
		return Transient
	}
}

// FromStatus builds a classified error for a non-2xx HTTP response
func FromStatus(op string, status int, body string) error {
	var cause error
	if body != "" {
		cause = errors.New(body)
	}
	return &Error{Kind: KindForStatus(status), Op: op, StatusCode: status, Err: cause}
}

// Classify returns the retry class of err. Unknown errors are transient.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Permanent
	}

	return Transient
}

// IsTransient reports whether err should be retried
func IsTransient(err error) bool {
	return err != nil && Classify(err) == Transient
}
