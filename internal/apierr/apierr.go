// Package apierr classifies failures raised while talking to external platforms.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind groups failures by how the resilience policies should treat them.
type Kind string

// Failure kinds recognised by the retry and breaker policies.
const (
	KindValidation  Kind = "validation"
	KindTransient   Kind = "transient"
	KindRateLimited Kind = "rate_limited"
	KindAuth        Kind = "auth"
	KindPermanent   Kind = "permanent"
)

// Sentinels matched through errors.Is against an *Error of the same kind.
var (
	ErrValidation  = errors.New("validation failed")
	ErrTransient   = errors.New("transient network failure")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrAuth        = errors.New("authentication failed")
	ErrPermanent   = errors.New("permanent api failure")
)

// Error is a classified failure from one remote operation.
type Error struct {
	Kind       Kind
	Source     string
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Source != "" {
		msg = e.Source + " " + msg
	}
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrPermanent:
		return e.Kind == KindPermanent
	default:
		return false
	}
}

// New builds a classified error.
func New(kind Kind, source, op string, err error) *Error {
	return &Error{Kind: kind, Source: source, Op: op, Err: err}
}

// Validation reports a malformed term or request.
func Validation(source, op, reason string) *Error {
	return New(KindValidation, source, op, errors.New(reason))
}

// FromStatus maps an HTTP status code to a classified error. 2xx and 3xx return nil.
func FromStatus(source, op string, code int) error {
	if code < http.StatusBadRequest {
		return nil
	}
	e := &Error{Source: source, Op: op, StatusCode: code}
	switch {
	case code == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		e.Kind = KindAuth
	case code == http.StatusRequestTimeout || code >= http.StatusInternalServerError:
		e.Kind = KindTransient
	default:
		e.Kind = KindPermanent
	}
	return e
}

// FromTransport classifies an error returned by http.Client.Do. Cancellation of the
// caller's own context is passed through unchanged so it never counts as a failure;
// a deadline is a timeout and therefore transient.
func FromTransport(ctx context.Context, source, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	// Timeouts, connection resets and unexpected EOFs all surface as *url.Error.
	return New(KindTransient, source, op, err)
}

// KindOf returns the classification of err, or "" when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the retry policy may attempt the call again.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if KindOf(err) == KindTransient {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// CountsAsFailure reports whether the circuit breaker should record err. Validation
// errors and caller cancellation are not the downstream's fault.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindValidation:
		return false
	case KindTransient, KindRateLimited, KindAuth, KindPermanent:
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
