package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bolagsdata/internal/correlation"
)

// Sentinels for errors.Is checks. Every typed error below matches exactly one.
var (
	// ErrValidation marks malformed caller input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an entity the registry (or a local store) does not know.
	ErrNotFound = errors.New("not found")

	// ErrUpstream marks a registry failure that survived the retry budget.
	ErrUpstream = errors.New("upstream failure")

	// ErrCircuitOpen marks a call rejected by an open circuit breaker.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrParse marks a financial-statement bundle that yielded no usable data.
	ErrParse = errors.New("parse failed")
)

// ValidationError reports malformed input such as a bad checksum digit.
type ValidationError struct {
	Field         string
	Reason        string
	CorrelationID string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports that the upstream registry has no such entity.
// Negative results are never cached.
type NotFoundError struct {
	Entity        string
	Key           string
	CorrelationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// UpstreamError reports a 5xx, 429, timeout or transport failure from the
// registry after retries were exhausted, or a non-retryable upstream status.
type UpstreamError struct {
	Op            string
	StatusCode    int
	Attempts      int
	Err           error
	CorrelationID string
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("upstream %s failed after %d attempt(s)", e.Op, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Retryable reports whether the failure class is one the client retries.
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// CircuitOpenError is returned without touching the wrapped collaborator.
type CircuitOpenError struct {
	Name          string
	Remaining     time.Duration
	CorrelationID string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q open, retry in %s", e.Name, e.Remaining.Round(time.Millisecond))
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// ParseError reports an extractor failure. It is never converted into an
// empty statement.
type ParseError struct {
	Reason        string
	Err           error
	CorrelationID string
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "parse: " + e.Reason + ": " + e.Err.Error()
	}
	return "parse: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// WithCorrelation stamps the context's correlation id onto any typed error in
// err's chain that does not carry one yet, and returns err.
func WithCorrelation(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	id := correlation.FromContext(ctx)
	if id == "" {
		return err
	}
	var (
		ve *ValidationError
		ne *NotFoundError
		ue *UpstreamError
		ce *CircuitOpenError
		pe *ParseError
	)
	if errors.As(err, &ve) && ve.CorrelationID == "" {
		ve.CorrelationID = id
	}
	if errors.As(err, &ne) && ne.CorrelationID == "" {
		ne.CorrelationID = id
	}
	if errors.As(err, &ue) && ue.CorrelationID == "" {
		ue.CorrelationID = id
	}
	if errors.As(err, &ce) && ce.CorrelationID == "" {
		ce.CorrelationID = id
	}
	if errors.As(err, &pe) && pe.CorrelationID == "" {
		pe.CorrelationID = id
	}
	return err
}

// CorrelationOf returns the correlation id carried by the first typed error in
// err's chain, or "".
func CorrelationOf(err error) string {
	var (
		ve *ValidationError
		ne *NotFoundError
		ue *UpstreamError
		ce *CircuitOpenError
		pe *ParseError
	)
	switch {
	case errors.As(err, &ve):
		return ve.CorrelationID
	case errors.As(err, &ne):
		return ne.CorrelationID
	case errors.As(err, &ue):
		return ue.CorrelationID
	case errors.As(err, &ce):
		return ce.CorrelationID
	case errors.As(err, &pe):
		return pe.CorrelationID
	}
	return ""
}

// StatusCode maps an error to the HTTP-style status recorded in request logs
// and returned by the HTTP adapter.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
