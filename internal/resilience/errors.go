// Package resilience provides the collection error taxonomy and the retry
// wrapper used by every outbound client in the pipeline.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrNoHealthyProxies signals pool exhaustion: every proxy is in cooldown.
var ErrNoHealthyProxies = errors.New("no healthy proxies available")

// CollectionError wraps a transport-level failure from a scraper or API
// client. Retryable controls whether the retry wrapper re-attempts.
type CollectionError struct {
	Op         string
	Source     string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *CollectionError) Error() string {
	msg := fmt.Sprintf("%s/%s failed", e.Source, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CollectionError) Unwrap() error { return e.Err }

// NewCollectionError builds a CollectionError with the retryable flag
// derived from the HTTP status when one is present.
func NewCollectionError(op, source string, statusCode int, err error) *CollectionError {
	return &CollectionError{
		Op:         op,
		Source:     source,
		StatusCode: statusCode,
		Retryable:  IsRetryableStatus(statusCode),
		Err:        err,
	}
}

// AuthError means credentials were rejected (401). Never retried.
type AuthError struct {
	Source string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: authentication failed: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s: authentication failed", e.Source)
}

func (e *AuthError) Unwrap() error { return e.Err }

// PermissionError means access was denied (403). Never retried.
type PermissionError struct {
	Source string
	Err    error
}

func (e *PermissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: permission denied: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s: permission denied", e.Source)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ValidationError means a component received bad input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
	}
	return "validation failed: " + e.Reason
}

// ProcessingError is a pipeline-stage failure. The retry wrapper inside the
// pipeline gives it a limited number of re-attempts before surfacing it.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("processing failed at %s: %v", e.Stage, e.Err)
	}
	return "processing failed at " + e.Stage
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// IsRetryable reports whether the error (or anything in its chain) may be
// safely re-attempted: an explicitly retryable CollectionError, a network
// timeout, or a connection-level failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ae *AuthError
	if errors.As(err, &ae) {
		return false
	}
	var pe *PermissionError
	if errors.As(err, &pe) {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}

	var ce *CollectionError
	if errors.As(err, &ce) {
		return ce.Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Heuristics for errors wrapped by HTTP clients without type info.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"context deadline exceeded",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsRetryableStatus reports whether an HTTP status indicates a transient
// server-side condition.
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
