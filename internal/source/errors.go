// Package source provides the client for the source knowledge-base service:
// session handling, node resolution and classification, and tree traversal.
// Requests are retried with exponential backoff and classified into
// sentinel errors.
package source

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, source.ErrNodeNotFound) to check.
var (
	ErrSessionExpired = errors.New("source: session expired")
	ErrNodeNotFound   = errors.New("source: node not found")
	ErrBadRequest     = errors.New("source: bad request")
	ErrForbidden      = errors.New("source: forbidden")
	ErrThrottled      = errors.New("source: throttled")
	ErrServerError    = errors.New("source: server error")
	ErrUpstream       = errors.New("source: unexpected upstream response")
	// ErrListingTruncated means a folder had more pages than the walk will
	// follow; children past the limit were not listed.
	ErrListingTruncated = errors.New("source: children listing truncated")
)

// UpstreamError wraps a sentinel error with HTTP status code, request ID,
// and the response body for debugging.
type UpstreamError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *UpstreamError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("source: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("source: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// 401 always means the session is gone; the caller marks it expired.
func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrSessionExpired
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNodeNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrUpstream
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
