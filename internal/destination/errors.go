// Package destination is the client for destination indexing services with
// a RAGFlow-compatible document API: create or replace documents in a
// dataset, attach metadata, trigger parsing, list, and delete.
package destination

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for classifying destination failures.
var (
	ErrRejected  = errors.New("destination: request rejected")
	ErrNotFound  = errors.New("destination: not found")
	ErrThrottled = errors.New("destination: throttled")
	ErrServer    = errors.New("destination: server error")
	ErrAuth      = errors.New("destination: unauthorized")
)

// APIError carries the HTTP status and the envelope's code and message.
// Code is zero when the response had no envelope.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("destination: HTTP %d code %d: %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("destination: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrThrottled
	case code >= http.StatusInternalServerError:
		return ErrServer
	default:
		return ErrRejected
	}
}

func isRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
