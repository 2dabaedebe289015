// Package drive provides an HTTP client for the Google Drive v3 API with
// bounded exponential-backoff retry, resumable uploads, and error
// classification.
package drive

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, drive.ErrAuthDenied) to check.
var (
	ErrBadRequest = errors.New("drive: bad request")
	ErrAuthDenied = errors.New("drive: authorization denied")
	ErrNotFound   = errors.New("drive: not found")
	ErrThrottled  = errors.New("drive: rate limited")
	ErrServer     = errors.New("drive: server error")

	// ErrSessionInit means a resumable upload session could not be opened
	// after retries. Fatal for the upload.
	ErrSessionInit = errors.New("drive: upload session init failed")

	// ErrChunkUpload means a chunk failed after retries. The wrapping
	// APIError carries the last HTTP status observed.
	ErrChunkUpload = errors.New("drive: chunk upload failed")

	// ErrSessionExpired means the remote no longer recognizes a resumable
	// session URI (404/410 on the session handle). Callers should discard
	// any persisted session state and start over.
	ErrSessionExpired = errors.New("drive: upload session expired")
)

// APIError wraps a sentinel error with the HTTP status code and the remote
// API's own error detail so callers see the true failure cause.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("drive: HTTP %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("drive: HTTP %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthDenied
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServer
		}

		return nil
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
