package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Retry and backoff constants. Delay before retry n (1-based) is
// baseBackoff * 2^(n-1): 1s, 2s, 4s. Bounded so a dead endpoint adds at
// most ~7s of waiting before the true error surfaces.
const (
	maxRetries    = 3
	baseBackoff   = 1 * time.Second
	backoffFactor = 2

	userAgent = "studioflow/0.1"
)

// Default API endpoints.
const (
	DefaultBaseURL   = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3/files"
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer per Go
// convention "accept interfaces, return structs"; credstore provides the
// real implementation. The token is read at request dispatch time, so a
// refresh becomes visible to the next issued request, never to one already
// in flight.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP client for the Google Drive API. It handles request
// construction, authentication, retry with exponential backoff, and error
// classification.
type Client struct {
	baseURL    string
	uploadURL  string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Drive API client. Pass empty strings to use the
// default endpoints.
func NewClient(baseURL, uploadURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if uploadURL == "" {
		uploadURL = DefaultUploadURL
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		uploadURL:  uploadURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Do executes a JSON API request against the Drive API with retry. The path
// is appended to the client's base URL. body may be nil; it is taken as a
// byte slice (not a reader) so each retry attempt sends a fresh copy.
// The caller is responsible for closing the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	build := func() (*http.Request, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return nil, fmt.Errorf("drive: creating request: %w", err)
		}

		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		return req, nil
	}

	return c.doWithRetry(ctx, method+" "+path, build, true)
}

// doWithRetry runs one remote call under the retry governor: the request is
// rebuilt and reissued for transient failures (network errors, retryable
// HTTP statuses) up to maxRetries additional attempts, with 1s/2s/4s delays
// between them. On exhaustion the last observed error is returned unchanged
// so callers see the true failure cause. Context cancellation is never
// retried.
func (c *Client) doWithRetry(
	ctx context.Context, op string,
	build func() (*http.Request, error), authorize bool,
) (*http.Response, error) {
	var attempt int
	for {
		resp, err := c.doOnce(build, authorize)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("drive: %s canceled: %w", op, ctx.Err())
			}

			// Network errors are retryable.
			if attempt < maxRetries {
				backoff := calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("op", op),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("drive: %s canceled: %w", op, sleepErr)
				}

				attempt++

				continue
			}

			return nil, err
		}

		// 2xx — success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := calcBackoff(attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("drive: %s canceled: %w", op, sleepErr)
			}

			attempt++

			continue
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiErrorMessage(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, apiErr
	}
}

// doOnce builds and executes a single HTTP request (no retry).
func (c *Client) doOnce(build func() (*http.Request, error), authorize bool) (*http.Response, error) {
	req, err := build()
	if err != nil {
		return nil, err
	}

	if authorize {
		tok, tokErr := c.token.Token()
		if tokErr != nil {
			return nil, fmt.Errorf("drive: obtaining token: %w", tokErr)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive: request failed: %w", err)
	}

	return resp, nil
}

// calcBackoff computes the delay before retry attempt n (0-based):
// baseBackoff * factor^attempt. Deliberately jitter-free so total added
// latency is predictable (1+2+4 = 7s worst case).
func calcBackoff(attempt int) time.Duration {
	d := baseBackoff
	for range attempt {
		d *= backoffFactor
	}

	return d
}

// apiErrorMessage extracts the human-readable message from a Drive API
// error body. Falls back to the raw body when the shape is unexpected.
func apiErrorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}

	return string(body)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
