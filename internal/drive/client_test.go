package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticToken is a TokenSource returning a fixed token.
type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

// failingToken always fails, simulating a missing credential.
type failingToken struct{}

func (failingToken) Token() (string, error) { return "", errors.New("no credential available") }

// noopSleep skips backoff delays in tests.
func noopSleep(_ context.Context, _ time.Duration) error { return nil }

// newTestClient builds a client against a test server with retry delays
// disabled.
func newTestClient(t *testing.T, baseURL, uploadURL string) *Client {
	t.Helper()

	c := NewClient(baseURL, uploadURL, http.DefaultClient, staticToken("test-token"), slog.Default())
	c.sleepFunc = noopSleep

	return c
}

// recordingSleep captures requested backoff durations without waiting.
func recordingSleep(sleeps *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
}

func TestDo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL)

	resp, err := client.Do(context.Background(), http.MethodGet, "/files/abc", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDo_FailsTwiceThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	var sleeps []time.Duration

	client := newTestClient(t, srv.URL, srv.URL)
	client.sleepFunc = recordingSleep(&sleeps)

	resp, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load(), "invoked exactly 3 times")
	require.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, sleeps,
		"1s + 2s of backoff precede the successful third attempt")
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"backend unavailable"}}`)
	}))
	defer srv.Close()

	var sleeps []time.Duration

	client := newTestClient(t, srv.URL, srv.URL)
	client.sleepFunc = recordingSleep(&sleeps)

	_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)

	assert.Equal(t, int32(4), calls.Load(), "1 initial + 3 retries")
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}, sleeps)

	// The error from the final attempt surfaces unchanged.
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "backend unavailable", apiErr.Message)
	assert.ErrorIs(t, err, ErrServer)
}

func TestDo_NonRetryableStatus(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"message":"insufficient permissions"}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL)

	_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)

	assert.Equal(t, int32(1), calls.Load(), "4xx (other than 408/429) is not retried")
	assert.ErrorIs(t, err, ErrAuthDenied)
}

func TestDo_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	client := newTestClient(t, srv.URL, srv.URL)
	client.sleepFunc = func(_ context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := client.Do(ctx, http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_TokenError(t *testing.T) {
	client := NewClient("http://localhost", "http://localhost", http.DefaultClient, failingToken{}, slog.Default())
	client.sleepFunc = noopSleep

	_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
}

func TestCalcBackoff(t *testing.T) {
	assert.Equal(t, 1*time.Second, calcBackoff(0))
	assert.Equal(t, 2*time.Second, calcBackoff(1))
	assert.Equal(t, 4*time.Second, calcBackoff(2))
}

func TestClassifyStatus(t *testing.T) {
	assert.ErrorIs(t, classifyStatus(401), ErrAuthDenied)
	assert.ErrorIs(t, classifyStatus(403), ErrAuthDenied)
	assert.ErrorIs(t, classifyStatus(404), ErrNotFound)
	assert.ErrorIs(t, classifyStatus(410), ErrNotFound)
	assert.ErrorIs(t, classifyStatus(429), ErrThrottled)
	assert.ErrorIs(t, classifyStatus(500), ErrServer)
	assert.ErrorIs(t, classifyStatus(503), ErrServer)
	assert.NoError(t, classifyStatus(200))
}

func TestAPIErrorMessage(t *testing.T) {
	assert.Equal(t, "quota exceeded",
		apiErrorMessage([]byte(`{"error":{"message":"quota exceeded","code":403}}`)))
	assert.Equal(t, "plain text failure", apiErrorMessage([]byte("plain text failure")))
}
