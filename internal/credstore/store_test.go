package credstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/arsalan507/studioflow/internal/tokenfile"
)

// fakeTokenEndpoint serves OAuth2 refresh responses and counts calls.
func fakeTokenEndpoint(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"refreshed-token","token_type":"Bearer","expires_in":3600}`)
	}))
}

func testConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
}

func newTestStore(t *testing.T, tok *oauth2.Token, tokenURL string) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "credential.json")
	if tok != nil {
		require.NoError(t, tokenfile.Save(path, tok, nil))
	}

	s, err := New(path, testConfig(tokenURL), slog.Default())
	require.NoError(t, err)

	return s, path
}

func TestToken_ValidCredential(t *testing.T) {
	s, _ := newTestStore(t, &oauth2.Token{
		AccessToken: "live-token",
		Expiry:      time.Now().Add(time.Hour),
	}, "http://localhost/token")

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "live-token", tok)
}

func TestNew_PurgesExpiredCredential(t *testing.T) {
	// Expired, no refresh token: treated as absent and purged eagerly.
	s, path := newTestStore(t, &oauth2.Token{
		AccessToken: "dead-token",
		Expiry:      time.Now().Add(-time.Hour),
	}, "http://localhost/token")

	_, err := s.Token()
	require.ErrorIs(t, err, ErrAuthRequired)

	onDisk, _, loadErr := tokenfile.Load(path)
	require.NoError(t, loadErr)
	assert.Nil(t, onDisk, "expired credential file purged on load")
}

func TestToken_RefreshesExpired(t *testing.T) {
	var calls atomic.Int32

	srv := fakeTokenEndpoint(t, &calls)
	defer srv.Close()

	s, path := newTestStore(t, &oauth2.Token{
		AccessToken:  "dead-token",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	}, srv.URL)

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", tok)
	assert.Equal(t, int32(1), calls.Load())

	// Refreshed credential persisted with the retained refresh token.
	onDisk, _, loadErr := tokenfile.Load(path)
	require.NoError(t, loadErr)
	require.NotNil(t, onDisk)
	assert.Equal(t, "refreshed-token", onDisk.AccessToken)
	assert.Equal(t, "refresh-1", onDisk.RefreshToken)
}

func TestToken_ExpiryMargin(t *testing.T) {
	var calls atomic.Int32

	srv := fakeTokenEndpoint(t, &calls)
	defer srv.Close()

	// Nominally live for another 3 minutes — inside the 5-minute safety
	// margin, so it must be refreshed rather than surfaced.
	s, _ := newTestStore(t, &oauth2.Token{
		AccessToken:  "nearly-dead",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(3 * time.Minute),
	}, srv.URL)

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", tok)
	assert.Equal(t, int32(1), calls.Load())
}

func TestToken_SingleRefreshAcrossConcurrentUploads(t *testing.T) {
	var calls atomic.Int32

	srv := fakeTokenEndpoint(t, &calls)
	defer srv.Close()

	s, _ := newTestStore(t, &oauth2.Token{
		AccessToken:  "dead-token",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	}, srv.URL)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			tok, err := s.Token()
			assert.NoError(t, err)
			assert.Equal(t, "refreshed-token", tok)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "exactly one re-authorization shared by all uploads")
}

func TestEnsureValid_InteractiveFallback(t *testing.T) {
	s, path := newTestStore(t, nil, "http://localhost/token")

	var interactiveCalls int
	s.Interactive = func(_ context.Context) (*oauth2.Token, error) {
		interactiveCalls++

		return &oauth2.Token{
			AccessToken: "interactive-token",
			Expiry:      time.Now().Add(time.Hour),
		}, nil
	}

	require.NoError(t, s.EnsureValid(context.Background()))
	assert.Equal(t, 1, interactiveCalls)

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "interactive-token", tok)

	onDisk, _, loadErr := tokenfile.Load(path)
	require.NoError(t, loadErr)
	require.NotNil(t, onDisk)
	assert.Equal(t, "interactive-token", onDisk.AccessToken)
}

func TestEnsureValid_FailsWithoutCredential(t *testing.T) {
	s, _ := newTestStore(t, nil, "http://localhost/token")

	err := s.EnsureValid(context.Background())
	require.ErrorIs(t, err, ErrAuthRequired)
}

func TestInvalidate(t *testing.T) {
	s, path := newTestStore(t, &oauth2.Token{
		AccessToken: "live-token",
		Expiry:      time.Now().Add(time.Hour),
	}, "http://localhost/token")

	require.True(t, s.SignedIn())

	s.Invalidate()

	assert.False(t, s.SignedIn())

	_, err := s.Token()
	assert.ErrorIs(t, err, ErrAuthRequired)

	onDisk, _, loadErr := tokenfile.Load(path)
	require.NoError(t, loadErr)
	assert.Nil(t, onDisk)
}

func TestSignedIn_RefreshableCountsAsSignedIn(t *testing.T) {
	s, _ := newTestStore(t, &oauth2.Token{
		AccessToken:  "dead-token",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	}, "http://localhost/token")

	assert.True(t, s.SignedIn())
}

func TestMergeMeta(t *testing.T) {
	s, _ := newTestStore(t, &oauth2.Token{
		AccessToken: "live-token",
		Expiry:      time.Now().Add(time.Hour),
	}, "http://localhost/token")

	s.MergeMeta(map[string]string{"email": "user@example.com"})
	assert.Equal(t, "user@example.com", s.Meta("email"))
}
