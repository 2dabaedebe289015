package drive

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/about", r.URL.Path)
		assert.Contains(t, r.URL.RawQuery, "user")
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		fmt.Fprint(w, `{"user":{"displayName":"Production Lead","emailAddress":"lead@example.com"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)

	user, err := c.About(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Production Lead", user.DisplayName)
	assert.Equal(t, "lead@example.com", user.EmailAddress)
}

func TestAbout_AuthDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"message":"insufficient scope"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)

	_, err := c.About(context.Background())
	require.ErrorIs(t, err, ErrAuthDenied)
}
