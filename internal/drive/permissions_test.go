package drive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantReadAccess_AnyoneAndOverseer(t *testing.T) {
	var mu sync.Mutex
	var grants []permissionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files/file-1/permissions", r.URL.Path)

		var perm permissionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&perm))

		mu.Lock()
		grants = append(grants, perm)
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL)

	err := client.GrantReadAccess(context.Background(), "file-1", "boss@example.com")
	require.NoError(t, err)

	require.Len(t, grants, 2)

	byType := map[string]permissionRequest{}
	for _, g := range grants {
		byType[g.Type] = g
	}

	assert.Equal(t, "reader", byType["anyone"].Role)
	assert.Equal(t, "reader", byType["user"].Role)
	assert.Equal(t, "boss@example.com", byType["user"].EmailAddress)
}

func TestGrantReadAccess_NoOverseer(t *testing.T) {
	var mu sync.Mutex
	count := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL)

	require.NoError(t, client.GrantReadAccess(context.Background(), "file-1", ""))
	assert.Equal(t, 1, count, "only the anyone-with-link grant is issued")
}

func TestGrantReadAccess_FailureSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, srv.URL)

	err := client.GrantReadAccess(context.Background(), "file-1", "boss@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthDenied)
}

func TestGrantReadAccess_EmptyFileID(t *testing.T) {
	client := newTestClient(t, "http://localhost", "http://localhost")

	err := client.GrantReadAccess(context.Background(), "", "")
	require.Error(t, err)
}
