package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arsalan507/studioflow/internal/uploader"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUploader records upload requests.
type fakeUploader struct {
	mu   sync.Mutex
	reqs []uploader.Request
}

func (f *fakeUploader) Upload(_ context.Context, req uploader.Request) (*uploader.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reqs = append(f.reqs, req)

	return &uploader.Result{RemoteID: "file-1", Name: filepath.Base(req.Path)}, nil
}

func (f *fakeUploader) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.reqs))
	for i, r := range f.reqs {
		out[i] = r.Path
	}

	return out
}

func startWatcher(t *testing.T, dir string, fu *fakeUploader) context.CancelFunc {
	t.Helper()

	w, err := New(fu, Options{
		Dir:         dir,
		FolderID:    "folder-1",
		SettleDelay: 50 * time.Millisecond,
	}, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})

	// Give the watcher a moment to register its watches.
	time.Sleep(100 * time.Millisecond)

	return cancel
}

func TestNew_Validation(t *testing.T) {
	_, err := New(&fakeUploader{}, Options{FolderID: "f"}, discardLogger())
	assert.ErrorContains(t, err, "directory")

	_, err = New(&fakeUploader{}, Options{Dir: "/tmp"}, discardLogger())
	assert.ErrorContains(t, err, "destination folder")
}

func TestSkippedName(t *testing.T) {
	skipped := []string{".DS_Store", ".hidden", "render.tmp", "clip.mov.partial", "movie.crdownload", "take.part", "notes.txt~"}
	for _, name := range skipped {
		assert.True(t, skippedName(name), name)
	}

	kept := []string{"dailies.mov", "scene 4.wav", "final.PNG", "temp-notes.txt"}
	for _, name := range kept {
		assert.False(t, skippedName(name), name)
	}
}

func TestRun_UploadsSettledFile(t *testing.T) {
	dir := t.TempDir()
	fu := &fakeUploader{}

	startWatcher(t, dir, fu)

	path := filepath.Join(dir, "dailies.mov")
	require.NoError(t, os.WriteFile(path, []byte("frames"), 0o600))

	require.Eventually(t, func() bool {
		return len(fu.paths()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{path}, fu.paths())

	fu.mu.Lock()
	req := fu.reqs[0]
	fu.mu.Unlock()
	assert.Equal(t, "folder-1", req.FolderID)
}

func TestRun_CoalescesWritesBeforeSettle(t *testing.T) {
	dir := t.TempDir()
	fu := &fakeUploader{}

	startWatcher(t, dir, fu)

	path := filepath.Join(dir, "dailies.mov")

	// Simulate a writer streaming the file: repeated appends inside the
	// settle window must produce a single upload.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)

	for range 5 {
		_, err = f.Write([]byte("frames"))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return len(fu.paths()) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	// Quiet period: no further uploads appear.
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, fu.paths(), 1)
}

func TestRun_IgnoresTempAndHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	fu := &fakeUploader{}

	startWatcher(t, dir, fu)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "render.partial"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dailies.mov"), []byte("frames"), 0o600))

	require.Eventually(t, func() bool {
		return len(fu.paths()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{filepath.Join(dir, "dailies.mov")}, fu.paths())
}

func TestRun_SkipsRemovedBeforeSettle(t *testing.T) {
	dir := t.TempDir()
	fu := &fakeUploader{}

	startWatcher(t, dir, fu)

	path := filepath.Join(dir, "fleeting.mov")
	require.NoError(t, os.WriteFile(path, []byte("frames"), 0o600))
	require.NoError(t, os.Remove(path))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, fu.paths())
}

func TestRun_WatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	fu := &fakeUploader{}

	startWatcher(t, dir, fu)

	sub := filepath.Join(dir, "scene-04")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// Let the new directory's watch register before dropping the file.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(sub, "take-01.mov")
	require.NoError(t, os.WriteFile(path, []byte("frames"), 0o600))

	require.Eventually(t, func() bool {
		return len(fu.paths()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{path}, fu.paths())
}

func TestRun_WatchesExistingSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "b-roll")
	require.NoError(t, os.Mkdir(sub, 0o755))

	fu := &fakeUploader{}
	startWatcher(t, dir, fu)

	path := filepath.Join(sub, "take-02.mov")
	require.NoError(t, os.WriteFile(path, []byte("frames"), 0o600))

	require.Eventually(t, func() bool {
		return len(fu.paths()) == 1
	}, 5*time.Second, 20*time.Millisecond)
}
