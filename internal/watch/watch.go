// Package watch monitors a local drop directory and uploads files once
// they stop changing. New subdirectories are watched as they appear;
// editor temp files and partial downloads are ignored.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/arsalan507/studioflow/internal/uploader"
)

const (
	defaultSettleDelay = 2 * time.Second
	defaultConcurrency = 3

	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// Uploader is the slice of uploader.Manager the watcher needs.
type Uploader interface {
	Upload(ctx context.Context, req uploader.Request) (*uploader.Result, error)
}

// Options configures a Watcher.
type Options struct {
	// Dir is the local directory to monitor. Required.
	Dir string

	// FolderID is the remote destination folder. Required.
	FolderID string

	// SettleDelay is how long a file must be quiet before it uploads.
	// Writers stream media files for minutes; uploading on first write
	// would ship a truncated file.
	SettleDelay time.Duration

	// Concurrency bounds simultaneous uploads.
	Concurrency int

	// OnResult, when set, is called after each upload attempt with the
	// local path and the outcome.
	OnResult func(path string, res *uploader.Result, err error)
}

// Watcher uploads files dropped into a directory tree.
type Watcher struct {
	uploads Uploader
	opts    Options
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New validates opts and returns a Watcher.
func New(uploads Uploader, opts Options, logger *slog.Logger) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("watch: a directory is required")
	}

	if opts.FolderID == "" {
		return nil, fmt.Errorf("watch: a destination folder is required")
	}

	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	return &Watcher{
		uploads: uploads,
		opts:    opts,
		logger:  logger,
		pending: make(map[string]*time.Timer),
	}, nil
}

// skippedName reports whether a filename is never uploaded: dotfiles and
// in-progress artifacts from editors, browsers, and transfer tools.
func skippedName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}

	if strings.HasSuffix(name, "~") {
		return true
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".tmp", ".partial", ".crdownload", ".part":
		return true
	}

	return false
}

// Run blocks, watching the tree and uploading settled files, until ctx is
// canceled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addTree(watcher, w.opts.Dir); err != nil {
		return err
	}

	w.logger.Info("watching for new files",
		slog.String("dir", w.opts.Dir),
		slog.Duration("settle", w.opts.SettleDelay),
	)

	// Workers stop through context cancellation; the jobs channel is never
	// closed, so a straggling settle timer can never hit a closed channel.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan string)

	group, gctx := errgroup.WithContext(runCtx)

	for range w.opts.Concurrency {
		group.Go(func() error {
			w.uploadWorker(gctx, jobs)
			return nil
		})
	}

	err = w.eventLoop(gctx, watcher, jobs)

	cancel()
	w.cancelPending()

	if waitErr := group.Wait(); err == nil {
		err = waitErr
	}

	return err
}

// addTree registers watches on dir and every subdirectory.
func (w *Watcher) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("watch: walking %s: %w", path, walkErr)
		}

		if !d.IsDir() {
			return nil
		}

		if path != dir && skippedName(d.Name()) {
			return filepath.SkipDir
		}

		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch: adding watch on %s: %w", path, err)
		}

		return nil
	})
}

// eventLoop is the main select loop: filesystem events, watcher errors
// with exponential backoff, and cancellation. Returns nil on clean
// cancellation and an error when the watcher dies underneath us.
func (w *Watcher) eventLoop(ctx context.Context, watcher *fsnotify.Watcher, jobs chan<- string) error {
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case fsEvent, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watch: event channel closed")
			}

			w.handleFsEvent(ctx, fsEvent, watcher, jobs)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watch: error channel closed")
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// Backoff prevents a tight loop under sustained errors, e.g.
			// kernel event buffer overflow.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errBackoff):
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}
		}
	}
}

// handleFsEvent classifies one fsnotify event. Creates and writes restart
// the file's settle timer; removes and renames cancel it; new directories
// join the watch set.
func (w *Watcher) handleFsEvent(
	ctx context.Context, fsEvent fsnotify.Event, watcher *fsnotify.Watcher, jobs chan<- string,
) {
	// Mode changes alone carry no new content.
	if fsEvent.Has(fsnotify.Chmod) && !fsEvent.Has(fsnotify.Create) && !fsEvent.Has(fsnotify.Write) {
		return
	}

	name := filepath.Base(fsEvent.Name)
	if skippedName(name) {
		return
	}

	if fsEvent.Has(fsnotify.Remove) || fsEvent.Has(fsnotify.Rename) {
		w.cancelTimer(fsEvent.Name)
		return
	}

	if !fsEvent.Has(fsnotify.Create) && !fsEvent.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(fsEvent.Name)
	if err != nil {
		// Gone already; the remove event will follow.
		return
	}

	if info.IsDir() {
		if addErr := watcher.Add(fsEvent.Name); addErr != nil {
			w.logger.Warn("failed to add watch on new directory",
				slog.String("path", fsEvent.Name),
				slog.String("error", addErr.Error()),
			)
		}

		return
	}

	w.resetTimer(ctx, fsEvent.Name, jobs)
}

// resetTimer (re)starts the settle timer for path. The timer fires only
// after SettleDelay with no further writes, then hands the path to an
// upload worker.
func (w *Watcher) resetTimer(ctx context.Context, path string, jobs chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}

	w.pending[path] = time.AfterFunc(w.opts.SettleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case jobs <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) cancelTimer(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// uploadWorker drains settled paths until the channel closes or the
// context is canceled.
func (w *Watcher) uploadWorker(ctx context.Context, jobs <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return

		case path, ok := <-jobs:
			if !ok {
				return
			}

			w.uploadOne(ctx, path)
		}
	}
}

func (w *Watcher) uploadOne(ctx context.Context, path string) {
	w.logger.Info("uploading settled file", slog.String("path", path))

	res, err := w.uploads.Upload(ctx, uploader.Request{
		Path:     path,
		FolderID: w.opts.FolderID,
	})

	switch {
	case err == nil:
		w.logger.Info("watch upload complete",
			slog.String("path", path),
			slog.String("file_id", res.RemoteID),
		)

	case ctx.Err() != nil:
		w.logger.Info("watch upload canceled", slog.String("path", path))

	default:
		w.logger.Warn("watch upload failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}

	if w.opts.OnResult != nil {
		w.opts.OnResult(path, res, err)
	}
}
