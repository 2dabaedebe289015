package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/arsalan507/studioflow/internal/credstore"
	"github.com/arsalan507/studioflow/internal/drive"
)

// Upload record statuses as written to the history ledger.
const (
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// UploadRecord is one finished upload attempt, successful or not, as
// handed to the Recorder.
type UploadRecord struct {
	ID         string
	Key        string
	Name       string
	RemoteID   string
	ViewLink   string
	Size       int64
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder persists finished upload attempts. Recording is best-effort:
// a Recorder failure never fails the upload it describes.
type Recorder interface {
	Record(ctx context.Context, rec UploadRecord) error
}

// Request describes one file transfer.
type Request struct {
	// Path is the local file to upload. Either Path or Content is required;
	// only Path-based uploads persist session state for cross-run resume.
	Path string

	// Content and Size supply in-memory or non-file content.
	Content io.ReaderAt
	Size    int64

	// Name is the remote filename. Defaults to the base of Path, normalized
	// to NFC.
	Name string

	// FolderID is the destination folder. Required.
	FolderID string

	// ContentType overrides sniffing.
	ContentType string

	// Key identifies the upload in the registry for cancellation. A random
	// key is generated when empty. Registering a key that is already live
	// cancels the previous upload.
	Key string

	// Progress, when set, receives throttled progress events.
	Progress ProgressFunc
}

// Result is the outcome of a successful upload.
type Result struct {
	Key          string
	RemoteID     string
	Name         string
	ViewLink     string
	DownloadLink string
	Size         int64
}

// ManagerOpts are the optional collaborators of a Manager.
type ManagerOpts struct {
	// Sessions enables cross-run resume of interrupted resumable uploads.
	Sessions *SessionStore

	// Recorder receives finished upload records for the history ledger.
	Recorder Recorder

	// OverseerEmail, when set, additionally receives an explicit reader
	// grant after each upload.
	OverseerEmail string
}

// Manager runs uploads end to end: credential check, content-type
// sniffing, path selection by size, registry-guarded cancellation,
// throttled progress, session persistence, post-upload permissioning,
// and history recording.
type Manager struct {
	client   *drive.Client
	creds    *credstore.Store
	registry *Registry
	sessions *SessionStore
	recorder Recorder
	overseer string
	logger   *slog.Logger
}

// NewManager wires a Manager. client, creds and logger are required;
// opts collaborators are optional.
func NewManager(client *drive.Client, creds *credstore.Store, opts ManagerOpts, logger *slog.Logger) *Manager {
	return &Manager{
		client:   client,
		creds:    creds,
		registry: NewRegistry(),
		sessions: opts.Sessions,
		recorder: opts.Recorder,
		overseer: opts.OverseerEmail,
		logger:   logger,
	}
}

// Abort cancels the upload registered under key. No-op when the key is
// not live.
func (m *Manager) Abort(key string) {
	m.registry.Cancel(key)
}

// AbortAll cancels every in-flight upload. Called on sign-out.
func (m *Manager) AbortAll() {
	m.registry.CancelAll()
}

// Active returns the keys of all in-flight uploads.
func (m *Manager) Active() []string {
	return m.registry.Active()
}

// Upload transfers one file and returns its remote identity and share
// links. Cancellation via Abort surfaces as ErrCanceled. A 401/403 from
// the remote invalidates the credential store so the next attempt
// re-prompts.
func (m *Manager) Upload(ctx context.Context, req Request) (*Result, error) {
	if req.FolderID == "" {
		return nil, fmt.Errorf("uploader: destination folder is required")
	}

	if req.Path == "" && req.Content == nil {
		return nil, fmt.Errorf("uploader: either a path or content is required")
	}

	key := req.Key
	if key == "" {
		key = uuid.NewString()
	}

	started := time.Now()

	uctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := m.registry.Register(key, cancel)
	defer m.registry.Deregister(key, reg)

	content, size, name, err := m.openContent(&req)
	if err != nil {
		return nil, err
	}

	if closer, ok := content.(io.Closer); ok {
		defer closer.Close()
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = detectContentType(content, req.Path)
	}

	m.logger.Info("upload starting",
		slog.String("key", key),
		slog.String("name", name),
		slog.Int64("size", size),
		slog.String("content_type", contentType),
	)

	if err := m.creds.EnsureValid(uctx); err != nil {
		m.record(key, name, nil, size, started, err)

		return nil, err
	}

	meta := drive.FileMeta{
		Name:     name,
		MimeType: contentType,
		Parents:  []string{req.FolderID},
	}

	emit := Throttle(req.Progress, progressInterval)

	progress := drive.ProgressFunc(nil)
	if emit != nil {
		progress = func(sent, total int64) {
			emit(eventFor(sent, total))
		}
	}

	var f *drive.File
	if size <= drive.SmallFileMaxSize {
		f, err = m.client.MultipartUpload(uctx, meta, io.NewSectionReader(content, 0, size), size, progress)
	} else {
		f, err = m.resumableUpload(uctx, meta, content, size, req.Path, progress)
	}

	if err != nil {
		if uctx.Err() != nil {
			err = fmt.Errorf("%w: %s", ErrCanceled, name)
		}

		if errors.Is(err, drive.ErrAuthDenied) {
			m.logger.Warn("remote rejected credentials, invalidating", slog.String("key", key))
			m.creds.Invalidate()
		}

		m.record(key, name, nil, size, started, err)

		return nil, err
	}

	m.grantAccess(uctx, f.ID)
	m.record(key, name, f, size, started, nil)

	m.logger.Info("upload complete",
		slog.String("key", key),
		slog.String("file_id", f.ID),
		slog.Int64("size", size),
	)

	return &Result{
		Key:          key,
		RemoteID:     f.ID,
		Name:         f.Name,
		ViewLink:     f.WebViewLink,
		DownloadLink: f.WebContentLink,
		Size:         size,
	}, nil
}

// openContent resolves the request into a readable source, its size, and
// the remote name. Remote names are normalized to NFC so macOS NFD
// filenames match what collaborators type.
func (m *Manager) openContent(req *Request) (io.ReaderAt, int64, string, error) {
	name := req.Name

	if req.Path == "" {
		if req.Size <= 0 {
			return nil, 0, "", fmt.Errorf("uploader: content size is required")
		}

		if name == "" {
			return nil, 0, "", fmt.Errorf("uploader: a name is required for content uploads")
		}

		return req.Content, req.Size, norm.NFC.String(name), nil
	}

	f, err := os.Open(req.Path)
	if err != nil {
		return nil, 0, "", fmt.Errorf("uploader: opening %s: %w", req.Path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, 0, "", fmt.Errorf("uploader: stat %s: %w", req.Path, err)
	}

	if name == "" {
		name = filepath.Base(req.Path)
	}

	return f, info.Size(), norm.NFC.String(name), nil
}

// sniffLen bounds how many leading bytes content-type detection reads.
const sniffLen = 3072

// detectContentType sniffs the MIME type from the leading bytes, falling
// back to application/octet-stream.
func detectContentType(content io.ReaderAt, path string) string {
	if path != "" {
		if mt, err := mimetype.DetectFile(path); err == nil {
			return mt.String()
		}

		return "application/octet-stream"
	}

	buf := make([]byte, sniffLen)

	n, err := content.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return "application/octet-stream"
	}

	return mimetype.Detect(buf[:n]).String()
}

// resumableUpload runs the chunked session path, persisting session state
// so an interrupted transfer resumes in a later run instead of starting
// over. Persistence requires a path-based upload and a configured
// SessionStore; otherwise the transfer is a plain one-shot session.
func (m *Manager) resumableUpload(
	ctx context.Context, meta drive.FileMeta, content io.ReaderAt,
	size int64, path string, progress drive.ProgressFunc,
) (*drive.File, error) {
	folderID := meta.Parents[0]

	persist := m.sessions != nil && path != ""

	var hash string
	if persist {
		var err error
		if hash, err = fileHash(path); err != nil {
			m.logger.Warn("hashing file for session persistence failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)

			persist = false
		}
	}

	if persist {
		if f, resumed := m.tryResume(ctx, meta, content, size, path, hash, progress); resumed {
			return f, nil
		}
	}

	session, err := m.client.CreateUploadSession(ctx, meta, size)
	if err != nil {
		return nil, err
	}

	if persist {
		rec := SessionRecord{
			FolderID:   folderID,
			LocalPath:  path,
			SessionURI: session.URI,
			FileHash:   hash,
			FileSize:   size,
		}
		if saveErr := m.sessions.Save(rec); saveErr != nil {
			m.logger.Warn("persisting upload session failed", slog.String("error", saveErr.Error()))
		}
	}

	f, err := m.client.UploadFromSession(ctx, session, meta.MimeType, content, size, progress)
	if err != nil {
		// Keep the record so the next run can resume from the server's
		// acknowledged offset.
		return nil, err
	}

	if persist {
		if delErr := m.sessions.Delete(folderID, path); delErr != nil {
			m.logger.Warn("removing completed session record failed", slog.String("error", delErr.Error()))
		}
	}

	return f, nil
}

// tryResume continues a persisted session when one matches the file's
// current hash and size. Returns (file, true) on success; (nil, false)
// means the caller should open a fresh session.
func (m *Manager) tryResume(
	ctx context.Context, meta drive.FileMeta, content io.ReaderAt,
	size int64, path, hash string, progress drive.ProgressFunc,
) (*drive.File, bool) {
	folderID := meta.Parents[0]

	rec := m.sessions.Load(folderID, path)
	if rec == nil {
		return nil, false
	}

	if rec.FileHash != hash || rec.FileSize != size {
		m.logger.Info("file changed since interrupted upload, starting over", slog.String("path", path))
		m.dropSession(folderID, path)

		return nil, false
	}

	m.logger.Info("resuming interrupted upload", slog.String("path", path))

	session := &drive.UploadSession{URI: rec.SessionURI}

	f, err := m.client.ResumeUpload(ctx, session, meta.MimeType, content, size, progress)
	if err != nil {
		if errors.Is(err, drive.ErrSessionExpired) {
			m.logger.Info("persisted session expired, starting over", slog.String("path", path))
			m.dropSession(folderID, path)

			return nil, false
		}

		if ctx.Err() != nil {
			// Keep the record; the next run resumes again.
			return nil, false
		}

		m.logger.Warn("resume failed, starting over",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		m.dropSession(folderID, path)

		return nil, false
	}

	m.dropSession(folderID, path)

	return f, true
}

func (m *Manager) dropSession(folderID, path string) {
	if err := m.sessions.Delete(folderID, path); err != nil {
		m.logger.Warn("removing session record failed", slog.String("error", err.Error()))
	}
}

// grantAccess applies post-upload sharing. Failures are logged, never
// surfaced: the file is uploaded and usable either way.
func (m *Manager) grantAccess(ctx context.Context, fileID string) {
	if err := m.client.GrantReadAccess(ctx, fileID, m.overseer); err != nil {
		m.logger.Warn("post-upload permissioning failed",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}

// record writes the attempt to the history ledger, best-effort.
func (m *Manager) record(key, name string, f *drive.File, size int64, started time.Time, uploadErr error) {
	if m.recorder == nil {
		return
	}

	rec := UploadRecord{
		ID:         uuid.NewString(),
		Key:        key,
		Name:       name,
		Size:       size,
		Status:     StatusDone,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}

	if f != nil {
		rec.RemoteID = f.ID
		rec.ViewLink = f.WebViewLink
	}

	switch {
	case uploadErr == nil:
	case errors.Is(uploadErr, ErrCanceled):
		rec.Status = StatusCanceled
		rec.Error = uploadErr.Error()
	default:
		rec.Status = StatusFailed
		rec.Error = uploadErr.Error()
	}

	// The upload context may already be canceled; recording still proceeds.
	if err := m.recorder.Record(context.Background(), rec); err != nil {
		m.logger.Warn("recording upload history failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
