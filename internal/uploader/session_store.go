package uploader

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// staleSessionAge is how long a persisted session record is trusted.
// Remote resumable sessions expire server-side after about a week.
const staleSessionAge = 7 * 24 * time.Hour

// SessionRecord is the persisted state of an interrupted resumable
// upload, enough to resume it in a later run.
type SessionRecord struct {
	FolderID   string    `json:"folderId"`
	LocalPath  string    `json:"localPath"`
	SessionURI string    `json:"sessionUri"`
	FileHash   string    `json:"fileHash"`
	FileSize   int64     `json:"fileSize"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SessionStore persists resumable-upload session records as one JSON file
// per upload under dir. Records are keyed by destination folder plus
// local path, so re-uploading the same file targets the same record.
type SessionStore struct {
	dir string
}

// NewSessionStore creates the backing directory if needed.
func NewSessionStore(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("uploader: creating session dir: %w", err)
	}

	return &SessionStore{dir: dir}, nil
}

// sessionKey derives a stable filename for a (folder, path) pair. Length
// prefixes keep distinct pairs from colliding.
func sessionKey(folderID, localPath string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s:%d:%s", len(folderID), folderID, len(localPath), localPath)

	return hex.EncodeToString(h.Sum(nil))
}

func (s *SessionStore) recordPath(folderID, localPath string) string {
	return filepath.Join(s.dir, sessionKey(folderID, localPath)+".json")
}

// Load returns the persisted record for the pair, or nil if none exists
// or the record is stale or unreadable.
func (s *SessionStore) Load(folderID, localPath string) *SessionRecord {
	data, err := os.ReadFile(s.recordPath(folderID, localPath))
	if err != nil {
		return nil
	}

	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}

	if rec.SessionURI == "" || time.Since(rec.CreatedAt) > staleSessionAge {
		return nil
	}

	return &rec
}

// Save writes the record atomically (temp file + rename).
func (s *SessionStore) Save(rec SessionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("uploader: marshaling session record: %w", err)
	}

	path := s.recordPath(rec.FolderID, rec.LocalPath)

	tmp, err := os.CreateTemp(s.dir, "session-*.tmp")
	if err != nil {
		return fmt.Errorf("uploader: creating temp session file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("uploader: writing session record: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("uploader: closing session record: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("uploader: renaming session record: %w", err)
	}

	return nil
}

// Delete removes the record for the pair. Missing records are not an error.
func (s *SessionStore) Delete(folderID, localPath string) error {
	err := os.Remove(s.recordPath(folderID, localPath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("uploader: removing session record: %w", err)
	}

	return nil
}

// CleanStale removes records older than staleSessionAge. Returns the
// number removed.
func (s *SessionStore) CleanStale() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("uploader: reading session dir: %w", err)
	}

	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var rec SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil || time.Since(rec.CreatedAt) > staleSessionAge {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}

	return removed, nil
}

// fileHash returns the hex SHA-256 of the file at path. Used to detect
// content changes between the interrupted upload and the resume attempt.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
