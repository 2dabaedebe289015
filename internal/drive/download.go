package drive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DownloadBytes fetches a file's content into memory. id may be a raw file
// ID or a share link (webViewLink / webContentLink); links are reduced to
// the embedded ID. Intended for the tracker's modest assets (thumbnails,
// scripts); multi-gigabyte media goes the other direction.
func (c *Client) DownloadBytes(ctx context.Context, id string) ([]byte, error) {
	fileID := ExtractFileID(id)
	if fileID == "" {
		return nil, fmt.Errorf("drive: cannot determine file ID from %q", id)
	}

	c.logger.Info("downloading file", slog.String("file_id", fileID))

	resp, err := c.Do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"?alt=media", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("drive: reading download body: %w", err)
	}

	c.logger.Debug("download complete",
		slog.String("file_id", fileID),
		slog.Int("bytes", len(data)),
	)

	return data, nil
}

// ExtractFileID reduces a file identifier or share link to the bare file
// ID. Accepted shapes:
//
//	<id>
//	https://drive.google.com/file/d/<id>/view
//	https://drive.google.com/open?id=<id>
//	https://drive.google.com/uc?id=<id>&export=download
//
// Returns "" when no ID can be found.
func ExtractFileID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if !strings.Contains(s, "/") && !strings.Contains(s, "?") {
		return s
	}

	u, err := url.Parse(s)
	if err != nil {
		return ""
	}

	if id := u.Query().Get("id"); id != "" {
		return id
	}

	// Path form: .../d/<id>/... — the segment after "d".
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg == "d" && i+1 < len(segments) {
			return segments[i+1]
		}
	}

	return ""
}
