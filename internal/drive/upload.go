package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// chunkAlignment is the required alignment for upload chunk sizes. The
// resumable protocol rejects intermediate chunks that are not multiples of
// 256 KiB.
const chunkAlignment = 256 * 1024

// ChunkSize is the window size for resumable uploads (16 MiB, a multiple of
// chunkAlignment). Larger windows amortize per-request overhead on
// multi-gigabyte files.
const ChunkSize = 64 * chunkAlignment

// SmallFileMaxSize is the maximum file size for the single-request
// multipart path (5 MiB). Small files do not benefit from resumability and
// would pay an extra round trip on the session path.
const SmallFileMaxSize = 5 * 1024 * 1024

// UploadSession is a server-allocated resumable upload handle. Bytes are
// PUT against URI in offset order; the URI is pre-authorized, so chunk
// requests carry no Authorization header.
type UploadSession struct {
	URI string
}

// MultipartUpload uploads a small file in a single multipart/related
// request carrying the metadata JSON part and the raw bytes part. content
// is read fully up front so retries resend identical bytes. Progress is
// reported from the request body stream.
func (c *Client) MultipartUpload(
	ctx context.Context, meta FileMeta, content io.Reader, size int64, progress ProgressFunc,
) (*File, error) {
	c.logger.Info("multipart upload",
		slog.String("name", meta.Name),
		slog.Int64("size", size),
	)

	body, contentType, err := buildMultipartBody(meta, content)
	if err != nil {
		return nil, err
	}

	uploadURL := c.uploadURL + "?uploadType=multipart&fields=" + url.QueryEscape(fileFields)

	build := func() (*http.Request, error) {
		rd := &countingReader{r: bytes.NewReader(body), total: size, progress: progress}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, rd)
		if reqErr != nil {
			return nil, fmt.Errorf("drive: creating multipart request: %w", reqErr)
		}

		req.Header.Set("Content-Type", contentType)
		req.ContentLength = int64(len(body))

		return req, nil
	}

	resp, err := c.doWithRetry(ctx, "multipart upload", build, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var f File
	if decErr := json.NewDecoder(resp.Body).Decode(&f); decErr != nil {
		return nil, fmt.Errorf("drive: decoding multipart upload response: %w", decErr)
	}

	c.logger.Debug("multipart upload complete",
		slog.String("file_id", f.ID),
		slog.String("name", f.Name),
	)

	return &f, nil
}

// buildMultipartBody assembles the multipart/related body: a JSON metadata
// part followed by the raw media part. Returns the body bytes and the
// request Content-Type including the boundary.
func buildMultipartBody(meta FileMeta, content io.Reader) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaHdr := textproto.MIMEHeader{}
	metaHdr.Set("Content-Type", "application/json; charset=UTF-8")

	metaPart, err := w.CreatePart(metaHdr)
	if err != nil {
		return nil, "", fmt.Errorf("drive: creating metadata part: %w", err)
	}

	if encErr := json.NewEncoder(metaPart).Encode(meta); encErr != nil {
		return nil, "", fmt.Errorf("drive: encoding file metadata: %w", encErr)
	}

	mediaHdr := textproto.MIMEHeader{}
	if meta.MimeType != "" {
		mediaHdr.Set("Content-Type", meta.MimeType)
	} else {
		mediaHdr.Set("Content-Type", "application/octet-stream")
	}

	mediaPart, err := w.CreatePart(mediaHdr)
	if err != nil {
		return nil, "", fmt.Errorf("drive: creating media part: %w", err)
	}

	if _, copyErr := io.Copy(mediaPart, content); copyErr != nil {
		return nil, "", fmt.Errorf("drive: reading upload content: %w", copyErr)
	}

	if closeErr := w.Close(); closeErr != nil {
		return nil, "", fmt.Errorf("drive: finalizing multipart body: %w", closeErr)
	}

	return buf.Bytes(), "multipart/related; boundary=" + w.Boundary(), nil
}

// CreateUploadSession opens a resumable upload session. The initiate
// request declares the content type and total size; the session handle
// comes back in the Location response header. Retried under the retry
// governor; any terminal failure (or a 2xx without Location) is
// ErrSessionInit.
func (c *Client) CreateUploadSession(ctx context.Context, meta FileMeta, size int64) (*UploadSession, error) {
	c.logger.Info("creating upload session",
		slog.String("name", meta.Name),
		slog.Int64("size", size),
	)

	bodyBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("drive: marshaling session metadata: %w", err)
	}

	uploadURL := c.uploadURL + "?uploadType=resumable&fields=" + url.QueryEscape(fileFields)

	build := func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(bodyBytes))
		if reqErr != nil {
			return nil, fmt.Errorf("drive: creating session request: %w", reqErr)
		}

		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
		req.Header.Set("X-Upload-Content-Type", meta.MimeType)
		req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))

		return req, nil
	}

	resp, err := c.doWithRetry(ctx, "session init", build, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionInit, err)
	}
	defer resp.Body.Close()

	if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
		return nil, fmt.Errorf("drive: draining session init response: %w", drainErr)
	}

	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, fmt.Errorf("%w: response missing Location header", ErrSessionInit)
	}

	c.logger.Debug("upload session created")

	return &UploadSession{URI: loc}, nil
}

// UploadFromSession streams content through the session in fixed-size
// windows, one in-flight request at a time, offsets strictly increasing
// and contiguous. Each chunk is retried individually under the retry
// governor; exhaustion fails the whole transfer with ErrChunkUpload.
// Progress is reported at chunk boundaries.
func (c *Client) UploadFromSession(
	ctx context.Context, session *UploadSession, contentType string,
	content io.ReaderAt, total int64, progress ProgressFunc,
) (*File, error) {
	return c.uploadChunks(ctx, session, contentType, content, 0, total, progress)
}

// ResumeUpload queries the session for the server-acknowledged offset and
// continues the chunk loop from there. Returns ErrSessionExpired when the
// remote no longer recognizes the session handle.
func (c *Client) ResumeUpload(
	ctx context.Context, session *UploadSession, contentType string,
	content io.ReaderAt, total int64, progress ProgressFunc,
) (*File, error) {
	c.logger.Info("querying upload session for resume")

	f, offset, err := c.queryUploadSession(ctx, session, total)
	if err != nil {
		return nil, err
	}

	// Session already complete server-side.
	if f != nil {
		return f, nil
	}

	c.logger.Info("resuming upload session",
		slog.Int64("offset", offset),
		slog.Int64("total", total),
	)

	return c.uploadChunks(ctx, session, contentType, content, offset, total, progress)
}

// uploadChunks drives the chunk loop from startOffset to completion.
func (c *Client) uploadChunks(
	ctx context.Context, session *UploadSession, contentType string,
	content io.ReaderAt, startOffset, total int64, progress ProgressFunc,
) (*File, error) {
	offset := startOffset

	for offset < total {
		length := ChunkSize
		if remaining := total - offset; remaining < int64(length) {
			length = int(remaining)
		}

		f, next, err := c.uploadChunkWithRetry(ctx, session, contentType, content, offset, int64(length), total)
		if err != nil {
			return nil, err
		}

		if f != nil {
			if progress != nil {
				progress(total, total)
			}

			c.logger.Debug("upload complete",
				slog.String("file_id", f.ID),
				slog.Int64("size", total),
			)

			return f, nil
		}

		// The server may acknowledge fewer bytes than sent; trust its
		// offset. A non-advancing ack would loop forever, so treat it as a
		// protocol violation.
		if next <= offset {
			return nil, fmt.Errorf("%w: server acknowledged offset %d did not advance past %d",
				ErrChunkUpload, next, offset)
		}

		offset = next

		if progress != nil {
			progress(offset, total)
		}
	}

	// All bytes were acknowledged with 308s but no final response arrived.
	return nil, fmt.Errorf("%w: session ended at offset %d without finalization", ErrChunkUpload, offset)
}

// uploadChunkWithRetry sends one window, reissuing it on transient failure
// with 1s/2s/4s backoff. A fresh SectionReader per attempt makes the chunk
// body re-readable. After exhausting retries the last error surfaces
// wrapped in ErrChunkUpload, carrying the final HTTP status.
func (c *Client) uploadChunkWithRetry(
	ctx context.Context, session *UploadSession, contentType string,
	content io.ReaderAt, offset, length, total int64,
) (*File, int64, error) {
	var attempt int
	for {
		chunk := io.NewSectionReader(content, offset, length)

		f, next, err := c.uploadChunk(ctx, session, contentType, chunk, offset, length, total)
		if err == nil {
			return f, next, nil
		}

		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("drive: chunk upload canceled: %w", ctx.Err())
		}

		if !chunkErrRetryable(err) || attempt >= maxRetries {
			return nil, 0, fmt.Errorf("%w: %w", ErrChunkUpload, err)
		}

		backoff := calcBackoff(attempt)
		c.logger.Warn("retrying chunk",
			slog.Int64("offset", offset),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil, 0, fmt.Errorf("drive: chunk upload canceled: %w", sleepErr)
		}

		attempt++
	}
}

// chunkErrRetryable reports whether a chunk failure is transient. Network
// errors (no APIError) are retryable; HTTP errors follow isRetryable.
func chunkErrRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return isRetryable(apiErr.StatusCode)
	}

	return true
}

// uploadChunk issues a single Content-Range PUT against the session handle
// and interprets the protocol's per-chunk state machine: 200/201 terminal
// success, 308 partial progress, anything else a chunk failure.
func (c *Client) uploadChunk(
	ctx context.Context, session *UploadSession, contentType string,
	chunk io.Reader, offset, length, total int64,
) (*File, int64, error) {
	contentRange := fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total)

	c.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int64("length", length),
		slog.Int64("total", total),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.URI, chunk)
	if err != nil {
		return nil, 0, fmt.Errorf("drive: creating chunk request: %w", err)
	}

	req.Header.Set("Content-Range", contentRange)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", userAgent)
	req.ContentLength = length

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("drive: chunk request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var f File
		if decErr := json.NewDecoder(resp.Body).Decode(&f); decErr != nil {
			return nil, 0, fmt.Errorf("drive: decoding final chunk response: %w", decErr)
		}

		return &f, total, nil

	case resp.StatusCode == statusResumeIncomplete:
		next := offset + length
		if acked, ok := parseAckedRange(resp.Header.Get("Range")); ok {
			next = acked
		}

		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return nil, 0, fmt.Errorf("drive: draining chunk response: %w", drainErr)
		}

		c.logger.Debug("chunk acknowledged", slog.Int64("next_offset", next))

		return nil, next, nil

	default:
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message

		return nil, 0, &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiErrorMessage(body),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// statusResumeIncomplete is the resumable protocol's "partial progress
// acknowledged, continue" status.
const statusResumeIncomplete = 308

// queryUploadSession asks the session which bytes it has. Returns the
// finalized File when the upload already completed, otherwise the next
// offset to send from.
func (c *Client) queryUploadSession(
	ctx context.Context, session *UploadSession, total int64,
) (*File, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.URI, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("drive: creating session query request: %w", err)
	}

	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("drive: session query failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var f File
		if decErr := json.NewDecoder(resp.Body).Decode(&f); decErr != nil {
			return nil, 0, fmt.Errorf("drive: decoding session query response: %w", decErr)
		}

		return &f, total, nil

	case resp.StatusCode == statusResumeIncomplete:
		offset := int64(0)
		if acked, ok := parseAckedRange(resp.Header.Get("Range")); ok {
			offset = acked
		}

		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return nil, 0, fmt.Errorf("drive: draining session query response: %w", drainErr)
		}

		return nil, offset, nil

	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return nil, 0, fmt.Errorf("drive: draining session query response: %w", drainErr)
		}

		return nil, 0, ErrSessionExpired

	default:
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message

		return nil, 0, &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiErrorMessage(body),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// parseAckedRange extracts the next expected offset from a session "Range"
// response header of the form "bytes=0-N" (N = last byte stored). Returns
// N+1 and true, or 0 and false when the header is absent or malformed.
func parseAckedRange(h string) (int64, bool) {
	if h == "" {
		return 0, false
	}

	h = strings.TrimPrefix(h, "bytes=")

	idx := strings.LastIndex(h, "-")
	if idx < 0 {
		return 0, false
	}

	last, err := strconv.ParseInt(h[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}

	return last + 1, true
}
