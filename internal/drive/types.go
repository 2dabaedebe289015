package drive

import "io"

// File is the caller-visible artifact of a successful upload: the remote
// file identity plus the links needed to view or fetch it.
type File struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	WebViewLink    string `json:"webViewLink"`
	WebContentLink string `json:"webContentLink"`
	Size           int64  `json:"size,string"`
}

// fileFields is the fields selector requested on upload finalization so the
// response carries exactly the File shape above.
const fileFields = "id,name,webViewLink,webContentLink,size"

// FileMeta is the metadata sent when creating a file: the remote name, the
// content type, and the destination folder (fully-qualified parent ID,
// supplied by the caller).
type FileMeta struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType,omitempty"`
	Parents  []string `json:"parents,omitempty"`
}

// ProgressFunc receives transfer progress as bytes sent out of total.
// Called from the goroutine driving the transfer; implementations must be
// fast or hand off (the uploader's throttle takes care of rate limiting).
type ProgressFunc func(sent, total int64)

// countingReader reports cumulative bytes read to a ProgressFunc. Used on
// the multipart path where progress comes from the request body stream
// rather than chunk boundaries. Sent bytes are clamped to total so
// multipart envelope overhead never pushes progress past 100%.
type countingReader struct {
	r        io.Reader
	sent     int64
	total    int64
	progress ProgressFunc
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 && cr.progress != nil {
		cr.sent += int64(n)

		sent := cr.sent
		if sent > cr.total {
			sent = cr.total
		}

		cr.progress(sent, cr.total)
	}

	return n, err
}
