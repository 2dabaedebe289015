package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"
)

// permissionRequest is the JSON body for a permission grant.
type permissionRequest struct {
	Role         string `json:"role"`
	Type         string `json:"type"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// GrantReadAccess makes an uploaded file readable: anyone with the link can
// view, and overseerEmail (when non-empty) gets explicit reader access.
// Both grants run concurrently; the first error (if any) is returned so the
// caller can log it. The bytes are already durable by the time this runs —
// callers treat failures as warnings, not upload failures.
func (c *Client) GrantReadAccess(ctx context.Context, fileID, overseerEmail string) error {
	if fileID == "" {
		return fmt.Errorf("drive: file ID must not be empty")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.createPermission(gctx, fileID, permissionRequest{
			Role: "reader",
			Type: "anyone",
		})
	})

	if overseerEmail != "" {
		g.Go(func() error {
			return c.createPermission(gctx, fileID, permissionRequest{
				Role:         "reader",
				Type:         "user",
				EmailAddress: overseerEmail,
			})
		})
	}

	return g.Wait()
}

// createPermission issues one POST /files/{id}/permissions grant.
func (c *Client) createPermission(ctx context.Context, fileID string, perm permissionRequest) error {
	c.logger.Debug("granting permission",
		slog.String("file_id", fileID),
		slog.String("type", perm.Type),
		slog.String("role", perm.Role),
	)

	body, err := json.Marshal(perm)
	if err != nil {
		return fmt.Errorf("drive: marshaling permission request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, "/files/"+url.PathEscape(fileID)+"/permissions", body)
	if err != nil {
		return fmt.Errorf("drive: granting %s permission: %w", perm.Type, err)
	}
	defer resp.Body.Close()

	if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
		return fmt.Errorf("drive: draining permission response: %w", drainErr)
	}

	return nil
}
