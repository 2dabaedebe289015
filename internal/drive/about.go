package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// User identifies the signed-in account.
type User struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// About returns the signed-in user's identity.
func (c *Client) About(ctx context.Context) (*User, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/about?fields=user(displayName,emailAddress)", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		User User `json:"user"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("drive: decoding about response: %w", err)
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return nil, fmt.Errorf("drive: draining about response: %w", err)
	}

	return &payload.User, nil
}
