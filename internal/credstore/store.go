// Package credstore owns the delegated-access credential: a short-lived
// OAuth2 bearer token plus its absolute expiry, persisted across process
// restarts. It is the single source of truth for "are we authorized" — one
// Store instance is injected into every upload, and callers only ever see
// token strings handed out at request dispatch time.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/arsalan507/studioflow/internal/tokenfile"
)

// ErrAuthRequired means no non-expired credential exists and silent
// re-authorization was not possible. The caller must run the interactive
// sign-in flow.
var ErrAuthRequired = errors.New("credstore: authorization required (sign in first)")

// expiryMargin treats the token as expired this long before its stated
// lifetime, so an in-flight long operation does not straddle real expiry.
const expiryMargin = 5 * time.Minute

// driveScope limits access to files created or opened by the app.
const driveScope = "https://www.googleapis.com/auth/drive.file"

// OAuthConfig builds the oauth2.Config used for sign-in and refresh.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{driveScope},
		Endpoint:     google.Endpoint,
	}
}

// Store holds the credential and its persistence path. All methods are safe
// for concurrent use; the token and expiry are shared mutable state across
// every in-flight upload, and a refresh triggered by one upload becomes
// visible to all subsequently-issued requests.
type Store struct {
	path   string
	cfg    *oauth2.Config
	logger *slog.Logger

	// Interactive, when set, performs the user-facing authorization flow.
	// EnsureValid falls back to it after silent refresh fails. Nil means
	// non-interactive contexts fail with ErrAuthRequired instead.
	Interactive func(ctx context.Context) (*oauth2.Token, error)

	// now is the clock; tests override it.
	now func() time.Time

	mu   sync.Mutex
	tok  *oauth2.Token
	meta map[string]string
}

// New creates a Store backed by the credential file at path. A persisted
// credential past its expiry with no refresh token is purged eagerly rather
// than surfaced.
func New(path string, cfg *oauth2.Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:   path,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}

	tok, meta, err := tokenfile.Load(path)
	if err != nil {
		return nil, err
	}

	if tok != nil && !s.usable(tok) {
		logger.Info("discarding expired persisted credential",
			slog.String("path", path),
			slog.Time("expiry", tok.Expiry),
		)

		if rmErr := tokenfile.Remove(path); rmErr != nil {
			logger.Warn("failed to purge expired credential file",
				slog.String("path", path),
				slog.String("error", rmErr.Error()),
			)
		}

		tok = nil
		meta = nil
	}

	s.tok = tok
	s.meta = meta

	return s, nil
}

// validNow reports whether tok can be attached to a request right now,
// applying the safety margin.
func (s *Store) validNow(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}

	if tok.Expiry.IsZero() {
		return true
	}

	return s.now().Before(tok.Expiry.Add(-expiryMargin))
}

// usable reports whether tok is worth keeping: either valid now or
// silently refreshable later.
func (s *Store) usable(tok *oauth2.Token) bool {
	return s.validNow(tok) || (tok != nil && tok.RefreshToken != "")
}

// Token returns a bearer token to attach to a request, refreshing silently
// when the current one is inside the expiry margin. Implements
// drive.TokenSource. The token is captured by the request at dispatch; a
// later refresh never swaps the credential on an already-sent request.
func (s *Store) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.validNow(s.tok) {
		return s.tok.AccessToken, nil
	}

	if err := s.refreshLocked(context.Background()); err != nil {
		return "", err
	}

	return s.tok.AccessToken, nil
}

// refreshLocked exchanges the refresh token for a fresh access token and
// persists the result. Caller holds s.mu.
func (s *Store) refreshLocked(ctx context.Context) error {
	if s.tok == nil || s.tok.RefreshToken == "" {
		return ErrAuthRequired
	}

	// Blank the access token so the oauth2 transport refreshes
	// unconditionally — its internal expiry delta is looser than ours.
	stale := *s.tok
	stale.AccessToken = ""

	fresh, err := s.cfg.TokenSource(ctx, &stale).Token()
	if err != nil {
		s.logger.Warn("credential refresh failed", slog.String("error", err.Error()))

		return fmt.Errorf("%w: refresh failed: %w", ErrAuthRequired, err)
	}

	// Refresh responses may omit the refresh token; keep the old one.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = s.tok.RefreshToken
	}

	s.tok = fresh
	s.persistLocked()

	s.logger.Info("credential refreshed", slog.Time("expiry", fresh.Expiry))

	return nil
}

// EnsureValid guarantees a non-expired credential exists, refreshing
// silently or running the interactive flow as needed. Fails with
// ErrAuthRequired when neither succeeds.
func (s *Store) EnsureValid(ctx context.Context) error {
	s.mu.Lock()

	if s.validNow(s.tok) {
		s.mu.Unlock()
		return nil
	}

	refreshErr := s.refreshLocked(ctx)
	if refreshErr == nil {
		s.mu.Unlock()
		return nil
	}

	interactive := s.Interactive
	s.mu.Unlock()

	if interactive == nil {
		return refreshErr
	}

	tok, err := interactive(ctx)
	if err != nil {
		return fmt.Errorf("%w: interactive authorization failed: %w", ErrAuthRequired, err)
	}

	s.SetToken(tok, nil)

	return nil
}

// SetToken installs a freshly-obtained credential and persists it.
// Existing metadata is kept unless meta is non-nil.
func (s *Store) SetToken(tok *oauth2.Token, meta map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tok = tok
	if meta != nil {
		s.meta = meta
	}

	s.persistLocked()
}

// persistLocked writes the credential file. Persistence failures are logged
// but never fail the caller — the in-memory credential still works for this
// process lifetime.
func (s *Store) persistLocked() {
	if err := tokenfile.Save(s.path, s.tok, s.meta); err != nil {
		s.logger.Warn("failed to persist credential",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		return
	}

	s.logger.Debug("credential persisted", slog.String("path", s.path))
}

// Invalidate clears all credential state, memory and disk. Used on sign-out
// and on an authorization-denied response from the remote API, forcing the
// next call to re-authorize instead of retrying a token that will never
// work.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tok = nil
	s.meta = nil

	if err := tokenfile.Remove(s.path); err != nil {
		s.logger.Warn("failed to remove credential file",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("credential invalidated", slog.String("path", s.path))
}

// SignedIn reports whether a usable credential exists (valid now or
// silently refreshable).
func (s *Store) SignedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.usable(s.tok)
}

// Expiry returns the current credential's expiry, or the zero time when
// signed out.
func (s *Store) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tok == nil {
		return time.Time{}
	}

	return s.tok.Expiry
}

// Meta returns a metadata value cached alongside the credential (e.g. the
// signed-in account email).
func (s *Store) Meta(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.meta[key]
}

// MergeMeta caches metadata alongside the credential and persists it.
func (s *Store) MergeMeta(meta map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meta == nil {
		s.meta = make(map[string]string, len(meta))
	}

	for k, v := range meta {
		s.meta[k] = v
	}

	s.persistLocked()
}
