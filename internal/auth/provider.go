package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/mmynk/duoledger/internal/models"
)

// Provider defines the identity provider as seen by the synchronization
// controller. Implementations may be in-process or remote.
type Provider interface {
	// CurrentSession returns the active session, or nil when signed out.
	CurrentSession(ctx context.Context) (*models.Session, error)

	// RequestOneTimeLink asks for a sign-in link to be sent to identity.
	RequestOneTimeLink(ctx context.Context, identity, redirect string) error

	// OnSessionChange registers fn for every session change; a nil session means
	// signed out. The returned func removes the registration.
	OnSessionChange(fn func(*models.Session)) (cancel func())

	// SignOut ends the current session.
	SignOut(ctx context.Context) error
}

// SessionStore persists the client's session between process runs.
type SessionStore interface {
	Load() (*models.Session, error)
	Save(s *models.Session) error
	Clear() error
}

// Ensure Client implements Provider
var _ Provider = (*Client)(nil)

// Client implements Provider on top of a Backend. It holds the current
// session and fans session changes out to registered listeners.
type Client struct {
	backend Backend
	store   SessionStore
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	session   *models.Session
	loaded    bool
	nextID    int
	listeners map[int]func(*models.Session)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSessionStore persists sessions through store.
func WithSessionStore(store SessionStore) ClientOption {
	return func(c *Client) {
		c.store = store
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a provider client over backend.
func NewClient(backend Backend, opts ...ClientOption) *Client {
	c := &Client{
		backend:   backend,
		logger:    slog.Default(),
		now:       time.Now,
		listeners: make(map[int]func(*models.Session)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentSession returns the held session after confirming it with the
// backend. A session the backend rejects is dropped and nil is returned.
func (c *Client) CurrentSession(ctx context.Context) (*models.Session, error) {
	session := c.held()
	if session == nil {
		return nil, nil
	}
	if !session.Active(c.now()) {
		c.replace(nil)
		return nil, nil
	}

	checked, err := c.backend.Check(ctx, session.Token)
	if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMissingToken) {
		c.logger.Info("Stored session rejected", "identity", session.Identity, "error", err)
		c.replace(nil)
		return nil, nil
	}
	if err != nil {
		return nil, providerError("get session", err)
	}
	return checked, nil
}

// Token returns the bearer token of the held session, or "".
func (c *Client) Token() string {
	if s := c.held(); s != nil {
		return s.Token
	}
	return ""
}

// RequestOneTimeLink forwards the link request to the backend.
func (c *Client) RequestOneTimeLink(ctx context.Context, identity, redirect string) error {
	return providerError("request link", c.backend.RequestLink(ctx, identity, redirect))
}

// CompleteSignIn exchanges a link token for a session and notifies listeners.
func (c *Client) CompleteSignIn(ctx context.Context, linkToken string) (*models.Session, error) {
	session, err := c.backend.Verify(ctx, linkToken)
	if err != nil {
		return nil, providerError("verify link", err)
	}
	c.replace(session)
	return session, nil
}

// SignOut revokes the session with the backend and clears it locally. The
// local session is cleared even when the backend call fails.
func (c *Client) SignOut(ctx context.Context) error {
	session := c.held()
	if session == nil {
		return nil
	}
	err := c.backend.Revoke(ctx, session.Token)
	c.replace(nil)
	return providerError("sign out", err)
}

// OnSessionChange registers fn for session changes.
func (c *Client) OnSessionChange(fn func(*models.Session)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// held returns the in-memory session, loading it from the store once.
func (c *Client) held() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded && c.store != nil {
		c.loaded = true
		session, err := c.store.Load()
		if err != nil {
			c.logger.Warn("Failed to load stored session", "error", err)
		}
		c.session = session
	}
	return c.session
}

// replace swaps the held session, persists it and notifies listeners.
func (c *Client) replace(session *models.Session) {
	c.mu.Lock()
	c.session = session
	c.loaded = true
	listeners := make([]func(*models.Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	if c.store != nil {
		var err error
		if session == nil {
			err = c.store.Clear()
		} else {
			err = c.store.Save(session)
		}
		if err != nil {
			c.logger.Warn("Failed to persist session", "error", err)
		}
	}

	for _, fn := range listeners {
		fn(session)
	}
}

// FileSessionStore keeps the session as JSON in a single file.
type FileSessionStore struct {
	Path string
}

// Load reads the stored session. A missing file means no session.
func (f FileSessionStore) Load() (*models.Session, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var s models.Session
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}
	return &s, nil
}

// Save writes the session with owner-only permissions.
func (f FileSessionStore) Save(s *models.Session) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Clear removes the stored session.
func (f FileSessionStore) Clear() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
