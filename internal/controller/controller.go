// Package controller ties authentication to live synchronization.
//
// While a session for an allow-listed identity is active, the controller holds
// exactly one change subscription on the store and invalidates the ledger cache
// on every change it delivers. Any other session state has no subscription.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/duoledger/internal/auth"
	"github.com/mmynk/duoledger/internal/cache"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

// State is the authentication state seen by the user.
type State int

const (
	Unauthenticated State = iota
	AuthenticatingPending
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case AuthenticatingPending:
		return "pending"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// Subscriber opens change subscriptions. storage.Store satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, mask storage.EventMask, handler storage.ChangeHandler) (storage.Subscription, error)
}

// Ledger is the cache the controller keeps in sync.
type Ledger interface {
	Refresh(ctx context.Context) (cache.Snapshot, error)
	Invalidate()
}

// Config holds the controller's collaborators.
type Config struct {
	AllowList auth.AllowList
	Provider  auth.Provider
	Changes   Subscriber
	Ledger    Ledger

	// Redirect is where sign-in links send the user back to.
	Redirect string
	Logger   *slog.Logger
}

// Controller is the synchronization controller.
type Controller struct {
	allow    auth.AllowList
	gate     *auth.Gate
	provider auth.Provider
	changes  Subscriber
	ledger   Ledger
	redirect string
	logger   *slog.Logger
	now      func() time.Time

	// transition serializes entering and leaving Authenticated.
	transition sync.Mutex

	mu            sync.Mutex
	identity      string
	pending       bool
	sub           storage.Subscription
	cancelSession func()
	nextID        int
	listeners     map[int]func(State, string)
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an unauthenticated controller. Call Start to pick up an
// existing session.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		allow:     cfg.AllowList,
		gate:      auth.NewGate(cfg.AllowList, cfg.Provider),
		provider:  cfg.Provider,
		changes:   cfg.Changes,
		ledger:    cfg.Ledger,
		redirect:  cfg.Redirect,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]func(State, string)),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start listens for session changes and applies the provider's current session.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancelSession == nil {
		c.cancelSession = c.provider.OnSessionChange(c.sessionChanged)
	}
	c.mu.Unlock()

	session, err := c.provider.CurrentSession(ctx)
	if err != nil {
		c.leave()
		return err
	}
	return c.apply(ctx, session)
}

// State returns the current state and, when authenticated, the identity.
func (c *Controller) State() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(), c.identity
}

// Identity returns the authenticated identity, or "".
func (c *Controller) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Controller) stateLocked() State {
	switch {
	case c.identity != "":
		return Authenticated
	case c.pending:
		return AuthenticatingPending
	}
	return Unauthenticated
}

// OnStateChange registers fn for every state change. The returned func removes
// the registration.
func (c *Controller) OnStateChange(fn func(State, string)) func() {
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

// RequestAccess sends a sign-in link to identity. Identities outside the
// allow-list get auth.ErrUnauthorized and the state is not touched. On provider
// failure the previous state is restored and a *auth.ProviderError is returned.
func (c *Controller) RequestAccess(ctx context.Context, identity string) error {
	if !c.gate.IsAuthorized(identity) {
		return auth.ErrUnauthorized
	}

	c.mu.Lock()
	wasPending := c.pending
	c.pending = true
	c.mu.Unlock()
	c.notify()

	if err := c.gate.RequestAccess(ctx, identity, c.redirect); err != nil {
		c.mu.Lock()
		c.pending = wasPending
		c.mu.Unlock()
		c.notify()
		return err
	}
	return nil
}

// SignOut ends the session with the provider and always becomes
// Unauthenticated locally. The provider error, if any, is still returned.
func (c *Controller) SignOut(ctx context.Context) error {
	err := c.provider.SignOut(ctx)
	c.leave()
	return err
}

// Close cancels the session listener and the live subscription.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancelSession := c.cancelSession
	c.cancelSession = nil
	c.mu.Unlock()

	if cancelSession != nil {
		cancelSession()
	}
	c.cancel()
	c.closeSubscription()
}

func (c *Controller) sessionChanged(session *models.Session) {
	if err := c.apply(c.ctx, session); err != nil {
		c.logger.Warn("Failed to apply session change", "error", err)
	}
}

// apply moves to Authenticated for an active allow-listed session and to
// Unauthenticated for anything else.
func (c *Controller) apply(ctx context.Context, session *models.Session) error {
	if session == nil || !session.Active(c.now()) {
		c.leave()
		return nil
	}
	if !c.allow.Contains(session.Identity) {
		c.logger.Warn("Ignoring session for identity outside the allow-list", "identity", session.Identity)
		c.leave()
		return nil
	}
	return c.enter(ctx, auth.Normalize(session.Identity))
}

// enter replaces the live subscription with a new one and refreshes the ledger.
// The identity is published only once the subscription is open; if it cannot
// be opened the controller drops to Unauthenticated and returns a
// *storage.StoreError.
func (c *Controller) enter(ctx context.Context, identity string) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	old := c.sub
	c.sub = nil
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	sub, err := c.changes.Subscribe(c.ctx, storage.AllEvents, c.changed)
	if err != nil {
		c.mu.Lock()
		changed := c.identity != "" || c.pending
		c.identity = ""
		c.pending = false
		c.mu.Unlock()
		if changed {
			c.notify()
		}
		c.logger.Warn("Live sync could not start", "identity", identity, "error", err)
		return storage.Wrap("subscribe", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Close()
		return nil
	}
	c.identity = identity
	c.pending = false
	c.sub = sub
	c.mu.Unlock()
	c.notify()
	c.logger.Info("Live sync started", "identity", identity)

	if _, err := c.ledger.Refresh(ctx); err != nil {
		c.logger.Warn("Initial refresh failed", "error", err)
	}
	return nil
}

// leave drops to Unauthenticated and closes the subscription.
func (c *Controller) leave() {
	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	changed := c.identity != "" || c.pending
	c.identity = ""
	c.pending = false
	c.mu.Unlock()

	c.closeSubscription()
	if changed {
		c.notify()
	}
}

func (c *Controller) closeSubscription() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		if err := sub.Close(); err != nil {
			c.logger.Warn("Failed to close subscription", "error", err)
		}
		c.logger.Info("Live sync stopped")
	}
}

func (c *Controller) changed(change storage.Change) {
	c.logger.Debug("Ledger changed", "event", change.Event, "id", change.ID)
	c.ledger.Invalidate()
}

func (c *Controller) notify() {
	c.mu.Lock()
	state, identity := c.stateLocked(), c.identity
	fns := make([]func(State, string), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(state, identity)
	}
}
