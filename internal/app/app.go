// Package app assembles the client side of the ledger: identity provider,
// record store, cache, synchronization controller and edit session.
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mmynk/duoledger/internal/auth"
	"github.com/mmynk/duoledger/internal/cache"
	"github.com/mmynk/duoledger/internal/config"
	"github.com/mmynk/duoledger/internal/controller"
	"github.com/mmynk/duoledger/internal/editor"
	"github.com/mmynk/duoledger/internal/metrics"
	"github.com/mmynk/duoledger/internal/remote"
	"github.com/mmynk/duoledger/internal/report"
	"github.com/mmynk/duoledger/internal/storage"
)

// App owns every client component. Nothing here is global; two Apps in one
// process do not share state.
type App struct {
	Config     *config.Config
	Provider   *auth.Client
	Store      storage.Store
	Cache      *cache.Cache
	Controller *controller.Controller
	Editor     *editor.Session
	Report     *report.Formatter

	logger *slog.Logger
}

type options struct {
	store        storage.Store
	backend      auth.Backend
	sessionStore auth.SessionStore
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// Option configures New.
type Option func(*options)

// WithStore uses store instead of the remote store at Config.ServerURL.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithBackend uses backend instead of the remote auth service.
func WithBackend(backend auth.Backend) Option {
	return func(o *options) {
		o.backend = backend
	}
}

// WithSessionStore persists the session through store instead of Config.SessionFile.
func WithSessionStore(store auth.SessionStore) Option {
	return func(o *options) {
		o.sessionStore = store
	}
}

// WithMetrics records cache refreshes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New builds an App from cfg. The App is unauthenticated until Start picks up
// a stored session or a sign-in completes.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if o.backend == nil {
		o.backend = remote.NewAuthBackend(cfg.ServerURL, remote.WithLogger(o.logger))
	}
	if o.sessionStore == nil {
		o.sessionStore = auth.FileSessionStore{Path: cfg.SessionFile}
	}
	provider := auth.NewClient(o.backend,
		auth.WithSessionStore(o.sessionStore),
		auth.WithClientLogger(o.logger),
	)

	if o.store == nil {
		o.store = remote.New(cfg.ServerURL,
			remote.WithTokenSource(provider.Token),
			remote.WithLogger(o.logger),
		)
	}

	ledger := cache.New(o.store, cache.WithLogger(o.logger), cache.WithMetrics(o.metrics))
	ctrl := controller.New(controller.Config{
		AllowList: cfg.AllowList(),
		Provider:  provider,
		Changes:   o.store,
		Ledger:    ledger,
		Redirect:  cfg.RedirectURL,
		Logger:    o.logger,
	})

	return &App{
		Config:     cfg,
		Provider:   provider,
		Store:      o.store,
		Cache:      ledger,
		Controller: ctrl,
		Editor:     editor.New(o.store, ledger, ctrl.Identity, editor.WithLogger(o.logger)),
		Report:     report.New(cfg.Currency, cfg.PartyAName, cfg.PartyBName),
		logger:     o.logger,
	}, nil
}

// Start applies the stored session, if any. When it is still valid the App
// ends up authenticated with a fresh snapshot and a live subscription.
func (a *App) Start(ctx context.Context) error {
	return a.Controller.Start(ctx)
}

// CompleteSignIn exchanges the token from a sign-in link for a session. The
// controller reacts to the resulting session change; if that left it
// unauthenticated, the session is applied once more so the cause is returned.
func (a *App) CompleteSignIn(ctx context.Context, link string) error {
	if _, err := a.Provider.CompleteSignIn(ctx, auth.TokenFromLink(link)); err != nil {
		return err
	}
	if state, _ := a.Controller.State(); state != controller.Authenticated {
		return a.Controller.Start(ctx)
	}
	return nil
}

// Close stops live sync and releases the store.
func (a *App) Close() error {
	a.Controller.Close()
	a.Cache.Close()
	if err := a.Store.Close(); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("Failed to close store", "error", err)
		return err
	}
	return nil
}
