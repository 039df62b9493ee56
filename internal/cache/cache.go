// Package cache holds the client's in-memory copy of the ledger.
//
// The cache is replaced wholesale on every refresh: readers always see either the
// previous snapshot or the new one, never a mix. Change notifications call
// Invalidate, which coalesces bursts into at most one follow-up refresh.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/calculator"
	"github.com/mmynk/duoledger/internal/metrics"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

// Source is the part of storage.Store the cache reads from.
type Source interface {
	ListExpenses(ctx context.Context, order storage.Order) ([]models.Expense, error)
}

// Snapshot is one complete, ordered read of the ledger, newest first.
// Expenses must be treated as read-only.
type Snapshot struct {
	Expenses    []models.Expense
	Version     uint64
	RefreshedAt time.Time
}

// Balance folds the snapshot into the signed balance.
func (s Snapshot) Balance() decimal.Decimal {
	return calculator.ComputeBalance(s.Expenses)
}

// Find returns the expense with the given ID.
func (s Snapshot) Find(id string) (models.Expense, bool) {
	for _, e := range s.Expenses {
		if e.ID == id {
			return e, true
		}
	}
	return models.Expense{}, false
}

// Cache keeps the latest Snapshot of a Source.
type Cache struct {
	source  Source
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	current   atomic.Pointer[Snapshot]
	refreshMu sync.Mutex

	// background refresh state, guarded by mu
	mu        sync.Mutex
	running   bool
	dirty     bool
	closed    bool
	nextID    int
	listeners map[int]func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for the Cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics records refresh outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates an empty cache over source.
func New(source Source, opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		source:    source,
		logger:    slog.Default(),
		now:       time.Now,
		listeners: make(map[int]func(Snapshot)),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.current.Store(&Snapshot{})
	return c
}

// Snapshot returns the current snapshot.
func (c *Cache) Snapshot() Snapshot {
	return *c.current.Load()
}

// Refresh reads the whole ledger and replaces the snapshot. Refreshes run one at
// a time. On failure the previous snapshot is kept and a *storage.StoreError is
// returned alongside it.
func (c *Cache) Refresh(ctx context.Context) (Snapshot, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	expenses, err := c.source.ListExpenses(ctx, storage.NewestFirst)
	if err != nil {
		c.metrics.ObserveRefresh(0, err)
		return c.Snapshot(), storage.Wrap("refresh", err)
	}

	prev := c.current.Load()
	next := &Snapshot{
		Expenses:    expenses,
		Version:     prev.Version + 1,
		RefreshedAt: c.now(),
	}
	c.current.Store(next)
	c.metrics.ObserveRefresh(len(expenses), nil)
	c.logger.Debug("Ledger refreshed", "rows", len(expenses), "version", next.Version)

	for _, fn := range c.snapshotListeners() {
		fn(*next)
	}
	return *next, nil
}

// Invalidate schedules a background refresh and returns immediately. Calls made
// while a refresh is running collapse into a single follow-up refresh.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.running {
		c.dirty = true
		return
	}
	c.running = true
	c.wg.Add(1)
	go c.drain()
}

func (c *Cache) drain() {
	defer c.wg.Done()
	for {
		if _, err := c.Refresh(c.ctx); err != nil && c.ctx.Err() == nil {
			c.logger.Warn("Background refresh failed", "error", err)
		}

		c.mu.Lock()
		if !c.dirty || c.closed {
			c.running = false
			c.mu.Unlock()
			return
		}
		c.dirty = false
		c.mu.Unlock()
	}
}

// OnUpdate registers fn to run after every successful refresh. fn must not call
// Refresh. The returned func removes the registration.
func (c *Cache) OnUpdate(fn func(Snapshot)) func() {
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

func (c *Cache) snapshotListeners() []func(Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	return fns
}

// Close stops background refreshes and waits for a running one to finish.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}
