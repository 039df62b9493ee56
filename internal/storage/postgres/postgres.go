// Package postgres provides a Postgres-backed storage.Store. Change notifications
// come from a row trigger over LISTEN/NOTIFY, so writes made by any process
// connected to the same database reach every subscriber.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
	"github.com/mmynk/duoledger/internal/storage/sqlbuild"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

const reconnectDelay = time.Second

// Store implements storage.Store using a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	sql    sqlbuild.Builder
	broker *storage.Broker
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the Store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithBroker publishes change notifications to an existing broker.
func WithBroker(b *storage.Broker) Option {
	return func(s *Store) {
		s.broker = b
	}
}

type expenseRow struct {
	ID        string          `db:"id"`
	Name      string          `db:"name"`
	Amount    decimal.Decimal `db:"amount"`
	Kind      string          `db:"kind"`
	Payer     string          `db:"payer"`
	Owner     *string         `db:"owner"`
	CreatedAt time.Time       `db:"created_at"`
}

type notification struct {
	Event string `json:"event"`
	ID    string `json:"id"`
}

// New connects to dsn, applies the schema and starts listening for changes.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Store{
		pool:   pool,
		sql:    sqlbuild.New(sqlbuild.DialectPostgres, "seq"),
		broker: storage.NewBroker(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.listen(listenCtx)

	return s, nil
}

// Broker returns the broker change notifications are published to.
func (s *Store) Broker() *storage.Broker {
	return s.broker
}

// Close stops the listener, ends all subscriptions and closes the pool.
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()
	s.broker.CloseAll()
	s.pool.Close()
	return nil
}

// ListExpenses returns every expense in the given order.
func (s *Store) ListExpenses(ctx context.Context, order storage.Order) ([]models.Expense, error) {
	stmt, err := s.sql.SelectExpenses(order)
	if err != nil {
		return nil, storage.Wrap("list", err)
	}

	rows, err := s.pool.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, storage.Wrap("list", fmt.Errorf("failed to query expenses: %w", err))
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[expenseRow])
	if err != nil {
		return nil, storage.Wrap("list", fmt.Errorf("failed to scan expenses: %w", err))
	}

	expenses := make([]models.Expense, 0, len(collected))
	for _, row := range collected {
		expenses = append(expenses, row.toModel())
	}
	return expenses, nil
}

// InsertExpense persists a new expense, assigning its ID and creation time.
func (s *Store) InsertExpense(ctx context.Context, fields models.ExpenseFields, owner string) error {
	stmt, err := s.sql.InsertExpense(uuid.New().String(), fields, owner, time.Now().UTC())
	if err != nil {
		return storage.Wrap("insert", err)
	}
	if _, err := s.pool.Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
		return storage.Wrap("insert", fmt.Errorf("failed to insert expense: %w", err))
	}
	return nil
}

// UpdateExpense replaces the mutable fields of an existing expense.
func (s *Store) UpdateExpense(ctx context.Context, id string, fields models.ExpenseFields) error {
	stmt, err := s.sql.UpdateExpense(id, fields)
	if err != nil {
		return storage.Wrap("update", err)
	}
	tag, err := s.pool.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return storage.Wrap("update", fmt.Errorf("failed to update expense: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return storage.Wrap("update", fmt.Errorf("%w: %s", storage.ErrNotFound, id))
	}
	return nil
}

// DeleteExpense removes an expense by ID.
func (s *Store) DeleteExpense(ctx context.Context, id string) error {
	stmt, err := s.sql.DeleteExpense(id)
	if err != nil {
		return storage.Wrap("delete", err)
	}
	if _, err := s.pool.Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
		return storage.Wrap("delete", fmt.Errorf("failed to delete expense: %w", err))
	}
	return nil
}

// DeleteWhere removes every expense matching the predicate.
func (s *Store) DeleteWhere(ctx context.Context, pred storage.Predicate) error {
	stmt, err := s.sql.DeleteWhere(pred)
	if err != nil {
		return storage.Wrap("delete_where", err)
	}
	tag, err := s.pool.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return storage.Wrap("delete_where", fmt.Errorf("failed to delete expenses: %w", err))
	}
	s.logger.Info("Expenses deleted", "column", pred.Column, "count", tag.RowsAffected())
	return nil
}

// Subscribe delivers change notifications raised by the expenses trigger.
func (s *Store) Subscribe(ctx context.Context, mask storage.EventMask, handler storage.ChangeHandler) (storage.Subscription, error) {
	sub, err := s.broker.Subscribe(ctx, mask, handler)
	if err != nil {
		return nil, storage.Wrap("subscribe", err)
	}
	return sub, nil
}

// listen holds one pooled connection on LISTEN and republishes notifications.
// After a lost connection it reconnects and publishes a synthetic update so
// subscribers resynchronize anything missed in between.
func (s *Store) listen(ctx context.Context) {
	defer s.wg.Done()

	reconnected := false
	for ctx.Err() == nil {
		err := s.listenOnce(ctx, reconnected)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Change listener disconnected", "error", err, "retry_in", reconnectDelay)
		reconnected = true

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context, resync bool) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.logger.Debug("Listening for expense changes", "channel", notifyChannel)
	if resync {
		s.broker.Publish(storage.Change{Event: storage.EventUpdate})
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		change, err := parseNotification(n.Payload)
		if err != nil {
			s.logger.Warn("Ignoring malformed change notification", "payload", n.Payload, "error", err)
			continue
		}
		s.broker.Publish(change)
	}
}

func parseNotification(payload string) (storage.Change, error) {
	var n notification
	if err := jsoniter.ConfigFastest.UnmarshalFromString(payload, &n); err != nil {
		return storage.Change{}, err
	}
	event, err := storage.ParseEventType(n.Event)
	if err != nil {
		return storage.Change{}, err
	}
	if n.ID == "" {
		return storage.Change{}, errors.New("notification without id")
	}
	return storage.Change{Event: event, ID: n.ID}, nil
}

func (r expenseRow) toModel() models.Expense {
	e := models.Expense{
		ID: r.ID,
		ExpenseFields: models.ExpenseFields{
			Name:   r.Name,
			Amount: r.Amount,
			Kind:   models.Kind(r.Kind),
			Payer:  models.Party(r.Payer),
		},
		CreatedAt: r.CreatedAt,
	}
	if r.Owner != nil {
		e.Owner = *r.Owner
	}
	return e
}
