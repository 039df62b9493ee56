// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
// Change notifications are published in-process after every successful write.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
	"github.com/mmynk/duoledger/internal/storage/sqlbuild"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db      *sqlx.DB
	sql     sqlbuild.Builder
	broker  *storage.Broker
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the logger used for query diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLiteStore) {
		s.logger = logger
	}
}

// WithBroker publishes change notifications to an existing broker.
func WithBroker(b *storage.Broker) Option {
	return func(s *SQLiteStore) {
		s.broker = b
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		s.nowFunc = now
	}
}

type expenseRow struct {
	ID        string          `db:"id"`
	Name      string          `db:"name"`
	Amount    decimal.Decimal `db:"amount"`
	Kind      string          `db:"kind"`
	Payer     string          `db:"payer"`
	Owner     sql.NullString  `db:"owner"`
	CreatedAt int64           `db:"created_at"`
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string, opts ...Option) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps the pragmas below in effect.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		sql:     sqlbuild.New(sqlbuild.DialectSQLite, "rowid"),
		broker:  storage.NewBroker(),
		logger:  slog.Default(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Broker returns the broker change notifications are published to.
func (s *SQLiteStore) Broker() *storage.Broker {
	return s.broker
}

// Close closes the database connection and ends all subscriptions.
func (s *SQLiteStore) Close() error {
	s.broker.CloseAll()
	return s.db.Close()
}

// ListExpenses returns every expense in the given order.
func (s *SQLiteStore) ListExpenses(ctx context.Context, order storage.Order) ([]models.Expense, error) {
	stmt, err := s.sql.SelectExpenses(order)
	if err != nil {
		return nil, storage.Wrap("list", err)
	}

	var rows []expenseRow
	if err := s.db.SelectContext(ctx, &rows, stmt.SQL, stmt.Args...); err != nil {
		s.logger.Error("Failed to list expenses", "error", err, "query", stmt.SQL)
		return nil, storage.Wrap("list", fmt.Errorf("failed to query expenses: %w", err))
	}

	expenses := make([]models.Expense, 0, len(rows))
	for _, row := range rows {
		expenses = append(expenses, row.toModel())
	}
	return expenses, nil
}

// InsertExpense persists a new expense, assigning its ID and creation time.
func (s *SQLiteStore) InsertExpense(ctx context.Context, fields models.ExpenseFields, owner string) error {
	id := uuid.New().String()
	stmt, err := s.sql.InsertExpense(id, fields, owner, s.nowFunc().UnixNano())
	if err != nil {
		return storage.Wrap("insert", err)
	}

	if _, err := s.db.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
		return storage.Wrap("insert", fmt.Errorf("failed to insert expense: %w", err))
	}

	s.logger.Debug("Expense inserted", "id", id, "owner", owner)
	s.broker.Publish(storage.Change{Event: storage.EventInsert, ID: id})
	return nil
}

// UpdateExpense replaces the mutable fields of an existing expense.
func (s *SQLiteStore) UpdateExpense(ctx context.Context, id string, fields models.ExpenseFields) error {
	stmt, err := s.sql.UpdateExpense(id, fields)
	if err != nil {
		return storage.Wrap("update", err)
	}

	result, err := s.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return storage.Wrap("update", fmt.Errorf("failed to update expense: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.Wrap("update", fmt.Errorf("failed to get rows affected: %w", err))
	}
	if affected == 0 {
		return storage.Wrap("update", fmt.Errorf("%w: %s", storage.ErrNotFound, id))
	}

	s.broker.Publish(storage.Change{Event: storage.EventUpdate, ID: id})
	return nil
}

// DeleteExpense removes an expense by ID.
func (s *SQLiteStore) DeleteExpense(ctx context.Context, id string) error {
	stmt, err := s.sql.DeleteExpense(id)
	if err != nil {
		return storage.Wrap("delete", err)
	}

	result, err := s.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return storage.Wrap("delete", fmt.Errorf("failed to delete expense: %w", err))
	}
	if affected, err := result.RowsAffected(); err == nil && affected > 0 {
		s.broker.Publish(storage.Change{Event: storage.EventDelete, ID: id})
	}
	return nil
}

// DeleteWhere removes every expense matching the predicate.
func (s *SQLiteStore) DeleteWhere(ctx context.Context, pred storage.Predicate) error {
	stmt, err := s.sql.DeleteWhere(pred)
	if err != nil {
		return storage.Wrap("delete_where", err)
	}

	result, err := s.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return storage.Wrap("delete_where", fmt.Errorf("failed to delete expenses: %w", err))
	}

	affected, _ := result.RowsAffected()
	s.logger.Info("Expenses deleted", "column", pred.Column, "count", affected)
	if affected > 0 {
		s.broker.Publish(storage.Change{Event: storage.EventDelete})
	}
	return nil
}

// Subscribe delivers change notifications for writes made through this store.
func (s *SQLiteStore) Subscribe(ctx context.Context, mask storage.EventMask, handler storage.ChangeHandler) (storage.Subscription, error) {
	sub, err := s.broker.Subscribe(ctx, mask, handler)
	if err != nil {
		return nil, storage.Wrap("subscribe", err)
	}
	return sub, nil
}

func (r expenseRow) toModel() models.Expense {
	return models.Expense{
		ID: r.ID,
		ExpenseFields: models.ExpenseFields{
			Name:   r.Name,
			Amount: r.Amount,
			Kind:   models.Kind(r.Kind),
			Payer:  models.Party(r.Payer),
		},
		Owner:     r.Owner.String,
		CreatedAt: time.Unix(0, r.CreatedAt),
	}
}
