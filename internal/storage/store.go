// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmynk/duoledger/internal/models"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("expense not found")

// ErrInvalidColumn is returned when an order or predicate names an unknown column.
var ErrInvalidColumn = errors.New("invalid column")

// StoreError reports a failed read or write against the record store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Wrap returns err as a *StoreError for op. A nil err stays nil and an
// existing *StoreError is returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// Columns that may be used for ordering and predicates.
const (
	ColumnID        = "id"
	ColumnName      = "name"
	ColumnAmount    = "amount"
	ColumnCreatedAt = "created_at"
)

// ValidColumn reports whether name is a known expense column.
func ValidColumn(name string) bool {
	switch name {
	case ColumnID, ColumnName, ColumnAmount, ColumnCreatedAt:
		return true
	}
	return false
}

// Order selects the sort column and direction of a listing.
type Order struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// NewestFirst is the display order of the ledger.
var NewestFirst = Order{Column: ColumnCreatedAt, Descending: true}

// Predicate selects rows for DeleteWhere: every row whose Column differs from Value.
type Predicate struct {
	Column   string `json:"column"`
	NotEqual string `json:"not_equal"`
}

// ClearSentinel is an identifier no store-assigned row can carry.
const ClearSentinel = "00000000-0000-0000-0000-000000000000"

// MatchAll is a predicate true for every stored row.
var MatchAll = Predicate{Column: ColumnID, NotEqual: ClearSentinel}

// Store defines the interface for expense storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, a remote
// server) without changing the components that consume it.
type Store interface {
	// ListExpenses returns every expense in the given order.
	ListExpenses(ctx context.Context, order Order) ([]models.Expense, error)

	// InsertExpense stores a new expense. The store assigns ID and CreatedAt.
	// An empty owner is stored as unknown.
	InsertExpense(ctx context.Context, fields models.ExpenseFields, owner string) error

	// UpdateExpense replaces the mutable fields of an existing expense.
	// Returns ErrNotFound if no row has the identifier.
	UpdateExpense(ctx context.Context, id string, fields models.ExpenseFields) error

	// DeleteExpense removes one expense. Deleting a missing row is not an error.
	DeleteExpense(ctx context.Context, id string) error

	// DeleteWhere removes every expense matching the predicate.
	DeleteWhere(ctx context.Context, pred Predicate) error

	// Subscribe delivers change notifications for the events in mask until the
	// returned subscription is closed.
	Subscribe(ctx context.Context, mask EventMask, handler ChangeHandler) (Subscription, error)

	// Close releases any resources held by the store.
	Close() error
}
