// Package sqlbuild builds the expense table statements shared by the SQL stores.
package sqlbuild

import (
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"

	// Table is the expense table name.
	Table = "expenses"

	colKind  = "kind"
	colPayer = "payer"
	colOwner = "owner"
)

// Statement is a prepared SQL string with its arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Builder builds statements for one dialect.
type Builder struct {
	dialect  goqu.DialectWrapper
	tiebreak string
}

// New creates a builder for dialect. tiebreak names a monotonically increasing
// column used to order rows that share a created_at value.
func New(dialect, tiebreak string) Builder {
	return Builder{dialect: goqu.Dialect(dialect), tiebreak: tiebreak}
}

// SelectExpenses lists every row in order.
func (b Builder) SelectExpenses(order storage.Order) (Statement, error) {
	if !storage.ValidColumn(order.Column) {
		return Statement{}, fmt.Errorf("%w: %q", storage.ErrInvalidColumn, order.Column)
	}

	orderings := []exp.OrderedExpression{direction(goqu.I(order.Column), order.Descending)}
	if b.tiebreak != "" {
		orderings = append(orderings, direction(goqu.I(b.tiebreak), order.Descending))
	}

	ds := b.dialect.From(Table).
		Select(storage.ColumnID, storage.ColumnName, storage.ColumnAmount, colKind, colPayer, colOwner, storage.ColumnCreatedAt).
		Order(orderings...)
	return toStatement(ds.Prepared(true).ToSQL())
}

// InsertExpense inserts a row with the given identifier and creation time.
// createdAt is passed through unchanged so each store can pick its column type.
func (b Builder) InsertExpense(id string, fields models.ExpenseFields, owner string, createdAt any) (Statement, error) {
	var ownerValue any
	if owner != "" {
		ownerValue = owner
	}
	ds := b.dialect.Insert(Table).Rows(goqu.Record{
		storage.ColumnID:        id,
		storage.ColumnName:      fields.Name,
		storage.ColumnAmount:    fields.Amount.String(),
		colKind:                 string(fields.Kind),
		colPayer:                string(fields.Payer),
		colOwner:                ownerValue,
		storage.ColumnCreatedAt: createdAt,
	})
	return toStatement(ds.Prepared(true).ToSQL())
}

// UpdateExpense replaces the four mutable fields of one row.
func (b Builder) UpdateExpense(id string, fields models.ExpenseFields) (Statement, error) {
	ds := b.dialect.Update(Table).
		Set(goqu.Record{
			storage.ColumnName:   fields.Name,
			storage.ColumnAmount: fields.Amount.String(),
			colKind:              string(fields.Kind),
			colPayer:             string(fields.Payer),
		}).
		Where(goqu.C(storage.ColumnID).Eq(id))
	return toStatement(ds.Prepared(true).ToSQL())
}

// DeleteExpense removes one row.
func (b Builder) DeleteExpense(id string) (Statement, error) {
	ds := b.dialect.Delete(Table).Where(goqu.C(storage.ColumnID).Eq(id))
	return toStatement(ds.Prepared(true).ToSQL())
}

// DeleteWhere removes every row whose column differs from the predicate value.
func (b Builder) DeleteWhere(pred storage.Predicate) (Statement, error) {
	if !storage.ValidColumn(pred.Column) {
		return Statement{}, fmt.Errorf("%w: %q", storage.ErrInvalidColumn, pred.Column)
	}
	ds := b.dialect.Delete(Table).Where(goqu.C(pred.Column).Neq(pred.NotEqual))
	return toStatement(ds.Prepared(true).ToSQL())
}

func direction(col exp.IdentifierExpression, desc bool) exp.OrderedExpression {
	if desc {
		return col.Desc()
	}
	return col.Asc()
}

func toStatement(sql string, args []any, err error) (Statement, error) {
	if err != nil {
		return Statement{}, fmt.Errorf("failed to build query: %w", err)
	}
	return Statement{SQL: sql, Args: args}, nil
}
