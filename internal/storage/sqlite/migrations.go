package sqlite

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// schema contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
// Amounts are stored as decimal text so no precision is lost.
const schema = `
CREATE TABLE IF NOT EXISTS expenses (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL CHECK (length(trim(name)) > 0),
    amount TEXT NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('shared', 'individual')),
    payer TEXT NOT NULL CHECK (payer IN ('party_a', 'party_b')),
    owner TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_expenses_created_at ON expenses(created_at);
`

// runMigrations executes the schema setup.
func runMigrations(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
