package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel is the LISTEN/NOTIFY channel the change trigger publishes to.
const notifyChannel = "expense_changes"

// schema is applied statement by statement on startup. The trigger publishes
// {"event": "<insert|update|delete>", "id": "<row id>"} for every row change.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		seq BIGSERIAL NOT NULL,
		name TEXT NOT NULL CHECK (length(btrim(name)) > 0),
		amount NUMERIC NOT NULL CHECK (amount >= 0),
		kind TEXT NOT NULL CHECK (kind IN ('shared', 'individual')),
		payer TEXT NOT NULL CHECK (payer IN ('party_a', 'party_b')),
		owner TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_expenses_created_at ON expenses(created_at)`,
	`CREATE OR REPLACE FUNCTION notify_expense_change() RETURNS trigger AS $$
	DECLARE
		changed TEXT;
	BEGIN
		IF TG_OP = 'DELETE' THEN
			changed := OLD.id;
		ELSE
			changed := NEW.id;
		END IF;
		PERFORM pg_notify('` + notifyChannel + `', json_build_object('event', lower(TG_OP), 'id', changed)::text);
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS expenses_notify ON expenses`,
	`CREATE TRIGGER expenses_notify
		AFTER INSERT OR UPDATE OR DELETE ON expenses
		FOR EACH ROW EXECUTE FUNCTION notify_expense_change()`,
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}
