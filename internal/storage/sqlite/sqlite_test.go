package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	// Strictly increasing timestamps keep ordering assertions deterministic.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	store, err := New(filepath.Join(t.TempDir(), "test.db"), WithClock(clock))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func fields(name, amount string, kind models.Kind, payer models.Party) models.ExpenseFields {
	return models.ExpenseFields{
		Name:   name,
		Amount: decimal.RequireFromString(amount),
		Kind:   kind,
		Payer:  payer,
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()

	t.Run("InsertExpense round-trips fields and assigns ID", func(t *testing.T) {
		store := newTestStore(t)

		want := fields("Groceries", "42.10", models.KindShared, models.PartyA)
		if err := store.InsertExpense(ctx, want, "a@x.com"); err != nil {
			t.Fatalf("InsertExpense failed: %v", err)
		}

		got, err := store.ListExpenses(ctx, storage.NewestFirst)
		if err != nil {
			t.Fatalf("ListExpenses failed: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d expenses, want 1", len(got))
		}

		e := got[0]
		if e.ID == "" {
			t.Error("Expected ID to be generated")
		}
		if e.CreatedAt.IsZero() {
			t.Error("Expected CreatedAt to be set")
		}
		if e.Name != want.Name || !e.Amount.Equal(want.Amount) || e.Kind != want.Kind || e.Payer != want.Payer {
			t.Errorf("fields mismatch: got %+v, want %+v", e.ExpenseFields, want)
		}
		if e.Owner != "a@x.com" {
			t.Errorf("Owner = %q, want a@x.com", e.Owner)
		}
	})

	t.Run("ListExpenses orders newest first", func(t *testing.T) {
		store := newTestStore(t)
		for _, name := range []string{"first", "second", "third"} {
			if err := store.InsertExpense(ctx, fields(name, "1", models.KindShared, models.PartyA), ""); err != nil {
				t.Fatalf("InsertExpense failed: %v", err)
			}
		}

		got, err := store.ListExpenses(ctx, storage.NewestFirst)
		if err != nil {
			t.Fatalf("ListExpenses failed: %v", err)
		}
		names := []string{got[0].Name, got[1].Name, got[2].Name}
		if names[0] != "third" || names[1] != "second" || names[2] != "first" {
			t.Errorf("order = %v, want [third second first]", names)
		}

		asc, err := store.ListExpenses(ctx, storage.Order{Column: storage.ColumnCreatedAt})
		if err != nil {
			t.Fatalf("ListExpenses ascending failed: %v", err)
		}
		if asc[0].Name != "first" {
			t.Errorf("ascending first = %q, want first", asc[0].Name)
		}
	})

	t.Run("ListExpenses rejects unknown column", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.ListExpenses(ctx, storage.Order{Column: "payer; DROP TABLE expenses"})
		if !errors.Is(err, storage.ErrInvalidColumn) {
			t.Errorf("expected ErrInvalidColumn, got %v", err)
		}
	})

	t.Run("UpdateExpense replaces mutable fields only", func(t *testing.T) {
		store := newTestStore(t)
		if err := store.InsertExpense(ctx, fields("Taxi", "20", models.KindShared, models.PartyA), "a@x.com"); err != nil {
			t.Fatalf("InsertExpense failed: %v", err)
		}
		before, _ := store.ListExpenses(ctx, storage.NewestFirst)

		update := fields("Taxi home", "25.5", models.KindIndividual, models.PartyB)
		if err := store.UpdateExpense(ctx, before[0].ID, update); err != nil {
			t.Fatalf("UpdateExpense failed: %v", err)
		}

		after, _ := store.ListExpenses(ctx, storage.NewestFirst)
		e := after[0]
		if e.ID != before[0].ID || e.Owner != before[0].Owner || !e.CreatedAt.Equal(before[0].CreatedAt) {
			t.Errorf("immutable fields changed: before %+v, after %+v", before[0], e)
		}
		if e.Name != "Taxi home" || !e.Amount.Equal(decimal.RequireFromString("25.5")) || e.Kind != models.KindIndividual || e.Payer != models.PartyB {
			t.Errorf("update not applied: %+v", e.ExpenseFields)
		}
	})

	t.Run("UpdateExpense on missing row returns ErrNotFound", func(t *testing.T) {
		store := newTestStore(t)
		err := store.UpdateExpense(ctx, "missing", fields("x", "1", models.KindShared, models.PartyA))
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		var se *storage.StoreError
		if !errors.As(err, &se) {
			t.Errorf("expected *StoreError, got %T", err)
		}
	})

	t.Run("constraint violation surfaces as StoreError", func(t *testing.T) {
		store := newTestStore(t)
		err := store.InsertExpense(ctx, fields("x", "1", models.Kind("bogus"), models.PartyA), "")
		var se *storage.StoreError
		if !errors.As(err, &se) {
			t.Fatalf("expected *StoreError, got %v", err)
		}
	})

	t.Run("DeleteExpense and DeleteWhere", func(t *testing.T) {
		store := newTestStore(t)
		for _, name := range []string{"a", "b", "c"} {
			store.InsertExpense(ctx, fields(name, "3", models.KindShared, models.PartyB), "")
		}
		all, _ := store.ListExpenses(ctx, storage.NewestFirst)

		if err := store.DeleteExpense(ctx, all[0].ID); err != nil {
			t.Fatalf("DeleteExpense failed: %v", err)
		}
		if err := store.DeleteExpense(ctx, all[0].ID); err != nil {
			t.Errorf("deleting a missing row should succeed, got %v", err)
		}
		remaining, _ := store.ListExpenses(ctx, storage.NewestFirst)
		if len(remaining) != 2 {
			t.Errorf("got %d expenses after delete, want 2", len(remaining))
		}

		if err := store.DeleteWhere(ctx, storage.MatchAll); err != nil {
			t.Fatalf("DeleteWhere failed: %v", err)
		}
		remaining, _ = store.ListExpenses(ctx, storage.NewestFirst)
		if len(remaining) != 0 {
			t.Errorf("got %d expenses after clear, want 0", len(remaining))
		}
	})

	t.Run("Subscribe receives every write", func(t *testing.T) {
		store := newTestStore(t)
		var changes []storage.Change
		sub, err := store.Subscribe(ctx, storage.AllEvents, func(c storage.Change) {
			changes = append(changes, c)
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer sub.Close()

		store.InsertExpense(ctx, fields("Rent", "1000", models.KindShared, models.PartyA), "")
		rows, _ := store.ListExpenses(ctx, storage.NewestFirst)
		store.UpdateExpense(ctx, rows[0].ID, fields("Rent", "1100", models.KindShared, models.PartyA))
		store.DeleteExpense(ctx, rows[0].ID)

		want := []storage.EventType{storage.EventInsert, storage.EventUpdate, storage.EventDelete}
		if len(changes) != len(want) {
			t.Fatalf("got %d changes, want %d: %v", len(changes), len(want), changes)
		}
		for i, c := range changes {
			if c.Event != want[i] || c.ID != rows[0].ID {
				t.Errorf("change %d = %+v, want %s for %s", i, c, want[i], rows[0].ID)
			}
		}
	})

	t.Run("data survives reopening", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reopen.db")
		store, err := New(path)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		store.InsertExpense(ctx, fields("Persisted", "9.99", models.KindIndividual, models.PartyB), "b@x.com")
		store.Close()

		reopened, err := New(path)
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		defer reopened.Close()

		got, err := reopened.ListExpenses(ctx, storage.NewestFirst)
		if err != nil {
			t.Fatalf("ListExpenses failed: %v", err)
		}
		if len(got) != 1 || got[0].Name != "Persisted" {
			t.Errorf("got %v, want the persisted expense", got)
		}
	})
}
