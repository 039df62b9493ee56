package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/auth"
	"github.com/mmynk/duoledger/internal/cache"
	"github.com/mmynk/duoledger/internal/config"
	"github.com/mmynk/duoledger/internal/controller"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
	"github.com/mmynk/duoledger/internal/storage/sqlite"
)

type linkMailer struct {
	link string
}

func (m *linkMailer) SendLink(_ context.Context, _, link string) error {
	m.link = link
	return nil
}

type testEnv struct {
	cfg         *config.Config
	store       *sqlite.SQLiteStore
	issuer      *auth.Issuer
	mailer      *linkMailer
	sessionFile string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := sqlite.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Allowed:     []string{"a@x.com", "b@x.com"},
		PartyAName:  "Ann",
		PartyBName:  "Ben",
		Currency:    "USD",
		RedirectURL: "http://localhost:8080/verify",
	}
	mailer := &linkMailer{}
	issuer := auth.NewIssuer(auth.IssuerConfig{
		AllowList: cfg.AllowList(),
		Tokens:    auth.NewTokenManager("test-secret-test-secret-test-secret"),
		Mailer:    mailer,
	})
	return &testEnv{
		cfg:         cfg,
		store:       store,
		issuer:      issuer,
		mailer:      mailer,
		sessionFile: filepath.Join(dir, "session.json"),
	}
}

// newApp builds an App over the shared store. The store outlives the App, so
// it is wrapped to keep App.Close from closing it.
func (e *testEnv) newApp(t *testing.T) *App {
	t.Helper()
	a, err := New(e.cfg,
		WithStore(unclosable{e.store}),
		WithBackend(e.issuer),
		WithSessionStore(auth.FileSessionStore{Path: e.sessionFile}),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

type unclosable struct {
	*sqlite.SQLiteStore
}

func (unclosable) Close() error { return nil }

// noWatch is a store whose change stream cannot be opened.
type noWatch struct {
	unclosable
}

func (noWatch) Subscribe(context.Context, storage.EventMask, storage.ChangeHandler) (storage.Subscription, error) {
	return nil, errors.New("stream unavailable")
}

func waitFor(t *testing.T, updates <-chan cache.Snapshot, want int) cache.Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-updates:
			if len(snap.Expenses) == want {
				return snap
			}
		case <-deadline:
			t.Fatalf("no snapshot with %d expenses", want)
		}
	}
}

func TestApp(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid config is rejected", func(t *testing.T) {
		_, err := New(&config.Config{Currency: "USD"})
		if err == nil {
			t.Error("expected an error for an empty allow-list")
		}
	})

	t.Run("sign in, edit and follow the other party's changes", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.newApp(t)

		if err := a.Start(ctx); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if state, _ := a.Controller.State(); state != controller.Unauthenticated {
			t.Fatalf("state = %v, want unauthenticated", state)
		}

		if err := a.Controller.RequestAccess(ctx, "B@x.com"); err != nil {
			t.Fatalf("RequestAccess failed: %v", err)
		}
		if state, _ := a.Controller.State(); state != controller.AuthenticatingPending {
			t.Fatalf("state = %v, want pending", state)
		}
		if err := a.CompleteSignIn(ctx, env.mailer.link); err != nil {
			t.Fatalf("CompleteSignIn failed: %v", err)
		}
		if state, identity := a.Controller.State(); state != controller.Authenticated || identity != "b@x.com" {
			t.Fatalf("state = %v %q, want authenticated b@x.com", state, identity)
		}
		if env.store.Broker().Len() != 1 {
			t.Fatalf("live subscriptions = %d, want 1", env.store.Broker().Len())
		}

		a.Editor.SetName("Rent")
		a.Editor.SetAmountText("100")
		a.Editor.SetKind(models.KindShared)
		a.Editor.SetPayer(models.PartyA)
		if err := a.Editor.Commit(ctx); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		snap := a.Cache.Snapshot()
		if len(snap.Expenses) != 1 || snap.Expenses[0].Owner != "b@x.com" {
			t.Fatalf("snapshot = %+v, want one expense owned by b@x.com", snap.Expenses)
		}

		updates := make(chan cache.Snapshot, 8)
		defer a.Cache.OnUpdate(func(s cache.Snapshot) { updates <- s })()

		// A write that does not go through this App still reaches its cache.
		err := env.store.InsertExpense(ctx, models.ExpenseFields{
			Name:   "Lunch",
			Amount: decimal.NewFromInt(30),
			Kind:   models.KindIndividual,
			Payer:  models.PartyB,
		}, "a@x.com")
		if err != nil {
			t.Fatalf("InsertExpense failed: %v", err)
		}
		snap = waitFor(t, updates, 2)
		if !snap.Balance().Equal(decimal.NewFromInt(20)) {
			t.Errorf("balance = %s, want 20", snap.Balance())
		}

		if err := a.Controller.SignOut(ctx); err != nil {
			t.Fatalf("SignOut failed: %v", err)
		}
		if state, _ := a.Controller.State(); state != controller.Unauthenticated {
			t.Errorf("state = %v, want unauthenticated", state)
		}
		if env.store.Broker().Len() != 0 {
			t.Errorf("live subscriptions = %d after sign out, want 0", env.store.Broker().Len())
		}
	})

	t.Run("stored session resumes on start", func(t *testing.T) {
		env := newTestEnv(t)
		first := env.newApp(t)
		if err := first.Controller.RequestAccess(ctx, "a@x.com"); err != nil {
			t.Fatalf("RequestAccess failed: %v", err)
		}
		if err := first.CompleteSignIn(ctx, env.mailer.link); err != nil {
			t.Fatalf("CompleteSignIn failed: %v", err)
		}
		first.Close()

		second := env.newApp(t)
		if err := second.Start(ctx); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if state, identity := second.Controller.State(); state != controller.Authenticated || identity != "a@x.com" {
			t.Errorf("state = %v %q, want authenticated a@x.com", state, identity)
		}
	})

	t.Run("sign-in without a change stream reports the failure", func(t *testing.T) {
		env := newTestEnv(t)
		a, err := New(env.cfg,
			WithStore(noWatch{unclosable{env.store}}),
			WithBackend(env.issuer),
			WithSessionStore(auth.FileSessionStore{Path: env.sessionFile}),
		)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer a.Close()
		if err := a.Start(ctx); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if err := a.Controller.RequestAccess(ctx, "a@x.com"); err != nil {
			t.Fatalf("RequestAccess failed: %v", err)
		}

		err = a.CompleteSignIn(ctx, env.mailer.link)
		var se *storage.StoreError
		if !errors.As(err, &se) {
			t.Fatalf("expected StoreError, got %v", err)
		}
		if state, _ := a.Controller.State(); state != controller.Unauthenticated {
			t.Errorf("state = %v, want unauthenticated", state)
		}
	})

	t.Run("unlisted identity is refused", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.newApp(t)

		err := a.Controller.RequestAccess(ctx, "mallory@x.com")
		if !errors.Is(err, auth.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
		if env.mailer.link != "" {
			t.Error("no link should be sent")
		}
	})
}
