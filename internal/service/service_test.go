package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/auth"
	"github.com/mmynk/duoledger/internal/middleware"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
	"github.com/mmynk/duoledger/internal/storage/sqlite"
	"github.com/mmynk/duoledger/internal/wire"
)

// lastLinkMailer keeps the last link sent.
type lastLinkMailer struct {
	link string
}

func (m *lastLinkMailer) SendLink(_ context.Context, _, link string) error {
	m.link = link
	return nil
}

type testServer struct {
	url    string
	issuer *auth.Issuer
	mailer *lastLinkMailer
}

// setupTestServer starts both services over a temp SQLite database.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	mailer := &lastLinkMailer{}
	issuer := auth.NewIssuer(auth.IssuerConfig{
		AllowList: auth.NewAllowList("a@x.com", "b@x.com"),
		Tokens:    auth.NewTokenManager("test-secret-test-secret-test-secret"),
		Mailer:    mailer,
	})

	ledgerPath, ledgerHandler := NewLedgerServiceHandler(
		NewLedgerService(store, nil),
		connect.WithInterceptors(middleware.RequireSession(issuer)),
	)
	authPath, authHandler := NewAuthServiceHandler(NewAuthService(issuer, nil))

	mux := http.NewServeMux()
	mux.Handle(ledgerPath, ledgerHandler)
	mux.Handle(authPath, authHandler)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		store.Close()
	})
	return &testServer{url: server.URL, issuer: issuer, mailer: mailer}
}

// signIn runs the link flow through the auth service and returns the session.
func (s *testServer) signIn(t *testing.T, identity string) models.Session {
	t.Helper()
	ctx := context.Background()

	requestLink := connect.NewClient[wire.RequestLinkRequest, wire.RequestLinkResponse](
		http.DefaultClient, s.url+wire.AuthRequestLinkProcedure, wire.ClientOptions()...)
	verify := connect.NewClient[wire.VerifyRequest, wire.VerifyResponse](
		http.DefaultClient, s.url+wire.AuthVerifyProcedure, wire.ClientOptions()...)

	if _, err := requestLink.CallUnary(ctx, connect.NewRequest(&wire.RequestLinkRequest{
		Identity: identity,
		Redirect: "http://localhost/verify",
	})); err != nil {
		t.Fatalf("RequestLink failed: %v", err)
	}

	u, err := url.Parse(s.mailer.link)
	if err != nil {
		t.Fatalf("bad link %q: %v", s.mailer.link, err)
	}
	resp, err := verify.CallUnary(ctx, connect.NewRequest(&wire.VerifyRequest{Token: u.Query().Get("token")}))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	return resp.Msg.Session
}

func clientOptions(token string) []connect.ClientOption {
	return wire.ClientOptions(connect.WithInterceptors(middleware.BearerToken(func() string { return token })))
}

func dinner() models.ExpenseFields {
	return models.ExpenseFields{
		Name:   "Dinner",
		Amount: decimal.RequireFromString("64.20"),
		Kind:   models.KindShared,
		Payer:  models.PartyB,
	}
}

func TestLedgerRequiresSession(t *testing.T) {
	srv := setupTestServer(t)
	ctx := context.Background()

	anonymous := connect.NewClient[wire.ListRequest, wire.ListResponse](
		http.DefaultClient, srv.url+wire.LedgerListProcedure, wire.ClientOptions()...)
	_, err := anonymous.CallUnary(ctx, connect.NewRequest(&wire.ListRequest{}))
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Errorf("expected Unauthenticated, got %v", err)
	}

	forged := connect.NewClient[wire.ListRequest, wire.ListResponse](
		http.DefaultClient, srv.url+wire.LedgerListProcedure, clientOptions("not-a-token")...)
	_, err = forged.CallUnary(ctx, connect.NewRequest(&wire.ListRequest{}))
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Errorf("expected Unauthenticated, got %v", err)
	}
}

func TestInsertAndList(t *testing.T) {
	srv := setupTestServer(t)
	ctx := context.Background()
	session := srv.signIn(t, "B@x.com")
	opts := clientOptions(session.Token)

	insert := connect.NewClient[wire.InsertRequest, wire.InsertResponse](http.DefaultClient, srv.url+wire.LedgerInsertProcedure, opts...)
	list := connect.NewClient[wire.ListRequest, wire.ListResponse](http.DefaultClient, srv.url+wire.LedgerListProcedure, opts...)

	if _, err := insert.CallUnary(ctx, connect.NewRequest(&wire.InsertRequest{Fields: dinner()})); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	resp, err := list.CallUnary(ctx, connect.NewRequest(&wire.ListRequest{}))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(resp.Msg.Expenses) != 1 {
		t.Fatalf("expected 1 expense, got %d", len(resp.Msg.Expenses))
	}
	got := resp.Msg.Expenses[0]
	if got.Owner != "b@x.com" {
		t.Errorf("owner = %q, want the session identity", got.Owner)
	}
	if !got.Amount.Equal(dinner().Amount) || got.Name != "Dinner" {
		t.Errorf("unexpected expense %+v", got)
	}
}

func TestInsert_InvalidFields(t *testing.T) {
	srv := setupTestServer(t)
	session := srv.signIn(t, "a@x.com")
	insert := connect.NewClient[wire.InsertRequest, wire.InsertResponse](
		http.DefaultClient, srv.url+wire.LedgerInsertProcedure, clientOptions(session.Token)...)

	fields := dinner()
	fields.Amount = decimal.NewFromInt(-5)
	_, err := insert.CallUnary(context.Background(), connect.NewRequest(&wire.InsertRequest{Fields: fields}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	srv := setupTestServer(t)
	session := srv.signIn(t, "a@x.com")
	update := connect.NewClient[wire.UpdateRequest, wire.UpdateResponse](
		http.DefaultClient, srv.url+wire.LedgerUpdateProcedure, clientOptions(session.Token)...)

	_, err := update.CallUnary(context.Background(), connect.NewRequest(&wire.UpdateRequest{ID: "missing", Fields: dinner()}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	srv := setupTestServer(t)
	ctx := context.Background()
	session := srv.signIn(t, "a@x.com")
	opts := clientOptions(session.Token)

	del := connect.NewClient[wire.DeleteRequest, wire.DeleteResponse](http.DefaultClient, srv.url+wire.LedgerDeleteProcedure, opts...)
	deleteWhere := connect.NewClient[wire.DeleteWhereRequest, wire.DeleteWhereResponse](http.DefaultClient, srv.url+wire.LedgerDeleteWhereProcedure, opts...)

	if _, err := del.CallUnary(ctx, connect.NewRequest(&wire.DeleteRequest{ID: "missing"})); err != nil {
		t.Errorf("deleting a missing expense should succeed, got %v", err)
	}
	if _, err := del.CallUnary(ctx, connect.NewRequest(&wire.DeleteRequest{})); connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("expected InvalidArgument for empty id, got %v", err)
	}
	if _, err := deleteWhere.CallUnary(ctx, connect.NewRequest(&wire.DeleteWhereRequest{Predicate: storage.MatchAll})); err != nil {
		t.Errorf("DeleteWhere failed: %v", err)
	}
	_, err := deleteWhere.CallUnary(ctx, connect.NewRequest(&wire.DeleteWhereRequest{
		Predicate: storage.Predicate{Column: "owner; DROP TABLE expenses", NotEqual: "x"},
	}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("expected InvalidArgument for bad column, got %v", err)
	}
}

func TestWatch(t *testing.T) {
	srv := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session := srv.signIn(t, "a@x.com")
	opts := clientOptions(session.Token)

	watch := connect.NewClient[wire.WatchRequest, wire.WatchResponse](http.DefaultClient, srv.url+wire.LedgerWatchProcedure, opts...)
	insert := connect.NewClient[wire.InsertRequest, wire.InsertResponse](http.DefaultClient, srv.url+wire.LedgerInsertProcedure, opts...)

	stream, err := watch.CallServerStream(ctx, connect.NewRequest(&wire.WatchRequest{Mask: storage.AllEvents}))
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer stream.Close()

	if !stream.Receive() || !stream.Msg().Ready {
		t.Fatalf("expected ready marker, err = %v", stream.Err())
	}

	if _, err := insert.CallUnary(ctx, connect.NewRequest(&wire.InsertRequest{Fields: dinner()})); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if !stream.Receive() {
		t.Fatalf("stream ended: %v", stream.Err())
	}
	change := stream.Msg().Change
	if change.Event != storage.EventInsert || change.ID == "" {
		t.Errorf("change = %+v, want an insert with an id", change)
	}
}

func TestWatch_RequiresSession(t *testing.T) {
	srv := setupTestServer(t)
	watch := connect.NewClient[wire.WatchRequest, wire.WatchResponse](
		http.DefaultClient, srv.url+wire.LedgerWatchProcedure, wire.ClientOptions()...)

	stream, err := watch.CallServerStream(context.Background(), connect.NewRequest(&wire.WatchRequest{}))
	if err == nil {
		defer stream.Close()
		if stream.Receive() {
			t.Fatal("expected the stream to be refused")
		}
		err = stream.Err()
	}
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Errorf("expected Unauthenticated, got %v", err)
	}
}

func TestAuthService(t *testing.T) {
	srv := setupTestServer(t)
	ctx := context.Background()

	requestLink := connect.NewClient[wire.RequestLinkRequest, wire.RequestLinkResponse](
		http.DefaultClient, srv.url+wire.AuthRequestLinkProcedure, wire.ClientOptions()...)
	check := connect.NewClient[wire.SessionRequest, wire.SessionResponse](
		http.DefaultClient, srv.url+wire.AuthSessionProcedure, wire.ClientOptions()...)
	signOut := connect.NewClient[wire.SignOutRequest, wire.SignOutResponse](
		http.DefaultClient, srv.url+wire.AuthSignOutProcedure, wire.ClientOptions()...)

	t.Run("unlisted identity is refused", func(t *testing.T) {
		_, err := requestLink.CallUnary(ctx, connect.NewRequest(&wire.RequestLinkRequest{Identity: "c@x.com"}))
		if connect.CodeOf(err) != connect.CodePermissionDenied {
			t.Errorf("expected PermissionDenied, got %v", err)
		}
	})

	t.Run("session is valid until signed out", func(t *testing.T) {
		session := srv.signIn(t, "a@x.com")

		resp, err := check.CallUnary(ctx, connect.NewRequest(&wire.SessionRequest{Token: session.Token}))
		if err != nil {
			t.Fatalf("Session failed: %v", err)
		}
		if resp.Msg.Session.Identity != "a@x.com" {
			t.Errorf("identity = %q, want a@x.com", resp.Msg.Session.Identity)
		}

		if _, err := signOut.CallUnary(ctx, connect.NewRequest(&wire.SignOutRequest{Token: session.Token})); err != nil {
			t.Fatalf("SignOut failed: %v", err)
		}
		_, err = check.CallUnary(ctx, connect.NewRequest(&wire.SessionRequest{Token: session.Token}))
		if connect.CodeOf(err) != connect.CodeUnauthenticated {
			t.Errorf("expected Unauthenticated after sign out, got %v", err)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := check.CallUnary(ctx, connect.NewRequest(&wire.SessionRequest{}))
		var connectErr *connect.Error
		if !errors.As(err, &connectErr) || connectErr.Code() != connect.CodeUnauthenticated {
			t.Errorf("expected Unauthenticated, got %v", err)
		}
	})
}
