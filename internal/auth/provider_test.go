package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmynk/duoledger/internal/models"
)

// failingBackend wraps an Issuer and can make Revoke fail.
type failingBackend struct {
	*Issuer
	revokeErr error
}

func (b *failingBackend) Revoke(ctx context.Context, token string) error {
	if b.revokeErr != nil {
		return b.revokeErr
	}
	return b.Issuer.Revoke(ctx, token)
}

func signIn(t *testing.T, client *Client, issuer *Issuer, mailer *recordingMailer, identity string) *models.Session {
	t.Helper()
	ctx := context.Background()
	if err := client.RequestOneTimeLink(ctx, identity, "http://localhost/"); err != nil {
		t.Fatalf("RequestOneTimeLink failed: %v", err)
	}
	session, err := client.CompleteSignIn(ctx, linkToken(t, mailer.link))
	if err != nil {
		t.Fatalf("CompleteSignIn failed: %v", err)
	}
	return session
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("sign in notifies listeners and exposes the session", func(t *testing.T) {
		issuer, mailer := newTestIssuer(t)
		client := NewClient(issuer)

		var events []*models.Session
		cancel := client.OnSessionChange(func(s *models.Session) { events = append(events, s) })
		defer cancel()

		if s, err := client.CurrentSession(ctx); err != nil || s != nil {
			t.Fatalf("CurrentSession before sign-in = %v, %v; want nil, nil", s, err)
		}

		signIn(t, client, issuer, mailer, "a@x.com")

		if len(events) != 1 || events[0] == nil || events[0].Identity != "a@x.com" {
			t.Fatalf("events = %v, want one sign-in for a@x.com", events)
		}
		current, err := client.CurrentSession(ctx)
		if err != nil {
			t.Fatalf("CurrentSession failed: %v", err)
		}
		if current == nil || current.Identity != "a@x.com" {
			t.Errorf("CurrentSession = %+v, want a@x.com", current)
		}
		if client.Token() == "" {
			t.Error("Token() should return the session token")
		}
	})

	t.Run("request link failure is a ProviderError", func(t *testing.T) {
		issuer, _ := newTestIssuer(t)
		client := NewClient(issuer)

		err := client.RequestOneTimeLink(ctx, "c@x.com", "")
		var pe *ProviderError
		if !errors.As(err, &pe) || !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ProviderError wrapping ErrUnauthorized, got %v", err)
		}
	})

	t.Run("sign out clears locally even when revoke fails", func(t *testing.T) {
		issuer, mailer := newTestIssuer(t)
		backend := &failingBackend{Issuer: issuer, revokeErr: errors.New("connection refused")}
		client := NewClient(backend)
		signIn(t, client, issuer, mailer, "b@x.com")

		last := &models.Session{}
		client.OnSessionChange(func(s *models.Session) { last = s })

		err := client.SignOut(ctx)
		var pe *ProviderError
		if !errors.As(err, &pe) {
			t.Errorf("expected ProviderError, got %v", err)
		}
		if last != nil {
			t.Error("listeners should see a nil session after sign out")
		}
		if client.Token() != "" {
			t.Error("session should be cleared locally")
		}
	})

	t.Run("revoked session is dropped by CurrentSession", func(t *testing.T) {
		issuer, mailer := newTestIssuer(t)
		client := NewClient(issuer)
		session := signIn(t, client, issuer, mailer, "a@x.com")

		issuer.Revoke(ctx, session.Token)

		current, err := client.CurrentSession(ctx)
		if err != nil || current != nil {
			t.Errorf("CurrentSession = %v, %v; want nil, nil", current, err)
		}
	})

	t.Run("session survives a restart through the file store", func(t *testing.T) {
		issuer, mailer := newTestIssuer(t)
		store := FileSessionStore{Path: filepath.Join(t.TempDir(), "session.json")}

		first := NewClient(issuer, WithSessionStore(store))
		signIn(t, first, issuer, mailer, "b@x.com")

		second := NewClient(issuer, WithSessionStore(store))
		current, err := second.CurrentSession(ctx)
		if err != nil {
			t.Fatalf("CurrentSession failed: %v", err)
		}
		if current == nil || current.Identity != "b@x.com" {
			t.Fatalf("CurrentSession = %+v, want b@x.com", current)
		}

		if err := second.SignOut(ctx); err != nil {
			t.Fatalf("SignOut failed: %v", err)
		}
		if s, _ := store.Load(); s != nil {
			t.Errorf("session file should be cleared, got %+v", s)
		}
	})

	t.Run("expired local session is dropped without a backend call", func(t *testing.T) {
		issuer, mailer := newTestIssuer(t)
		client := NewClient(issuer)
		signIn(t, client, issuer, mailer, "a@x.com")

		client.now = func() time.Time { return time.Now().Add(365 * 24 * time.Hour) }
		if s, err := client.CurrentSession(ctx); err != nil || s != nil {
			t.Errorf("CurrentSession = %v, %v; want nil, nil", s, err)
		}
	})
}
