package auth

import (
	"context"
	"log/slog"
)

// Mailer delivers one-time sign-in links.
type Mailer interface {
	SendLink(ctx context.Context, identity, link string) error
}

// LogMailer writes links to the log instead of sending mail. It is meant for
// development servers where the operator relays the link by hand.
type LogMailer struct {
	Logger *slog.Logger
}

// SendLink logs the link for identity.
func (m LogMailer) SendLink(ctx context.Context, identity, link string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Sign-in link issued", "identity", identity, "link", link)
	return nil
}
