package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmynk/duoledger/internal/models"
)

// Backend is the server side of the identity provider: it issues one-time
// links, exchanges them for sessions and validates or revokes session tokens.
type Backend interface {
	RequestLink(ctx context.Context, identity, redirect string) error
	Verify(ctx context.Context, linkToken string) (*models.Session, error)
	Check(ctx context.Context, sessionToken string) (*models.Session, error)
	Revoke(ctx context.Context, sessionToken string) error
}

// Ensure Issuer implements Backend
var _ Backend = (*Issuer)(nil)

// Issuer is the in-process Backend. Used link tokens and revoked session
// tokens are remembered in memory until they would have expired anyway.
type Issuer struct {
	allow      AllowList
	tokens     *TokenManager
	mailer     Mailer
	linkTTL    time.Duration
	sessionTTL time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	spent   map[string]time.Time // link token ID -> expiry
	revoked map[string]time.Time // session token ID -> expiry
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	AllowList  AllowList
	Tokens     *TokenManager
	Mailer     Mailer
	LinkTTL    time.Duration
	SessionTTL time.Duration
	Logger     *slog.Logger
}

// NewIssuer creates an Issuer.
func NewIssuer(cfg IssuerConfig) *Issuer {
	if cfg.Mailer == nil {
		cfg.Mailer = LogMailer{Logger: cfg.Logger}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 15 * time.Minute
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	return &Issuer{
		allow:      cfg.AllowList,
		tokens:     cfg.Tokens,
		mailer:     cfg.Mailer,
		linkTTL:    cfg.LinkTTL,
		sessionTTL: cfg.SessionTTL,
		logger:     cfg.Logger,
		spent:      make(map[string]time.Time),
		revoked:    make(map[string]time.Time),
	}
}

// RequestLink mails a one-time link to an allow-listed identity.
func (i *Issuer) RequestLink(ctx context.Context, identity, redirect string) error {
	identity = Normalize(identity)
	if !i.allow.Contains(identity) {
		i.logger.Warn("Link requested for unlisted identity", "identity", identity)
		return ErrUnauthorized
	}

	token, _, err := i.tokens.Generate(identity, PurposeLink, i.linkTTL)
	if err != nil {
		return err
	}
	link, err := buildLink(redirect, token)
	if err != nil {
		return err
	}
	if err := i.mailer.SendLink(ctx, identity, link); err != nil {
		return fmt.Errorf("failed to send link: %w", err)
	}
	return nil
}

// Verify exchanges a link token for a session. Each link works once.
func (i *Issuer) Verify(ctx context.Context, linkToken string) (*models.Session, error) {
	claims, err := i.tokens.Validate(linkToken, PurposeLink)
	if err != nil {
		return nil, err
	}
	if !i.allow.Contains(claims.Identity) {
		return nil, ErrUnauthorized
	}

	i.mu.Lock()
	i.pruneLocked()
	if _, used := i.spent[claims.ID]; used {
		i.mu.Unlock()
		return nil, fmt.Errorf("%w: link already used", ErrInvalidToken)
	}
	i.spent[claims.ID] = claims.ExpiresAt.Time
	i.mu.Unlock()

	token, sessionClaims, err := i.tokens.Generate(claims.Identity, PurposeSession, i.sessionTTL)
	if err != nil {
		return nil, err
	}

	i.logger.Info("Session issued", "identity", claims.Identity)
	return &models.Session{
		Identity:  claims.Identity,
		Token:     token,
		ExpiresAt: sessionClaims.ExpiresAt.Time,
	}, nil
}

// Check validates a session token and returns the session it describes.
func (i *Issuer) Check(ctx context.Context, sessionToken string) (*models.Session, error) {
	if sessionToken == "" {
		return nil, ErrMissingToken
	}
	claims, err := i.tokens.Validate(sessionToken, PurposeSession)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	_, revoked := i.revoked[claims.ID]
	i.mu.Unlock()
	if revoked {
		return nil, fmt.Errorf("%w: session revoked", ErrInvalidToken)
	}

	// The allow-list is re-checked so tokens issued before a config change stop working.
	if !i.allow.Contains(claims.Identity) {
		return nil, ErrUnauthorized
	}
	return &models.Session{
		Identity:  claims.Identity,
		Token:     sessionToken,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke invalidates a session token. Revoking an invalid token is a no-op.
func (i *Issuer) Revoke(ctx context.Context, sessionToken string) error {
	claims, err := i.tokens.Validate(sessionToken, PurposeSession)
	if err != nil {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.pruneLocked()
	i.revoked[claims.ID] = claims.ExpiresAt.Time
	i.logger.Info("Session revoked", "identity", claims.Identity)
	return nil
}

func (i *Issuer) pruneLocked() {
	now := i.tokens.now()
	for id, exp := range i.spent {
		if now.After(exp) {
			delete(i.spent, id)
		}
	}
	for id, exp := range i.revoked {
		if now.After(exp) {
			delete(i.revoked, id)
		}
	}
}

func buildLink(redirect, token string) (string, error) {
	if redirect == "" {
		return token, nil
	}
	u, err := url.Parse(redirect)
	if err != nil {
		return "", fmt.Errorf("invalid redirect target: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TokenFromLink returns the link token carried by a sign-in link. Input that
// is not a link with a token parameter is returned trimmed, as a bare token.
func TokenFromLink(link string) string {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if token := u.Query().Get("token"); token != "" {
		return token
	}
	return link
}
