package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/duoledger/internal/auth"
	"github.com/mmynk/duoledger/internal/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// IdentityKey is the context key for storing the authenticated identity.
	IdentityKey contextKey = "identity"
)

// GetIdentity extracts the authenticated identity from the context.
// Returns empty string if not found.
func GetIdentity(ctx context.Context) string {
	identity, _ := ctx.Value(IdentityKey).(string)
	return identity
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// SessionChecker validates session tokens. auth.Backend satisfies it.
type SessionChecker interface {
	Check(ctx context.Context, sessionToken string) (*models.Session, error)
}

// RequireSession returns an interceptor that rejects calls without a valid
// session token for an allow-listed identity. It covers unary and streaming
// handlers and adds the identity to the request context.
func RequireSession(checker SessionChecker) connect.Interceptor {
	return &sessionInterceptor{checker: checker}
}

type sessionInterceptor struct {
	checker SessionChecker
}

func (i *sessionInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			return next(ctx, req)
		}
		ctx, err := i.authenticate(ctx, req.Header())
		if err != nil {
			logRejected(req.Spec().Procedure, err)
			return nil, err
		}
		return next(ctx, req)
	}
}

func (i *sessionInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *sessionInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		ctx, err := i.authenticate(ctx, conn.RequestHeader())
		if err != nil {
			logRejected(conn.Spec().Procedure, err)
			return err
		}
		return next(ctx, conn)
	}
}

func (i *sessionInterceptor) authenticate(ctx context.Context, header http.Header) (context.Context, error) {
	token, err := bearerToken(header)
	if err != nil {
		return ctx, connect.NewError(connect.CodeUnauthenticated, err)
	}

	session, err := i.checker.Check(ctx, token)
	if errors.Is(err, auth.ErrUnauthorized) {
		return ctx, connect.NewError(connect.CodePermissionDenied, err)
	}
	if err != nil {
		return ctx, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidToken)
	}
	return WithIdentity(ctx, session.Identity), nil
}

func logRejected(procedure string, err error) {
	slog.Warn("RPC rejected", "procedure", procedure, "code", connect.CodeOf(err), "error", err)
}

// bearerToken parses the Authorization header.
func bearerToken(header http.Header) (string, error) {
	authHeader := header.Get("Authorization")
	if authHeader == "" {
		return "", auth.ErrMissingToken
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", auth.ErrInvalidToken
	}
	return parts[1], nil
}

// BearerToken returns a client interceptor that attaches the token reported by
// source to every outgoing call. Calls go out without a header while source
// returns "".
func BearerToken(source func() string) connect.Interceptor {
	return &bearerInterceptor{source: source}
}

type bearerInterceptor struct {
	source func() string
}

func (i *bearerInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if token := i.source(); token != "" && req.Spec().IsClient {
			req.Header().Set("Authorization", "Bearer "+token)
		}
		return next(ctx, req)
	}
}

func (i *bearerInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		if token := i.source(); token != "" {
			conn.RequestHeader().Set("Authorization", "Bearer "+token)
		}
		return conn
	}
}

func (i *bearerInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
