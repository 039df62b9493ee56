package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/duoledger/internal/auth"
	"github.com/mmynk/duoledger/internal/wire"
)

var errMissingIdentity = errors.New("identity is required")

// AuthService implements the AuthService RPC interface.
type AuthService struct {
	backend auth.Backend
	logger  *slog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(backend auth.Backend, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{backend: backend, logger: logger}
}

// RequestLink mails a one-time sign-in link to an allow-listed identity.
func (s *AuthService) RequestLink(ctx context.Context, req *connect.Request[wire.RequestLinkRequest]) (*connect.Response[wire.RequestLinkResponse], error) {
	s.logger.Info("RequestLink request", "identity", req.Msg.Identity)

	if req.Msg.Identity == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errMissingIdentity)
	}
	if err := s.backend.RequestLink(ctx, req.Msg.Identity, req.Msg.Redirect); err != nil {
		s.logger.Warn("RequestLink refused", "identity", req.Msg.Identity, "error", err)
		return nil, connectError(err)
	}
	return connect.NewResponse(&wire.RequestLinkResponse{}), nil
}

// Verify exchanges a one-time link token for a session.
func (s *AuthService) Verify(ctx context.Context, req *connect.Request[wire.VerifyRequest]) (*connect.Response[wire.VerifyResponse], error) {
	if req.Msg.Token == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
	}

	session, err := s.backend.Verify(ctx, req.Msg.Token)
	if err != nil {
		s.logger.Warn("Verify failed", "error", err)
		return nil, connectError(err)
	}

	s.logger.Info("User signed in", "identity", session.Identity)
	return connect.NewResponse(&wire.VerifyResponse{Session: *session}), nil
}

// Session validates a session token.
func (s *AuthService) Session(ctx context.Context, req *connect.Request[wire.SessionRequest]) (*connect.Response[wire.SessionResponse], error) {
	session, err := s.backend.Check(ctx, req.Msg.Token)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&wire.SessionResponse{Session: *session}), nil
}

// SignOut revokes a session token.
func (s *AuthService) SignOut(ctx context.Context, req *connect.Request[wire.SignOutRequest]) (*connect.Response[wire.SignOutResponse], error) {
	s.logger.Info("SignOut request")
	if err := s.backend.Revoke(ctx, req.Msg.Token); err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&wire.SignOutResponse{}), nil
}
