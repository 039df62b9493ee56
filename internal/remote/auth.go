package remote

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/duoledger/internal/auth"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/wire"
)

// Ensure AuthBackend implements auth.Backend
var _ auth.Backend = (*AuthBackend)(nil)

// AuthBackend is an auth.Backend backed by the AuthService.
type AuthBackend struct {
	requestLink *connect.Client[wire.RequestLinkRequest, wire.RequestLinkResponse]
	verify      *connect.Client[wire.VerifyRequest, wire.VerifyResponse]
	session     *connect.Client[wire.SessionRequest, wire.SessionResponse]
	signOut     *connect.Client[wire.SignOutRequest, wire.SignOutResponse]
}

// NewAuthBackend creates an AuthBackend talking to the server at baseURL.
func NewAuthBackend(baseURL string, opts ...Option) *AuthBackend {
	o := buildOptions(opts)
	baseURL = strings.TrimRight(baseURL, "/")
	copts := wire.ClientOptions(o.client...)

	return &AuthBackend{
		requestLink: connect.NewClient[wire.RequestLinkRequest, wire.RequestLinkResponse](o.httpClient, baseURL+wire.AuthRequestLinkProcedure, copts...),
		verify:      connect.NewClient[wire.VerifyRequest, wire.VerifyResponse](o.httpClient, baseURL+wire.AuthVerifyProcedure, copts...),
		session:     connect.NewClient[wire.SessionRequest, wire.SessionResponse](o.httpClient, baseURL+wire.AuthSessionProcedure, copts...),
		signOut:     connect.NewClient[wire.SignOutRequest, wire.SignOutResponse](o.httpClient, baseURL+wire.AuthSignOutProcedure, copts...),
	}
}

func (b *AuthBackend) RequestLink(ctx context.Context, identity, redirect string) error {
	_, err := b.requestLink.CallUnary(ctx, connect.NewRequest(&wire.RequestLinkRequest{Identity: identity, Redirect: redirect}))
	return authError(err)
}

func (b *AuthBackend) Verify(ctx context.Context, linkToken string) (*models.Session, error) {
	resp, err := b.verify.CallUnary(ctx, connect.NewRequest(&wire.VerifyRequest{Token: linkToken}))
	if err != nil {
		return nil, authError(err)
	}
	return &resp.Msg.Session, nil
}

func (b *AuthBackend) Check(ctx context.Context, sessionToken string) (*models.Session, error) {
	if sessionToken == "" {
		return nil, auth.ErrMissingToken
	}
	resp, err := b.session.CallUnary(ctx, connect.NewRequest(&wire.SessionRequest{Token: sessionToken}))
	if err != nil {
		return nil, authError(err)
	}
	return &resp.Msg.Session, nil
}

func (b *AuthBackend) Revoke(ctx context.Context, sessionToken string) error {
	_, err := b.signOut.CallUnary(ctx, connect.NewRequest(&wire.SignOutRequest{Token: sessionToken}))
	return authError(err)
}
