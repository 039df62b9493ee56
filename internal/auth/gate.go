package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized is returned for identities that are not on the allow-list.
	ErrUnauthorized = errors.New("identity is not allowed")
	// ErrInvalidToken is returned for expired, malformed, reused or revoked tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrMissingToken is returned when a request carries no session token.
	ErrMissingToken = errors.New("authorization token required")
)

// ProviderError reports a failed request to the identity provider.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Op: op, Err: err}
}

// Normalize case-folds an identity for comparison and storage.
func Normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// AllowList is the fixed set of identities permitted to sign in.
// It is built once and never mutated.
type AllowList struct {
	members map[string]struct{}
}

// NewAllowList builds an allow-list from identities. Blank entries are ignored.
func NewAllowList(identities ...string) AllowList {
	members := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		if n := Normalize(id); n != "" {
			members[n] = struct{}{}
		}
	}
	return AllowList{members: members}
}

// Contains reports whether identity is allow-listed, ignoring case.
func (a AllowList) Contains(identity string) bool {
	n := Normalize(identity)
	if n == "" {
		return false
	}
	_, ok := a.members[n]
	return ok
}

// Len returns the number of allow-listed identities.
func (a AllowList) Len() int {
	return len(a.members)
}

// Gate checks identities against the allow-list before involving the provider.
type Gate struct {
	allow    AllowList
	provider Provider
}

// NewGate creates a gate in front of provider.
func NewGate(allow AllowList, provider Provider) *Gate {
	return &Gate{allow: allow, provider: provider}
}

// IsAuthorized reports whether identity may sign in. It has no side effects.
func (g *Gate) IsAuthorized(identity string) bool {
	return g.allow.Contains(identity)
}

// RequestAccess asks the provider to send a one-time sign-in link.
// Identities not on the allow-list fail with ErrUnauthorized without any
// provider call. Session state is not changed here; a successful sign-in
// arrives later through the provider's session-change notification.
func (g *Gate) RequestAccess(ctx context.Context, identity, redirect string) error {
	if !g.IsAuthorized(identity) {
		return ErrUnauthorized
	}
	return providerError("request link", g.provider.RequestOneTimeLink(ctx, Normalize(identity), redirect))
}
