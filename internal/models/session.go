package models

import "time"

// Session represents an authenticated identity issued by the identity provider.
type Session struct {
	// Identity is the case-folded email the session was issued to.
	Identity string `json:"identity"`

	// Token is the bearer token presented to the store.
	Token string `json:"token"`

	// ExpiresAt is when the token stops being accepted.
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the session is present and not yet expired at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && s.Identity != "" && now.Before(s.ExpiresAt)
}
