package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the identity returned by the auth backend.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	CreatedAt    string         `json:"created_at,omitempty"`
	LastSignInAt string         `json:"last_sign_in_at,omitempty"`
}

// Session is an authenticated session. The JSON shape matches the auth
// backend's token response so it can be persisted as-is.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"` // unix seconds
	User         User   `json:"user"`
}

// Expiry returns when the access token expires: ExpiresAt when the
// backend sent it, otherwise the token's exp claim.
func (s *Session) Expiry() (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0), true
	}
	return tokenExpiry(s.AccessToken)
}

// EventType names a session change reported by the backend.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

type Event struct {
	Type    EventType
	Session *Session
}

// Backend is the hosted auth service.
type Backend interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	// SignUp may return a nil session when email confirmation is required.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error)
	SignOut(ctx context.Context) error
	RefreshSession(ctx context.Context) (*Session, error)
	Events() <-chan Event
}

// tokenExpiry reads the exp claim without verifying the signature; the
// API verifies tokens, the client only needs to know when to refresh.
func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// TokenExpired reports whether token is missing, unparseable, or past its exp.
func TokenExpired(token string, now time.Time) bool {
	exp, ok := tokenExpiry(token)
	if !ok {
		return true
	}
	return !exp.After(now)
}

// SessionExpiring reports whether sess expires within threshold of now.
// Sessions without a known expiry are never reported as expiring.
func SessionExpiring(sess *Session, threshold time.Duration, now time.Time) bool {
	exp, ok := sess.Expiry()
	if !ok {
		return false
	}
	return exp.Sub(now) <= threshold
}
