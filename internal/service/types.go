package service

import (
	"time"

	"golang.org/x/oauth2"
)

// Task represents a single task row.
type Task struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Email       string  `json:"email"`
	ImageURL    *string `json:"image_url"`

	// IsBeingEdited is local UI state and is never sent to the store.
	IsBeingEdited bool `json:"-"`
}

// NewTask holds the fields of a row to insert.
type NewTask struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Email       string  `json:"email"`
	ImageURL    *string `json:"image_url"`
}

// TaskFields holds the editable fields written by an update.
type TaskFields struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// User is the authenticated identity.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the token bundle held after sign-in.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Token returns the session credentials as an oauth2 token.
func (s *Session) Token() *oauth2.Token {
	tokenType := s.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    tokenType,
		RefreshToken: s.RefreshToken,
		Expiry:       s.ExpiresAt,
	}
}

// WithToken returns a copy of the session carrying tok's credentials.
// An empty refresh token in tok keeps the current one.
func (s *Session) WithToken(tok *oauth2.Token) *Session {
	next := *s
	next.AccessToken = tok.AccessToken
	if tok.TokenType != "" {
		next.TokenType = tok.TokenType
	}
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	next.ExpiresAt = tok.Expiry
	return &next
}

// Expired reports whether the access token has expired at now.
// A zero expiry never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AuthEventKind names an auth state change.
type AuthEventKind string

const (
	SignedIn       AuthEventKind = "SIGNED_IN"
	TokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
	SignedOut      AuthEventKind = "SIGNED_OUT"
)

// AuthEvent is an auth state notification.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// Filter selects the rows a change subscription receives.
type Filter struct {
	// Channel names the subscription on transports that multiplex channels.
	Channel string
	Schema  string
	Table   string
}

// SubscriptionStatus is the lifecycle state of a change subscription.
type SubscriptionStatus string

const (
	StatusSubscribed   SubscriptionStatus = "SUBSCRIBED"
	StatusChannelError SubscriptionStatus = "CHANNEL_ERROR"
	StatusTimedOut     SubscriptionStatus = "TIMED_OUT"
	StatusClosed       SubscriptionStatus = "CLOSED"
)

// UploadOptions controls how an object is stored.
type UploadOptions struct {
	ContentType string

	// CacheControl is the cache lifetime hint in seconds, e.g. "3600".
	CacheControl string

	// Upsert overwrites an existing object with the same key.
	Upsert bool
}
