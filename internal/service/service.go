// Package service defines the backend-agnostic contracts for the hosted
// collaborators: authentication, the task table, the change feed and the
// object store.
package service

import (
	"context"
	"io"
)

// Service bundles the collaborators a backend provides.
// Commands never import a backend SDK directly.
type Service interface {
	// Auth returns the authentication collaborator.
	Auth() Auth

	// Tasks returns the task table.
	Tasks() TaskStore

	// Changes returns the change feed for the task table.
	Changes() ChangeFeed

	// Storage returns the attachment object store.
	Storage() ObjectStore

	// Close releases connections held by the backend.
	Close() error
}

// Auth is the authentication collaborator.
type Auth interface {
	// Session returns the current session snapshot, or nil when signed out.
	Session(ctx context.Context) (*Session, error)

	// SignUp creates an account. The returned session is nil when the
	// provider requires confirmation before the first sign-in.
	SignUp(ctx context.Context, email, password string) (*Session, error)

	// SignIn authenticates with email and password.
	SignIn(ctx context.Context, email, password string) (*Session, error)

	// SignOut ends the current session. Signing out without a session is not an error.
	SignOut(ctx context.Context) error

	// OnAuthStateChange registers fn for auth state notifications.
	// The returned function removes the listener; calling it twice is safe.
	OnAuthStateChange(fn func(AuthEvent)) (unsubscribe func())
}

// TaskStore is the remote task table.
type TaskStore interface {
	// SelectAll returns every row visible to the caller, in store order.
	SelectAll(ctx context.Context) ([]Task, error)

	// Insert stores one row and returns it with its assigned ID.
	Insert(ctx context.Context, task NewTask) (Task, error)

	// Update writes fields to the row with the given ID.
	Update(ctx context.Context, id int64, fields TaskFields) (Task, error)

	// Delete removes the row with the given ID.
	Delete(ctx context.Context, id int64) error
}

// ChangeFeed delivers row-level change notifications.
type ChangeFeed interface {
	// Subscribe opens one subscription. handler is called for each event in
	// delivery order, from a single goroutine. status, if non-nil, receives
	// subscription lifecycle changes.
	Subscribe(ctx context.Context, filter Filter, handler func(ChangeEvent), status func(SubscriptionStatus, error)) (Subscription, error)
}

// Subscription is an open change-feed subscription.
type Subscription interface {
	// Unsubscribe releases the subscription. Safe to call more than once.
	Unsubscribe() error
}

// ObjectStore holds binary attachments.
type ObjectStore interface {
	// Upload stores body under key and returns the stored object path.
	Upload(ctx context.Context, key string, body io.Reader, opts UploadOptions) (string, error)

	// PublicURL returns a publicly reachable URL for key.
	PublicURL(key string) string
}
