// Package session holds the current authenticated identity and follows the
// auth collaborator's state notifications.
package session

import (
	"context"
	"log/slog"
	"sync"

	"tasksync/internal/service"
)

// Store holds the current session, present or absent.
type Store struct {
	auth   service.Auth
	logger *slog.Logger

	mu          sync.Mutex
	current     *service.Session
	listeners   []func(*service.Session)
	unsubscribe func()
}

// New creates a store over auth. A nil logger uses slog.Default().
func New(auth service.Auth, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{auth: auth, logger: logger}
}

// Start requests the current session snapshot once and subscribes to auth
// state changes. A failed snapshot is logged and leaves the session empty.
func (s *Store) Start(ctx context.Context) {
	sess, err := s.auth.Session(ctx)
	if err != nil {
		s.logger.Error("error fetching session", "error", err)
	} else {
		s.logger.Debug("current session", "present", sess != nil)
		s.set(sess)
	}

	unsubscribe := s.auth.OnAuthStateChange(s.Handle)

	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
}

// Close releases the auth subscription. Safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Handle applies one auth state change.
func (s *Store) Handle(ev service.AuthEvent) {
	s.logger.Debug("auth state changed", "event", string(ev.Kind))
	switch ev.Kind {
	case service.SignedIn, service.TokenRefreshed:
		s.set(ev.Session)
	case service.SignedOut:
		s.set(nil)
	}
}

// Current returns the held session, or nil when signed out.
func (s *Store) Current() *service.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Active reports whether a session is held.
func (s *Store) Active() bool {
	return s.Current() != nil
}

// Email returns the signed-in user's email, or "" when signed out.
func (s *Store) Email() string {
	if sess := s.Current(); sess != nil {
		return sess.User.Email
	}
	return ""
}

// OnChange registers fn to be called with the new session after each change.
func (s *Store) OnChange(fn func(*service.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SignIn signs in through the auth collaborator. The held session follows
// from the resulting SignedIn notification.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	if _, err := s.auth.SignIn(ctx, email, password); err != nil {
		s.logger.Error("sign in error", "email", email, "error", err)
		return err
	}
	s.logger.Info("sign in successful", "email", email)
	return nil
}

// SignUp creates an account. The returned bool reports whether the provider
// signed the user in right away.
func (s *Store) SignUp(ctx context.Context, email, password string) (bool, error) {
	sess, err := s.auth.SignUp(ctx, email, password)
	if err != nil {
		s.logger.Error("sign up error", "email", email, "error", err)
		return false, err
	}
	s.logger.Info("sign up successful", "email", email, "signed_in", sess != nil)
	return sess != nil, nil
}

// SignOut ends the session. On success the held session is cleared even if
// the collaborator sent no notification.
func (s *Store) SignOut(ctx context.Context) error {
	if err := s.auth.SignOut(ctx); err != nil {
		s.logger.Error("error signing out", "error", err)
		return err
	}
	s.set(nil)
	s.logger.Info("logged out successfully")
	return nil
}

func (s *Store) set(sess *service.Session) {
	s.mu.Lock()
	s.current = sess
	listeners := make([]func(*service.Session), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(sess)
	}
}
