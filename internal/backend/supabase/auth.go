package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"tasksync/internal/credstore"
	"tasksync/internal/service"
)

// refreshEarly refreshes the access token this long before it expires.
const refreshEarly = 30 * time.Second

// tokenResponse is the GoTrue session body.
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         service.User `json:"user"`
}

func (r tokenResponse) session(now time.Time) *service.Session {
	if r.AccessToken == "" {
		return nil
	}
	sess := &service.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		User:         r.User,
	}
	switch {
	case r.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		sess.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return sess
}

// Auth implements service.Auth against GoTrue. It is also the
// oauth2.TokenSource that authorizes rest, storage and realtime calls:
// the session token while signed in, the anon key otherwise.
type Auth struct {
	c        *Client
	sessions credstore.Storage

	mu        sync.Mutex
	session   *service.Session
	src       oauth2.TokenSource
	listeners service.AuthListeners
}

func newAuth(c *Client, sessions credstore.Storage) (*Auth, error) {
	a := &Auth{c: c, sessions: sessions}
	sess, err := sessions.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	a.setLocked(sess)
	return a, nil
}

// setLocked replaces the session and the cached token source.
// Callers hold a.mu, or own a exclusively.
func (a *Auth) setLocked(sess *service.Session) {
	a.session = sess
	if sess == nil {
		a.src = nil
		return
	}
	a.src = oauth2.ReuseTokenSourceWithExpiry(sess.Token(), refresher{a}, refreshEarly)
}

// Token implements oauth2.TokenSource.
func (a *Auth) Token() (*oauth2.Token, error) {
	a.mu.Lock()
	src := a.src
	a.mu.Unlock()

	if src == nil {
		return &oauth2.Token{AccessToken: a.c.anonKey, TokenType: "Bearer"}, nil
	}
	return src.Token()
}

// Session implements service.Auth. An expired session is refreshed first.
func (a *Auth) Session(ctx context.Context) (*service.Session, error) {
	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()

	if sess == nil {
		return nil, nil
	}
	if !sess.Expired(a.c.opts.Now().Add(refreshEarly)) {
		return sess, nil
	}
	if _, err := a.Token(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session, nil
}

// SignUp implements service.Auth.
func (a *Auth) SignUp(ctx context.Context, email, password string) (*service.Session, error) {
	resp, err := a.post(ctx, "/auth/v1/signup", nil, credentials{Email: email, Password: password})
	if err != nil {
		return nil, wrapError(service.ErrAuth, err)
	}

	sess := resp.session(a.c.opts.Now())
	if sess == nil {
		a.c.logger.Debug("sign up requires confirmation", "email", email)
		return nil, nil
	}
	a.establish(sess, service.SignedIn)
	return sess, nil
}

// SignIn implements service.Auth.
func (a *Auth) SignIn(ctx context.Context, email, password string) (*service.Session, error) {
	query := url.Values{"grant_type": {"password"}}
	resp, err := a.post(ctx, "/auth/v1/token", query, credentials{Email: email, Password: password})
	if err != nil {
		return nil, wrapError(service.ErrAuth, err)
	}

	sess := resp.session(a.c.opts.Now())
	if sess == nil {
		return nil, fmt.Errorf("%w: sign in returned no session", service.ErrAuth)
	}
	a.establish(sess, service.SignedIn)
	return sess, nil
}

// SignOut implements service.Auth. A session the server no longer knows is
// cleared locally without error.
func (a *Auth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()

	if sess != nil {
		ctx, cancel := context.WithTimeout(ctx, APITimeout)
		defer cancel()

		header := http.Header{"Authorization": {"Bearer " + sess.AccessToken}}
		_, err := a.c.doRequest(ctx, a.c.httpClient, http.MethodPost, "/auth/v1/logout", nil, header, nil)
		var apiErr *APIError
		if err != nil && !(errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusNotFound)) {
			return wrapError(service.ErrAuth, err)
		}
	}

	return a.clear()
}

// OnAuthStateChange implements service.Auth.
func (a *Auth) OnAuthStateChange(fn func(service.AuthEvent)) func() {
	return a.listeners.Add(fn)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *Auth) post(ctx context.Context, path string, query url.Values, body any) (tokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	reader, err := jsonBody(body)
	if err != nil {
		return tokenResponse{}, err
	}
	header := http.Header{"Content-Type": {"application/json"}}
	data, err := a.c.doRequest(ctx, a.c.httpClient, http.MethodPost, path, query, header, reader)
	if err != nil {
		return tokenResponse{}, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return tokenResponse{}, fmt.Errorf("invalid auth response: %w", err)
	}
	return resp, nil
}

// establish stores sess, persists it and notifies listeners.
func (a *Auth) establish(sess *service.Session, kind service.AuthEventKind) {
	a.mu.Lock()
	a.setLocked(sess)
	a.mu.Unlock()

	if err := a.sessions.Save(sess); err != nil {
		a.c.logger.Error("failed to persist session", "error", err)
	}
	a.listeners.Emit(service.AuthEvent{Kind: kind, Session: sess})
}

func (a *Auth) clear() error {
	a.mu.Lock()
	a.setLocked(nil)
	a.mu.Unlock()

	err := a.sessions.Remove()
	a.listeners.Emit(service.AuthEvent{Kind: service.SignedOut})
	if err != nil {
		return fmt.Errorf("%w: failed to remove stored session: %w", service.ErrAuth, err)
	}
	return nil
}

// refresher exchanges the refresh token for a new session.
type refresher struct {
	a *Auth
}

func (r refresher) Token() (*oauth2.Token, error) {
	a := r.a

	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()

	if sess == nil || sess.RefreshToken == "" {
		return nil, fmt.Errorf("%w: session expired (run: tasksync login)", service.ErrAuth)
	}

	ctx := context.Background()
	query := url.Values{"grant_type": {"refresh_token"}}
	resp, err := a.post(ctx, "/auth/v1/token", query, map[string]string{"refresh_token": sess.RefreshToken})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			// The refresh token is spent or revoked; the session cannot recover.
			a.c.logger.Debug("refresh rejected, signing out", "error", err)
			_ = a.clear()
		}
		return nil, wrapError(service.ErrAuth, err)
	}

	refreshed := resp.session(a.c.opts.Now())
	if refreshed == nil {
		return nil, fmt.Errorf("%w: refresh returned no session", service.ErrAuth)
	}
	next := sess.WithToken(refreshed.Token())
	if refreshed.User.ID != "" {
		next.User = refreshed.User
	}

	a.c.logger.Debug("session refreshed", "expires_at", next.ExpiresAt)
	a.establish(next, service.TokenRefreshed)
	return next.Token(), nil
}
