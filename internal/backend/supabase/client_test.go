package supabase_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/internal/backend/supabase"
	"tasksync/internal/credstore"
	"tasksync/internal/service"
)

type authRecorder struct {
	mu     sync.Mutex
	events []service.AuthEvent
}

func (r *authRecorder) record(ev service.AuthEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *authRecorder) kinds() []service.AuthEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []service.AuthEventKind
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestSignIn_PersistsAndNotifies(t *testing.T) {
	p := newFakeProject(t)
	store := &credstore.Memory{}
	c := p.client(t, store)

	rec := &authRecorder{}
	c.Auth().OnAuthStateChange(rec.record)

	sess, err := c.Auth().SignIn(context.Background(), "me@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "access-1", sess.AccessToken)
	assert.Equal(t, "me@example.com", sess.User.Email)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Minute)

	saved, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "refresh-1", saved.RefreshToken)

	assert.Equal(t, []service.AuthEventKind{service.SignedIn}, rec.kinds())

	current, err := c.Auth().Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sess, current)
}

func TestSignIn_BadCredentials(t *testing.T) {
	p := newFakeProject(t)
	c := p.client(t, nil)

	_, err := c.Auth().SignIn(context.Background(), "me@example.com", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrAuth)

	var apiErr *supabase.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Equal(t, "Invalid login credentials", apiErr.Message)
}

func TestSignUp(t *testing.T) {
	p := newFakeProject(t)
	c := p.client(t, nil)
	rec := &authRecorder{}
	c.Auth().OnAuthStateChange(rec.record)

	t.Run("immediate session", func(t *testing.T) {
		sess, err := c.Auth().SignUp(context.Background(), "new@example.com", "pw")
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, "access-new@example.com", sess.AccessToken)
	})

	t.Run("confirmation required", func(t *testing.T) {
		sess, err := c.Auth().SignUp(context.Background(), "confirm@example.com", "pw")
		require.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("already registered", func(t *testing.T) {
		_, err := c.Auth().SignUp(context.Background(), "me@example.com", "pw")
		assert.ErrorIs(t, err, service.ErrAuth)
		assert.Contains(t, err.Error(), "User already registered")
	})

	assert.Equal(t, []service.AuthEventKind{service.SignedIn}, rec.kinds())
}

func TestSignOut_ClearsSession(t *testing.T) {
	p := newFakeProject(t)
	store := &credstore.Memory{}
	c := p.client(t, store)
	rec := &authRecorder{}
	unsubscribe := c.Auth().OnAuthStateChange(rec.record)

	_, err := c.Auth().SignIn(context.Background(), "me@example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, c.Auth().SignOut(context.Background()))

	assert.Equal(t, "Bearer access-1", p.logoutHeader())
	sess, err := c.Auth().Session(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
	saved, _ := store.Load()
	assert.Nil(t, saved)
	assert.Equal(t, []service.AuthEventKind{service.SignedIn, service.SignedOut}, rec.kinds())

	unsubscribe()
	unsubscribe()
	require.NoError(t, c.Auth().SignOut(context.Background()))
	assert.Len(t, rec.kinds(), 2)
}

func TestRest_AnonymousUsesAnonKey(t *testing.T) {
	p := newFakeProject(t)
	c := p.client(t, nil)

	rows, err := c.Tasks().SelectAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)

	req := p.request("GET tasks")
	require.NotNil(t, req)
	assert.Equal(t, "Bearer "+anonKey, req.Header.Get("Authorization"))
	assert.Equal(t, anonKey, req.Header.Get("apikey"))
	assert.Equal(t, "*", req.URL.Query().Get("select"))
}

func TestRest_InsertUpdateDelete(t *testing.T) {
	p := newFakeProject(t)
	c := p.client(t, nil)
	ctx := context.Background()

	_, err := c.Auth().SignIn(ctx, "me@example.com", "secret")
	require.NoError(t, err)

	url := "https://example.test/cat.png"
	inserted, err := c.Tasks().Insert(ctx, service.NewTask{Title: "Buy milk", Description: "2L", Email: "me@example.com", ImageURL: &url})
	require.NoError(t, err)
	assert.Equal(t, int64(1), inserted.ID)
	require.NotNil(t, inserted.ImageURL)
	assert.Equal(t, url, *inserted.ImageURL)

	post := p.request("POST tasks")
	assert.Equal(t, "Bearer access-1", post.Header.Get("Authorization"))
	assert.Equal(t, "return=representation", post.Header.Get("Prefer"))
	assert.Equal(t, "application/json", post.Header.Get("Content-Type"))

	updated, err := c.Tasks().Update(ctx, inserted.ID, service.TaskFields{Title: "Buy oat milk", Description: "1L"})
	require.NoError(t, err)
	assert.Equal(t, "Buy oat milk", updated.Title)
	assert.Equal(t, "eq.1", p.request("PATCH tasks").URL.Query().Get("id"))

	_, err = c.Tasks().Update(ctx, 99, service.TaskFields{Title: "x", Description: "y"})
	assert.ErrorIs(t, err, service.ErrQuery)

	require.NoError(t, c.Tasks().Delete(ctx, inserted.ID))
	assert.Equal(t, "eq.1", p.request("DELETE tasks").URL.Query().Get("id"))
	require.NoError(t, c.Tasks().Delete(ctx, inserted.ID))

	rows, err := c.Tasks().SelectAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRest_ExpiredSessionRefreshes(t *testing.T) {
	p := newFakeProject(t)
	store := &credstore.Memory{}
	require.NoError(t, store.Save(&service.Session{
		AccessToken:  "expired-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Hour),
		User:         service.User{ID: "u1", Email: "me@example.com"},
	}))
	c := p.client(t, store)
	rec := &authRecorder{}
	c.Auth().OnAuthStateChange(rec.record)

	_, err := c.Tasks().SelectAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer access-refreshed", p.request("GET tasks").Header.Get("Authorization"))
	assert.Equal(t, 1, p.refreshes())
	assert.Equal(t, []service.AuthEventKind{service.TokenRefreshed}, rec.kinds())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", saved.AccessToken)
	assert.Equal(t, "refresh-2", saved.RefreshToken)

	// The refreshed token is reused.
	_, err = c.Tasks().SelectAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.refreshes())
}

func TestRest_RevokedRefreshSignsOut(t *testing.T) {
	p := newFakeProject(t)
	store := &credstore.Memory{}
	require.NoError(t, store.Save(&service.Session{
		AccessToken:  "expired-access",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}))
	c := p.client(t, store)
	rec := &authRecorder{}
	c.Auth().OnAuthStateChange(rec.record)

	_, err := c.Tasks().SelectAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrQuery)
	assert.ErrorIs(t, err, service.ErrAuth)

	sess, err := c.Auth().Session(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, []service.AuthEventKind{service.SignedOut}, rec.kinds())
}

func TestRest_UnauthorizedIsAuthFailure(t *testing.T) {
	p := newFakeProject(t)
	store := &credstore.Memory{}
	require.NoError(t, store.Save(&service.Session{AccessToken: "expired-access"}))
	c := p.client(t, store)

	_, err := c.Tasks().SelectAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrQuery)
	assert.ErrorIs(t, err, service.ErrAuth)
	assert.Contains(t, err.Error(), "tasksync login")
}

func TestStorage_UploadAndPublicURL(t *testing.T) {
	p := newFakeProject(t)
	c := p.client(t, nil)

	path, err := c.Storage().Upload(context.Background(), "my cat.png-1700000000123", strings.NewReader("png-bytes"), service.UploadOptions{
		ContentType:  "image/png",
		CacheControl: "3600",
		Upsert:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, "todo-images/my cat.png-1700000000123", path)

	req := p.request("upload")
	assert.Equal(t, "max-age=3600", req.Header.Get("Cache-Control"))
	assert.Equal(t, "true", req.Header.Get("x-upsert"))
	assert.Equal(t, "image/png", req.Header.Get("Content-Type"))
	assert.Equal(t, []byte("png-bytes"), p.object("my cat.png-1700000000123"))

	assert.Equal(t, p.server.URL+"/storage/v1/object/public/todo-images/my%20cat.png-1700000000123",
		c.Storage().PublicURL("my cat.png-1700000000123"))
}

func TestStorage_ConflictWithoutUpsert(t *testing.T) {
	p := newFakeProject(t)
	c := p.client(t, nil)
	ctx := context.Background()

	_, err := c.Storage().Upload(ctx, "a.png", strings.NewReader("1"), service.UploadOptions{})
	require.NoError(t, err)

	_, err = c.Storage().Upload(ctx, "a.png", strings.NewReader("2"), service.UploadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrUpload)

	var apiErr *supabase.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Duplicate", apiErr.Code)
	assert.Equal(t, "The resource already exists", apiErr.Message)
}

func TestStorage_EmptyKey(t *testing.T) {
	p := newFakeProject(t)
	c := p.client(t, nil)

	_, err := c.Storage().Upload(context.Background(), "", strings.NewReader("x"), service.UploadOptions{})
	assert.ErrorIs(t, err, service.ErrUpload)
}

func TestNew_Validation(t *testing.T) {
	_, err := supabase.New(supabase.Options{AnonKey: "k"})
	assert.Error(t, err)
	_, err = supabase.New(supabase.Options{URL: "https://x.supabase.co"})
	assert.Error(t, err)
}
