package local

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"tasksync/internal/credstore"
	"tasksync/internal/service"
)

const testSecret = "test-secret-key-for-local-backend"

func openTestBackend(t *testing.T, mutate func(*Options)) *Backend {
	t.Helper()
	dir := t.TempDir()
	opts := Options{
		DSN:        filepath.Join(dir, "tasks.db"),
		ObjectsDir: filepath.Join(dir, "objects"),
		PublicURL:  "http://127.0.0.1:8080",
		JWTSecret:  testSecret,
		BcryptCost: bcrypt.MinCost,
		Sessions:   &credstore.Memory{},
	}
	if mutate != nil {
		mutate(&opts)
	}

	b, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func signUp(t *testing.T, b *Backend, email string) *service.Session {
	t.Helper()
	sess, err := b.Auth().SignUp(context.Background(), email, "secret123")
	require.NoError(t, err)
	require.NotNil(t, sess)
	return sess
}

type authRecorder struct {
	events chan service.AuthEvent
}

func recordAuth(a service.Auth) *authRecorder {
	r := &authRecorder{events: make(chan service.AuthEvent, 16)}
	a.OnAuthStateChange(func(ev service.AuthEvent) { r.events <- ev })
	return r
}

func (r *authRecorder) next(t *testing.T) service.AuthEvent {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auth event")
		return service.AuthEvent{}
	}
}
