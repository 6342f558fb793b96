package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"tasksync/internal/credstore"
	"tasksync/internal/service"
)

// Password length bounds. bcrypt ignores bytes past 72.
const (
	MinPasswordLength = 6
	MaxPasswordLength = 72
)

var (
	// ErrInvalidCredentials is returned when sign-in credentials are wrong.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrUserExists is returned when signing up with a registered email.
	ErrUserExists = errors.New("user already registered")
	// ErrNotSignedIn is returned by operations that need a session.
	ErrNotSignedIn = errors.New("not signed in (run: tasksync login)")
)

// Auth implements service.Auth against the local users table.
type Auth struct {
	db         *gorm.DB
	tokens     *Tokens
	sessions   credstore.Storage
	bcryptCost int
	logger     *slog.Logger

	mu        sync.Mutex
	session   *service.Session
	listeners service.AuthListeners
}

func newAuth(db *gorm.DB, tokens *Tokens, sessions credstore.Storage, bcryptCost int, logger *slog.Logger) (*Auth, error) {
	sess, err := sessions.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &Auth{
		db:         db,
		tokens:     tokens,
		sessions:   sessions,
		bcryptCost: bcryptCost,
		logger:     logger,
		session:    sess,
	}, nil
}

// Session implements service.Auth. An expired access token is refreshed;
// a session that cannot be refreshed is signed out.
func (a *Auth) Session(ctx context.Context) (*service.Session, error) {
	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()

	if sess == nil {
		return nil, nil
	}

	_, err := a.tokens.ValidateAccess(sess.AccessToken)
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, ErrExpiredToken):
		return a.refresh(ctx, sess)
	default:
		a.clear()
		return nil, fmt.Errorf("%w: stored session is invalid: %w", service.ErrAuth, err)
	}
}

func (a *Auth) refresh(ctx context.Context, sess *service.Session) (*service.Session, error) {
	claims, err := a.tokens.ValidateRefresh(sess.RefreshToken)
	if err != nil {
		a.clear()
		return nil, fmt.Errorf("%w: session expired (run: tasksync login): %w", service.ErrAuth, err)
	}

	var user UserRow
	if err := a.db.WithContext(ctx).First(&user, "id = ?", claims.Subject).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			a.clear()
			return nil, fmt.Errorf("%w: account no longer exists", service.ErrAuth)
		}
		return nil, fmt.Errorf("%w: %w", service.ErrAuth, err)
	}

	next, err := a.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrAuth, err)
	}
	a.logger.Debug("session refreshed", "expires_at", next.ExpiresAt)
	a.establish(next, service.TokenRefreshed)
	return next, nil
}

// SignUp implements service.Auth. Local accounts need no confirmation, so a
// successful sign-up is also a sign-in.
func (a *Auth) SignUp(ctx context.Context, email, password string) (*service.Session, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email format", service.ErrAuth)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", service.ErrAuth, MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return nil, fmt.Errorf("%w: password must be at most %d characters", service.ErrAuth, MaxPasswordLength)
	}

	var count int64
	if err := a.db.WithContext(ctx).Model(&UserRow{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrAuth, err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: %w", service.ErrAuth, ErrUserExists)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to hash password: %w", service.ErrAuth, err)
	}

	user := UserRow{ID: uuid.NewString(), Email: email, PasswordHash: string(hash)}
	if err := a.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to create user: %w", service.ErrAuth, err)
	}

	sess, err := a.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrAuth, err)
	}
	a.establish(sess, service.SignedIn)
	return sess, nil
}

// SignIn implements service.Auth.
func (a *Auth) SignIn(ctx context.Context, email, password string) (*service.Session, error) {
	var user UserRow
	err := a.db.WithContext(ctx).First(&user, "email = ?", strings.TrimSpace(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %w", service.ErrAuth, ErrInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrAuth, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrAuth, ErrInvalidCredentials)
	}

	sess, err := a.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrAuth, err)
	}
	a.establish(sess, service.SignedIn)
	return sess, nil
}

// SignOut implements service.Auth. Tokens are stateless, so signing out
// only forgets the session.
func (a *Auth) SignOut(ctx context.Context) error {
	if err := a.clear(); err != nil {
		return fmt.Errorf("%w: %w", service.ErrAuth, err)
	}
	return nil
}

// OnAuthStateChange implements service.Auth.
func (a *Auth) OnAuthStateChange(fn func(service.AuthEvent)) func() {
	return a.listeners.Add(fn)
}

// authorize returns the claims of the current session.
func (a *Auth) authorize(ctx context.Context) (*Claims, error) {
	sess, err := a.Session(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %w", service.ErrAuth, ErrNotSignedIn)
	}
	claims, err := a.tokens.ValidateAccess(sess.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrAuth, err)
	}
	return claims, nil
}

func (a *Auth) establish(sess *service.Session, kind service.AuthEventKind) {
	a.mu.Lock()
	a.session = sess
	a.mu.Unlock()

	if err := a.sessions.Save(sess); err != nil {
		a.logger.Error("failed to persist session", "error", err)
	}
	a.listeners.Emit(service.AuthEvent{Kind: kind, Session: sess})
}

func (a *Auth) clear() error {
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()

	err := a.sessions.Remove()
	a.listeners.Emit(service.AuthEvent{Kind: service.SignedOut})
	return err
}
