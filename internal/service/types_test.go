package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
)

func TestSessionWithToken_KeepsRefreshTokenAndUser(t *testing.T) {
	expiry := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sess := &Session{
		AccessToken:  "old",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		User:         User{ID: "u1", Email: "me@example.com"},
	}

	next := sess.WithToken(&oauth2.Token{AccessToken: "new", Expiry: expiry})

	assert.Equal(t, "new", next.AccessToken)
	assert.Equal(t, "refresh-1", next.RefreshToken)
	assert.Equal(t, "bearer", next.TokenType)
	assert.Equal(t, expiry, next.ExpiresAt)
	assert.Equal(t, sess.User, next.User)
	assert.Equal(t, "old", sess.AccessToken, "original session must not change")
}

func TestSessionWithToken_RotatesRefreshToken(t *testing.T) {
	sess := &Session{AccessToken: "old", RefreshToken: "refresh-1"}

	next := sess.WithToken(&oauth2.Token{AccessToken: "new", RefreshToken: "refresh-2", TokenType: "Bearer"})

	assert.Equal(t, "refresh-2", next.RefreshToken)
	assert.Equal(t, "Bearer", next.TokenType)
}
