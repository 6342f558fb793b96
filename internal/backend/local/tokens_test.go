package local

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens_IssueAndValidate(t *testing.T) {
	tokens := NewTokens(testSecret, 0, 0)

	sess, err := tokens.Issue("user-1", "me@example.com")
	require.NoError(t, err)

	assert.Equal(t, "bearer", sess.TokenType)
	assert.Equal(t, "user-1", sess.User.ID)
	assert.Equal(t, "me@example.com", sess.User.Email)
	assert.WithinDuration(t, time.Now().Add(DefaultAccessTTL), sess.ExpiresAt, 2*time.Second)

	claims, err := tokens.ValidateAccess(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "me@example.com", claims.Email)

	claims, err = tokens.ValidateRefresh(sess.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestTokens_RejectsWrongKind(t *testing.T) {
	tokens := NewTokens(testSecret, 0, 0)
	sess, err := tokens.Issue("user-1", "me@example.com")
	require.NoError(t, err)

	_, err = tokens.ValidateAccess(sess.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.ValidateRefresh(sess.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_Expired(t *testing.T) {
	tokens := NewTokens(testSecret, -time.Minute, 0)
	sess, err := tokens.Issue("user-1", "me@example.com")
	require.NoError(t, err)

	_, err = tokens.ValidateAccess(sess.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = tokens.ValidateRefresh(sess.RefreshToken)
	assert.NoError(t, err)
}

func TestTokens_RejectsForeignTokens(t *testing.T) {
	tokens := NewTokens(testSecret, 0, 0)

	other, err := NewTokens("another-secret", 0, 0).Issue("user-1", "me@example.com")
	require.NoError(t, err)
	_, err = tokens.ValidateAccess(other.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		TokenType:        accessToken,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "user-1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.ValidateAccess(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.ValidateAccess("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
