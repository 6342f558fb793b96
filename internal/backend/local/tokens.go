package local

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tasksync/internal/service"
)

var (
	// ErrInvalidToken is returned for malformed, forged or wrong-kind tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// Token kinds.
const (
	accessToken  = "access"
	refreshToken = "refresh"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

const issuer = "tasksync-local"

// Claims are the claims carried by local session tokens.
type Claims struct {
	Email     string `json:"email"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Tokens issues and validates HS256 session tokens.
type Tokens struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokens creates a token issuer. Zero lifetimes use the defaults.
func NewTokens(secret string, accessTTL, refreshTTL time.Duration) *Tokens {
	if accessTTL == 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL == 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &Tokens{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// Issue creates a session for the user.
func (t *Tokens) Issue(userID, email string) (*service.Session, error) {
	now := time.Now()
	access, err := t.sign(userID, email, accessToken, now, t.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := t.sign(userID, email, refreshToken, now, t.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &service.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    now.Add(t.accessTTL).Truncate(time.Second),
		User:         service.User{ID: userID, Email: email},
	}, nil
}

func (t *Tokens) sign(userID, email, kind string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Email:     email,
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// ValidateAccess validates an access token.
func (t *Tokens) ValidateAccess(token string) (*Claims, error) {
	return t.validate(token, accessToken)
}

// ValidateRefresh validates a refresh token.
func (t *Tokens) ValidateRefresh(token string) (*Claims, error) {
	return t.validate(token, refreshToken)
}

func (t *Tokens) validate(tokenString, kind string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != kind {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
