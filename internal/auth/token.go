// Package auth holds the bearer token of the signed-in storefront session.
package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expirySkew treats tokens that expire within this window as already expired.
const expirySkew = 5 * time.Second

// SessionToken is the current session's bearer token. The identity provider
// owns the token; SessionToken only hands out what it was last given.
//
// Tokens that parse as JWTs are checked for expiry before being handed out.
// Other tokens are opaque and always handed out as-is.
type SessionToken struct {
	now func() time.Time

	mu    sync.RWMutex
	token string
}

// NewSessionToken creates an empty SessionToken.
func NewSessionToken() *SessionToken {
	return &SessionToken{now: time.Now}
}

// Set stores the token supplied by the identity provider.
func (s *SessionToken) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
}

// Clear forgets the token.
func (s *SessionToken) Clear() {
	s.Set("")
}

type pinKey struct{}

type pinned struct {
	owner *SessionToken
	token string
}

// Pin binds the current token to ctx. Calls made with the returned context
// keep using it after the session token changes, and use none if there was
// none when pinned.
func (s *SessionToken) Pin(ctx context.Context) context.Context {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	return context.WithValue(ctx, pinKey{}, pinned{owner: s, token: token})
}

// Token returns the token pinned to ctx, or the current one. It returns ""
// when there is none or it is a JWT that has expired.
func (s *SessionToken) Token(ctx context.Context) (string, error) {
	var token string
	if p, ok := ctx.Value(pinKey{}).(pinned); ok && p.owner == s {
		token = p.token
	} else {
		s.mu.RLock()
		token = s.token
		s.mu.RUnlock()
	}

	if token == "" || s.expired(token) {
		return "", nil
	}
	return token, nil
}

// Authenticated reports whether a usable token is present.
func (s *SessionToken) Authenticated() bool {
	t, _ := s.Token(context.Background())
	return t != ""
}

func (s *SessionToken) expired(token string) bool {
	if strings.Count(token, ".") != 2 {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !s.now().Add(expirySkew).Before(exp.Time)
}
