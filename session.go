package gatherly

import (
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Session holds the platform access token and the identity of the current
// user. Commands consult it locally before touching the network; a command
// issued without a valid session fails with ErrAuthenticationRequired.
//
// The token is a JWT minted by the platform. Claims are decoded without
// signature verification; the client only needs the identity for display
// and read-receipt attribution; the server enforces authenticity.
type Session struct {
	mu    sync.RWMutex
	token string
	user  *UserSnapshot
}

// NewSession creates an empty, unauthenticated session.
func NewSession() *Session {
	return &Session{}
}

// SetToken stores the access token and decodes the user identity from its
// claims. An unparsable token is kept as-is with no identity; SetUser can
// supply the identity later from a profile fetch.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.user = nil
	if token == "" {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	user := &UserSnapshot{}
	if sub, err := claims.GetSubject(); err == nil {
		user.ID = sub
	}
	if v, ok := claims["username"].(string); ok {
		user.Username = v
	}
	if v, ok := claims["display_name"].(string); ok {
		user.DisplayName = v
	}
	if user.ID != "" {
		s.user = user
	}
}

// SetUser overrides the current-user identity, e.g. from a profile fetch.
func (s *Session) SetUser(user UserSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &user
}

// Clear drops the token and identity, returning to the unauthenticated state.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.user = nil
}

// Token returns the current access token, or "" when unauthenticated.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Authenticated reports whether a token is present.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// CurrentUser returns a copy of the current-user identity, or nil when it is
// not known.
func (s *Session) CurrentUser() *UserSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// UserID returns the current user's id, or "" when unknown.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}
