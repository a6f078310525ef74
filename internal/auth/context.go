package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"lexflow.io/internal/apperr"
)

// Session is the request-scoped view of who is calling and which tenant the
// call operates on. It is built once per request by the transport layer.
type Session struct {
	ID          string
	Identity    *Identity
	ActiveOrgID string
	// Persona is the demo persona chosen by an owner. Navigation only; it
	// never feeds authorization.
	Persona   Role
	IP        string
	UserAgent string

	mu       sync.Mutex
	resolved bool
	profile  *Profile
}

type sessionContextKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFrom returns the session attached to ctx.
func SessionFrom(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	if !ok || s == nil {
		return nil, false
	}
	return s, true
}

// ActiveOrg returns the organization the request is scoped to.
func ActiveOrg(ctx context.Context) (string, error) {
	s, ok := SessionFrom(ctx)
	if !ok || strings.TrimSpace(s.ActiveOrgID) == "" {
		return "", apperr.ErrNoActiveOrg
	}
	return s.ActiveOrgID, nil
}

// WithActiveOrg returns a copy of ctx whose session points at orgID.
func WithActiveOrg(ctx context.Context, orgID string) (context.Context, error) {
	s, ok := SessionFrom(ctx)
	if !ok {
		return ctx, fmt.Errorf("%w: no session", apperr.ErrUnauthenticated)
	}
	next := &Session{
		ID:          s.ID,
		Identity:    s.Identity,
		ActiveOrgID: orgID,
		Persona:     s.Persona,
		IP:          s.IP,
		UserAgent:   s.UserAgent,
	}
	s.mu.Lock()
	next.resolved, next.profile = s.resolved, s.profile
	s.mu.Unlock()
	return WithSession(ctx, next), nil
}

func (s *Session) cached() (*Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile, s.resolved
}

func (s *Session) remember(p *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile, s.resolved = p, true
}
