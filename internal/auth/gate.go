package auth

import (
	"context"
	"fmt"

	"lexflow.io/internal/apperr"
)

// ProfileResolver resolves identities to profiles.
type ProfileResolver interface {
	Resolve(ctx context.Context, id *Identity) (*Profile, error)
}

// Gate is the single authorization choke point.
type Gate struct {
	resolver ProfileResolver
}

func NewGate(resolver ProfileResolver) *Gate {
	return &Gate{resolver: resolver}
}

// Current returns the caller's profile or nil when the request carries no
// identity. The result is memoized on the session.
func (g *Gate) Current(ctx context.Context) (*Profile, error) {
	s, ok := SessionFrom(ctx)
	if !ok || s.Identity == nil {
		return nil, nil
	}
	if p, done := s.cached(); done {
		return p, nil
	}
	p, err := g.resolver.Resolve(ctx, s.Identity)
	if err != nil {
		return nil, err
	}
	s.remember(p)
	return p, nil
}

// RequireAuth returns the caller's profile, failing when there is none or when
// roles is non-empty and the effective role is not listed.
func (g *Gate) RequireAuth(ctx context.Context, roles ...Role) (Profile, error) {
	p, err := g.Current(ctx)
	if err != nil {
		return Profile{}, err
	}
	if p == nil {
		return Profile{}, apperr.ErrUnauthenticated
	}
	if !p.Activo {
		return Profile{}, fmt.Errorf("%w: profile is deactivated", apperr.ErrForbidden)
	}
	if !HasRole(p.Role, roles...) {
		return Profile{}, apperr.ErrForbidden
	}
	return *p, nil
}
