package audit

import (
	"context"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/auth"
	"lexflow.io/internal/obs"
)

// Authorizer is the authorization gate.
type Authorizer interface {
	RequireAuth(ctx context.Context, roles ...auth.Role) (auth.Profile, error)
}

// Mutation names a privileged write and the roles allowed to perform it.
type Mutation struct {
	Action     string
	EntityType string
	Roles      []auth.Role
}

// Record is what a successful mutation reports for the trail.
type Record struct {
	EntityID string
	Diff     map[string]any
}

// Guard wraps the gate so that every privileged mutation passing through it
// is authorized first and audited after it succeeds.
type Guard struct {
	gate   Authorizer
	writer *Writer
}

func NewGuard(gate Authorizer, writer *Writer) *Guard {
	return &Guard{gate: gate, writer: writer}
}

// RequireAuth delegates to the gate. Reads use it directly.
func (g *Guard) RequireAuth(ctx context.Context, roles ...auth.Role) (auth.Profile, error) {
	return g.gate.RequireAuth(ctx, roles...)
}

// Run authorizes m, runs fn with the caller and appends the audit entry when
// fn succeeds.
func (g *Guard) Run(ctx context.Context, m Mutation, fn func(ctx context.Context, caller auth.Profile) (Record, error)) error {
	caller, err := g.gate.RequireAuth(ctx, m.Roles...)
	if err != nil {
		obs.ObserveAction(m.Action, apperr.Outcome(err))
		return err
	}
	rec, err := fn(ctx, caller)
	obs.ObserveAction(m.Action, apperr.Outcome(err))
	if err != nil {
		return err
	}
	if g.writer != nil {
		g.writer.record(ctx, caller, Action{
			Action:     m.Action,
			EntityType: m.EntityType,
			EntityID:   rec.EntityID,
			Diff:       rec.Diff,
		})
	}
	return nil
}

// List returns the trail of the caller's active organization. Firm admins
// only.
func (g *Guard) List(ctx context.Context, q Query) ([]Entry, error) {
	if _, err := g.gate.RequireAuth(ctx, auth.RoleAdminFirma); err != nil {
		return nil, err
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return nil, err
	}
	if g.writer == nil {
		return nil, apperr.ErrUnavailable
	}
	return g.writer.List(ctx, orgID, q)
}
