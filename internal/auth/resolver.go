package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/obs"
)

// Resolver maps an authenticated identity to its application profile,
// creating the profile on first sight and keeping it in line with claims.
type Resolver struct {
	store ProfileStore
	group singleflight.Group
}

func NewResolver(store ProfileStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the caller's profile with the effective role applied.
// A nil identity yields (nil, nil) so callers decide how to react.
func (r *Resolver) Resolve(ctx context.Context, id *Identity) (*Profile, error) {
	if id == nil || strings.TrimSpace(id.ID) == "" {
		return nil, nil
	}
	v, err, _ := r.group.Do(id.ID, func() (interface{}, error) {
		return r.resolve(ctx, *id)
	})
	if err != nil {
		return nil, err
	}
	p := v.(Profile)
	return &p, nil
}

func (r *Resolver) resolve(ctx context.Context, id Identity) (Profile, error) {
	existing, err := r.store.GetProfile(ctx, id.ID)
	switch {
	case err == nil:
		obs.ObserveIdentity("found")
		return r.reconcile(ctx, id, existing), nil
	case !errors.Is(err, apperr.ErrNotFound):
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}

	role := RoleCliente
	if claimed, _, ok := ClaimedRole(id); ok {
		role = claimed
	}
	created, err := r.store.CreateProfile(ctx, Profile{
		ID:     id.ID,
		Email:  id.Email,
		Nombre: DisplayName(id),
		Role:   role,
		Activo: true,
	})
	if err == nil {
		obs.ObserveIdentity("created")
		return created, nil
	}
	if !errors.Is(err, apperr.ErrConflict) {
		return Profile{}, fmt.Errorf("create profile: %w", err)
	}
	// another request inserted the row first
	existing, err = r.store.GetProfile(ctx, id.ID)
	if err != nil {
		return Profile{}, fmt.Errorf("reload profile after conflict: %w", err)
	}
	obs.ObserveIdentity("recovered")
	return r.reconcile(ctx, id, existing), nil
}

// reconcile persists drift between claims and the stored profile. When the
// write fails the drift is still applied to the returned copy.
func (r *Resolver) reconcile(ctx context.Context, id Identity, p Profile) Profile {
	var upd ProfileUpdate
	if id.Email != "" && !strings.EqualFold(id.Email, p.Email) {
		email := id.Email
		upd.Email = &email
	}
	if name, ok := ClaimedName(id); ok && name != p.Nombre {
		upd.Nombre = &name
	}
	if claimed, _, ok := ClaimedRole(id); ok && claimed != p.Role {
		upd.Role = &claimed
	}
	if upd.Empty() {
		return p
	}
	if upd.Role != nil {
		obs.ObserveIdentity("overridden")
	}
	updated, err := r.store.UpdateProfile(ctx, p.ID, upd)
	if err != nil {
		obs.Warn("profile sync failed, using in-memory override", map[string]any{
			"profile_id": p.ID,
			"error":      err.Error(),
		})
		upd.applyTo(&p)
		return p
	}
	return updated
}
