package auth

import (
	"context"
	"time"
)

// Profile is the application record mirroring an authenticated identity.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Nombre    string    `json:"nombre"`
	Role      Role      `json:"role"`
	Activo    bool      `json:"activo"`
	Telefono  *string   `json:"telefono,omitempty"`
	Documento *string   `json:"documento,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileUpdate carries the identity-driven fields that may drift.
type ProfileUpdate struct {
	Email  *string
	Nombre *string
	Role   *Role
}

func (u ProfileUpdate) Empty() bool {
	return u.Email == nil && u.Nombre == nil && u.Role == nil
}

func (u ProfileUpdate) applyTo(p *Profile) {
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.Nombre != nil {
		p.Nombre = *u.Nombre
	}
	if u.Role != nil {
		p.Role = *u.Role
	}
}

// ProfileStore persists profiles. GetProfile returns apperr.ErrNotFound when
// no row exists and CreateProfile returns apperr.ErrConflict on duplicate id.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
	CreateProfile(ctx context.Context, p Profile) (Profile, error)
	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (Profile, error)
}
