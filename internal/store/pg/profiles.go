package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"lexflow.io/internal/auth"
)

var _ auth.ProfileStore = (*Store)(nil)

const profileColumns = `id, email, nombre, role, activo, telefono, documento, created_at, updated_at`

func scanProfile(row scanner) (auth.Profile, error) {
	var (
		p         auth.Profile
		role      string
		telefono  sql.NullString
		documento sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Email, &p.Nombre, &role, &p.Activo, &telefono, &documento, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return auth.Profile{}, err
	}
	p.Role = auth.Role(role)
	p.Telefono = stringPtr(telefono)
	p.Documento = stringPtr(documento)
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (auth.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, `select `+profileColumns+` from profiles where id = $1`, id))
	if err != nil {
		return auth.Profile{}, mapError(err)
	}
	return p, nil
}

func (s *Store) FindProfileByEmail(ctx context.Context, email string) (auth.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, `
		select `+profileColumns+`
		from profiles
		where lower(email) = lower($1)
		order by created_at asc
		limit 1`, strings.TrimSpace(email)))
	if err != nil {
		return auth.Profile{}, mapError(err)
	}
	return p, nil
}

// CreateProfile inserts p. A duplicate id yields apperr.ErrConflict.
func (s *Store) CreateProfile(ctx context.Context, p auth.Profile) (auth.Profile, error) {
	out, err := scanProfile(s.db.QueryRowContext(ctx, `
		insert into profiles (id, email, nombre, role, activo, telefono, documento)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+profileColumns,
		p.ID, p.Email, p.Nombre, string(p.Role), p.Activo, nullString(p.Telefono), nullString(p.Documento)))
	if err != nil {
		return auth.Profile{}, mapError(err)
	}
	return out, nil
}

// UpdateProfile writes the drifted identity fields only.
func (s *Store) UpdateProfile(ctx context.Context, id string, upd auth.ProfileUpdate) (auth.Profile, error) {
	if upd.Empty() {
		return s.GetProfile(ctx, id)
	}
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.Nombre != nil {
		add("nombre", *upd.Nombre)
	}
	if upd.Role != nil {
		add("role", string(*upd.Role))
	}
	args = append(args, id)
	query := fmt.Sprintf(`update profiles set %s, updated_at = now() where id = $%d returning %s`,
		strings.Join(sets, ", "), len(args), profileColumns)
	out, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return auth.Profile{}, mapError(err)
	}
	return out, nil
}
