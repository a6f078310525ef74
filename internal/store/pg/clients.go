package pg

import (
	"context"
	"strings"

	"lexflow.io/internal/auth"
	"lexflow.io/internal/clients"
)

var _ clients.Store = (*Store)(nil)

// CreateClientProfile inserts the cliente profile and its active client_guest
// membership in one transaction.
func (s *Store) CreateClientProfile(ctx context.Context, orgID, membershipID string, p auth.Profile) (auth.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Profile{}, err
	}
	defer func() { _ = tx.Rollback() }()

	out, err := scanProfile(tx.QueryRowContext(ctx, `
		insert into profiles (id, email, nombre, role, activo, telefono, documento, created_at, updated_at)
		values ($1, $2, $3, 'cliente', true, $4, $5, $6, $6)
		returning `+profileColumns,
		p.ID, p.Email, p.Nombre, nullString(p.Telefono), nullString(p.Documento), p.CreatedAt))
	if err != nil {
		return auth.Profile{}, mapError(err)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into memberships (id, org_id, profile_id, role, status, created_at)
		values ($1, $2, $3, 'client_guest', 'active', $4)`,
		membershipID, orgID, out.ID, p.CreatedAt); err != nil {
		return auth.Profile{}, mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return auth.Profile{}, err
	}
	return out, nil
}

// ListClients pages the client_guest members of orgID by name. query matches
// name, email or document.
func (s *Store) ListClients(ctx context.Context, orgID, query string, limit, offset int) ([]auth.Profile, int, error) {
	pattern := "%"
	if q := strings.TrimSpace(query); q != "" {
		pattern = "%" + likeEscaper.Replace(q) + "%"
	}
	const where = `
		from profiles p
		join memberships m on m.profile_id = p.id and m.org_id = $1 and m.role = 'client_guest'
		where p.nombre ilike $2 or p.email ilike $2 or coalesce(p.documento, '') ilike $2`

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*)`+where, orgID, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `select `+prefixed("p", profileColumns)+where+`
		order by p.nombre asc, p.id asc
		limit $3 offset $4`, orgID, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []auth.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// prefixed qualifies a comma separated column list with alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
