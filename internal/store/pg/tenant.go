package pg

import (
	"context"

	"lexflow.io/internal/tenant"
)

var _ tenant.Store = (*Store)(nil)

// CreateOrganization inserts the organization and its owner membership in
// one transaction.
func (s *Store) CreateOrganization(ctx context.Context, org tenant.Organization, owner tenant.Membership) (tenant.Organization, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tenant.Organization{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var out tenant.Organization
	err = tx.QueryRowContext(ctx, `
		insert into organizations (id, name, plan, created_by, created_at)
		values ($1, $2, $3, $4, $5)
		returning id, name, plan, created_by, created_at`,
		org.ID, org.Name, org.Plan, org.CreatedBy, org.CreatedAt,
	).Scan(&out.ID, &out.Name, &out.Plan, &out.CreatedBy, &out.CreatedAt)
	if err != nil {
		return tenant.Organization{}, mapError(err)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into memberships (id, org_id, profile_id, role, status, created_at)
		values ($1, $2, $3, $4, $5, $6)`,
		owner.ID, out.ID, owner.ProfileID, string(owner.Role), string(owner.Status), owner.CreatedAt,
	); err != nil {
		return tenant.Organization{}, mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return tenant.Organization{}, err
	}
	return out, nil
}

const membershipSelect = `
	select m.id, m.org_id, o.name, m.profile_id, m.role, m.status, m.created_at
	from memberships m
	join organizations o on o.id = m.org_id`

func scanMembership(row scanner) (tenant.Membership, error) {
	var (
		m      tenant.Membership
		role   string
		status string
	)
	if err := row.Scan(&m.ID, &m.OrgID, &m.OrgName, &m.ProfileID, &role, &status, &m.CreatedAt); err != nil {
		return tenant.Membership{}, err
	}
	m.Role = tenant.MembershipRole(role)
	m.Status = tenant.MembershipStatus(status)
	return m, nil
}

func (s *Store) GetMembership(ctx context.Context, orgID, profileID string) (tenant.Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx, membershipSelect+`
		where m.org_id = $1 and m.profile_id = $2`, orgID, profileID))
	if err != nil {
		return tenant.Membership{}, mapError(err)
	}
	return m, nil
}

// IsStaffMember reports whether profileID is an active, non-guest member of
// orgID with an active profile.
func (s *Store) IsStaffMember(ctx context.Context, orgID, profileID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists (
			select 1 from memberships m
			join profiles p on p.id = m.profile_id
			where m.org_id = $1 and m.profile_id = $2
			  and m.status = 'active' and m.role <> 'client_guest' and p.activo
		)`, orgID, profileID).Scan(&ok)
	if err != nil {
		return false, mapError(err)
	}
	return ok, nil
}

// ListMemberships returns the profile's memberships, oldest first.
func (s *Store) ListMemberships(ctx context.Context, profileID string) ([]tenant.Membership, error) {
	rows, err := s.db.QueryContext(ctx, membershipSelect+`
		where m.profile_id = $1
		order by m.created_at asc, m.id asc`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tenant.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) AddMembership(ctx context.Context, m tenant.Membership) (tenant.Membership, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into memberships (id, org_id, profile_id, role, status, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (org_id, profile_id) do update set role = excluded.role
		returning id, created_at`,
		m.ID, m.OrgID, m.ProfileID, string(m.Role), string(m.Status), m.CreatedAt,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return tenant.Membership{}, mapError(err)
	}
	return m, nil
}
