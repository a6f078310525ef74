package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/cases"
)

var _ cases.Store = (*Store)(nil)

const caseColumns = `id, org_id, caratula, materia, tribunal, cliente_nombre, cliente_documento, estado, prioridad,
	workflow_state, abogado_responsable, analista_asignado, valor_estimado, etapa_actual, created_by, created_at, updated_at`

func scanCase(row scanner) (cases.Case, error) {
	var (
		c                           cases.Case
		estado, prioridad, workflow string
		tribunal, abogado, analista sql.NullString
		etapa                       sql.NullString
		valor                       sql.NullFloat64
	)
	err := row.Scan(&c.ID, &c.OrgID, &c.Caratula, &c.Materia, &tribunal, &c.ClienteNombre, &c.ClienteDocumento,
		&estado, &prioridad, &workflow, &abogado, &analista, &valor, &etapa, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return cases.Case{}, err
	}
	c.Estado = cases.Estado(estado)
	c.Prioridad = cases.Prioridad(prioridad)
	c.WorkflowState = cases.WorkflowState(workflow)
	c.Tribunal = stringPtr(tribunal)
	c.AbogadoResponsable = stringPtr(abogado)
	c.AnalistaAsignado = stringPtr(analista)
	c.EtapaActual = stringPtr(etapa)
	c.ValorEstimado = floatPtr(valor)
	return c, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func (s *Store) InsertCase(ctx context.Context, c cases.Case) (cases.Case, error) {
	out, err := scanCase(s.db.QueryRowContext(ctx, `
		insert into cases (id, org_id, caratula, materia, tribunal, cliente_nombre, cliente_documento, estado,
			prioridad, workflow_state, abogado_responsable, analista_asignado, valor_estimado, created_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		returning `+caseColumns,
		c.ID, c.OrgID, c.Caratula, c.Materia, nullString(c.Tribunal), c.ClienteNombre, c.ClienteDocumento,
		string(c.Estado), string(c.Prioridad), string(c.WorkflowState), nullString(c.AbogadoResponsable),
		nullString(c.AnalistaAsignado), nullFloat(c.ValorEstimado), c.CreatedBy, c.CreatedAt))
	if err != nil {
		return cases.Case{}, mapError(err)
	}
	return out, nil
}

func (s *Store) GetCase(ctx context.Context, orgID, id string) (cases.Case, error) {
	c, err := scanCase(s.db.QueryRowContext(ctx, `select `+caseColumns+` from cases where org_id = $1 and id = $2`, orgID, id))
	if err != nil {
		return cases.Case{}, mapError(err)
	}
	return c, nil
}

// ListCases returns the cases of orgID inside scope, most recently updated
// first.
func (s *Store) ListCases(ctx context.Context, orgID string, scope cases.Scope, f cases.Filter) ([]cases.Case, error) {
	where := []string{"org_id = $1"}
	args := []any{orgID}
	if !scope.All {
		args = append(args, scope.CaseIDs)
		where = append(where, fmt.Sprintf("id = any($%d)", len(args)))
	}
	if len(f.IDs) > 0 {
		args = append(args, f.IDs)
		where = append(where, fmt.Sprintf("id = any($%d)", len(args)))
	}
	if f.Estado != "" {
		args = append(args, string(f.Estado))
		where = append(where, fmt.Sprintf("estado = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`select %s from cases where %s order by updated_at desc, id desc limit $%d offset $%d`,
		caseColumns, strings.Join(where, " and "), len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []cases.Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetCaseEstado(ctx context.Context, orgID, id string, estado cases.Estado) (cases.Case, error) {
	c, err := scanCase(s.db.QueryRowContext(ctx, `
		update cases set estado = $3, updated_at = now()
		where org_id = $1 and id = $2
		returning `+caseColumns, orgID, id, string(estado)))
	if err != nil {
		return cases.Case{}, mapError(err)
	}
	return c, nil
}

// LinkClient attaches clientID to the case when it holds an active
// client_guest membership in orgID.
func (s *Store) LinkClient(ctx context.Context, orgID, caseID, clientID string) error {
	res, err := s.db.ExecContext(ctx, `
		insert into case_clients (org_id, case_id, client_id)
		select $1, $2, $3
		where exists (
			select 1 from memberships
			where org_id = $1 and profile_id = $3 and role = 'client_guest' and status = 'active'
		)
		on conflict (case_id, client_id) do nothing`, orgID, caseID, clientID)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		linked, err := s.IsClientLinked(ctx, orgID, caseID, clientID)
		if err != nil {
			return err
		}
		if !linked {
			return fmt.Errorf("%w: client is not a member of this organization", apperr.ErrNotFound)
		}
	}
	return nil
}

func (s *Store) IsClientLinked(ctx context.Context, orgID, caseID, clientID string) (bool, error) {
	var linked bool
	err := s.db.QueryRowContext(ctx, `
		select exists (select 1 from case_clients where org_id = $1 and case_id = $2 and client_id = $3)`,
		orgID, caseID, clientID).Scan(&linked)
	return linked, err
}

func (s *Store) LinkedCaseIDs(ctx context.Context, orgID, clientID string) ([]string, error) {
	return s.caseIDs(ctx, `select case_id from case_clients where org_id = $1 and client_id = $2 order by case_id`, orgID, clientID)
}

func (s *Store) AssignedCaseIDs(ctx context.Context, orgID, profileID string) ([]string, error) {
	return s.caseIDs(ctx, `
		select id from cases
		where org_id = $1 and (abogado_responsable = $2 or analista_asignado = $2)
		order by id`, orgID, profileID)
}

func (s *Store) caseIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
