package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/auth"
	"lexflow.io/internal/workflow"
)

var _ workflow.Store = (*Store)(nil)

const stageColumns = `s.id, s.org_id, s.case_id, s.etapa, s.descripcion, s.orden, s.estado, s.fecha_programada,
	s.fecha_completado, s.responsable_id, coalesce(p.role, ''), s.requiere_pago, s.costo_calculado, s.costo_final,
	s.estado_pago, s.es_publica, s.notas, s.created_by, s.created_at, s.updated_at`

const stageFrom = ` from case_stages s left join profiles p on p.id = s.responsable_id`

// stageColumnSet lists the columns a patch may write.
var stageColumnSet = map[string]bool{
	"etapa": true, "descripcion": true, "orden": true, "estado": true, "fecha_programada": true,
	"responsable_id": true, "requiere_pago": true, "costo_calculado": true, "costo_final": true,
	"estado_pago": true, "es_publica": true, "notas": true,
}

func scanStage(row scanner) (workflow.Stage, error) {
	var (
		st                      workflow.Stage
		estado, pago, role      string
		descripcion, notas, rid sql.NullString
		programada, completado  sql.NullTime
		calculado, final        sql.NullFloat64
	)
	err := row.Scan(&st.ID, &st.OrgID, &st.CaseID, &st.Etapa, &descripcion, &st.Orden, &estado, &programada,
		&completado, &rid, &role, &st.RequierePago, &calculado, &final,
		&pago, &st.EsPublica, &notas, &st.CreatedBy, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return workflow.Stage{}, err
	}
	st.Estado = workflow.Estado(estado)
	st.EstadoPago = workflow.EstadoPago(pago)
	st.ResponsableRole = auth.Role(role)
	st.Descripcion = stringPtr(descripcion)
	st.Notas = stringPtr(notas)
	st.ResponsableID = stringPtr(rid)
	st.FechaProgramada = timePtr(programada)
	st.FechaCompletado = timePtr(completado)
	st.CostoCalculado = floatPtr(calculado)
	st.CostoFinal = floatPtr(final)
	return st, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *Store) InsertStage(ctx context.Context, st workflow.Stage) (workflow.Stage, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into case_stages (id, org_id, case_id, etapa, descripcion, orden, estado, fecha_programada,
			responsable_id, requiere_pago, costo_calculado, estado_pago, es_publica, notas, created_by, created_at, updated_at)
		select $1, $2, c.id, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16
		from cases c where c.org_id = $2 and c.id = $3`,
		st.ID, st.OrgID, st.CaseID, st.Etapa, nullString(st.Descripcion), st.Orden, string(st.Estado),
		nullTime(st.FechaProgramada), nullString(st.ResponsableID), st.RequierePago, nullFloat(st.CostoCalculado),
		string(st.EstadoPago), st.EsPublica, nullString(st.Notas), st.CreatedBy, st.CreatedAt)
	if err != nil {
		return workflow.Stage{}, mapError(err)
	}
	return s.GetStage(ctx, st.OrgID, st.ID)
}

func (s *Store) GetStage(ctx context.Context, orgID, id string) (workflow.Stage, error) {
	st, err := scanStage(s.db.QueryRowContext(ctx, `select `+stageColumns+stageFrom+` where s.org_id = $1 and s.id = $2`, orgID, id))
	if err != nil {
		return workflow.Stage{}, mapError(err)
	}
	return st, nil
}

// UpdateStage writes only the assigned columns. With ifUnmodifiedSince the
// row must still carry that updated_at, otherwise apperr.ErrConflict.
func (s *Store) UpdateStage(ctx context.Context, orgID, id string, set []workflow.Assignment, ifUnmodifiedSince *time.Time, now time.Time) (workflow.Stage, error) {
	if len(set) == 0 {
		return s.GetStage(ctx, orgID, id)
	}
	args := []any{orgID, id}
	sets := make([]string, 0, len(set)+1)
	for _, a := range set {
		if !stageColumnSet[a.Column] {
			return workflow.Stage{}, fmt.Errorf("%w: column %q is not updatable", apperr.ErrInvalidInput, a.Column)
		}
		args = append(args, a.Value)
		sets = append(sets, fmt.Sprintf("%s = $%d", a.Column, len(args)))
	}
	args = append(args, now)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	where := "org_id = $1 and id = $2"
	if ifUnmodifiedSince != nil {
		args = append(args, *ifUnmodifiedSince)
		where += fmt.Sprintf(" and updated_at = $%d", len(args))
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`update case_stages set %s where %s`, strings.Join(sets, ", "), where), args...)
	if err != nil {
		return workflow.Stage{}, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return workflow.Stage{}, err
	}
	if n == 0 {
		if _, err := s.GetStage(ctx, orgID, id); err != nil {
			return workflow.Stage{}, err
		}
		return workflow.Stage{}, fmt.Errorf("%w: stage was modified by someone else", apperr.ErrConflict)
	}
	return s.GetStage(ctx, orgID, id)
}

// CompleteStage marks the stage completado and points the case at the next
// pendiente stage by orden. When none is left etapa_actual keeps its value.
func (s *Store) CompleteStage(ctx context.Context, orgID, id string, completedAt time.Time) (workflow.Completion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Completion{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var caseID string
	err = tx.QueryRowContext(ctx, `
		update case_stages
		set estado = 'completado', fecha_completado = $3, updated_at = $3
		where org_id = $1 and id = $2 and estado <> 'completado'
		  and (not requiere_pago or estado_pago = 'pagado')
		returning case_id`, orgID, id, completedAt).Scan(&caseID)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Completion{}, s.explainIncomplete(ctx, tx, orgID, id)
	}
	if err != nil {
		return workflow.Completion{}, mapError(err)
	}

	var out workflow.Completion
	var next string
	err = tx.QueryRowContext(ctx, `
		select etapa from case_stages
		where org_id = $1 and case_id = $2 and estado = 'pendiente'
		order by orden asc, created_at asc
		limit 1`, orgID, caseID).Scan(&next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return workflow.Completion{}, err
	default:
		if _, err := tx.ExecContext(ctx, `update cases set etapa_actual = $3, updated_at = $4 where org_id = $1 and id = $2`,
			orgID, caseID, next, completedAt); err != nil {
			return workflow.Completion{}, mapError(err)
		}
		out.NextEtapa = &next
	}

	var open int
	if err := tx.QueryRowContext(ctx, `
		select count(*) from case_stages
		where org_id = $1 and case_id = $2 and estado not in ('completado', 'cancelado')`,
		orgID, caseID).Scan(&open); err != nil {
		return workflow.Completion{}, err
	}
	out.AllCompleted = open == 0

	if err := tx.Commit(); err != nil {
		return workflow.Completion{}, err
	}
	out.Stage, err = s.GetStage(ctx, orgID, id)
	if err != nil {
		return workflow.Completion{}, err
	}
	return out, nil
}

func (s *Store) explainIncomplete(ctx context.Context, tx *sql.Tx, orgID, id string) error {
	var (
		estado, pago string
		requiere     bool
	)
	err := tx.QueryRowContext(ctx, `select estado, requiere_pago, estado_pago from case_stages where org_id = $1 and id = $2`,
		orgID, id).Scan(&estado, &requiere, &pago)
	if err != nil {
		return mapError(err)
	}
	if estado == string(workflow.EstadoCompletado) {
		return fmt.Errorf("%w: stage is already completed", apperr.ErrPrecondition)
	}
	return fmt.Errorf("%w: stage requires payment before completion (estado_pago=%s)", apperr.ErrPrecondition, pago)
}

func (s *Store) DeleteStage(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from case_stages where org_id = $1 and id = $2`, orgID, id)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// ListStages fetches every matching stage in display order. Callers page in
// memory.
func (s *Store) ListStages(ctx context.Context, orgID string, f workflow.StageFilter) ([]workflow.Stage, error) {
	where := []string{"s.org_id = $1"}
	args := []any{orgID}
	if f.CaseIDs != nil {
		args = append(args, f.CaseIDs)
		where = append(where, fmt.Sprintf("s.case_id = any($%d)", len(args)))
	}
	if f.Estado != "" {
		args = append(args, string(f.Estado))
		where = append(where, fmt.Sprintf("s.estado = $%d", len(args)))
	}
	if f.Desde != nil {
		args = append(args, *f.Desde)
		where = append(where, fmt.Sprintf("s.fecha_programada >= $%d", len(args)))
	}
	if f.Hasta != nil {
		args = append(args, *f.Hasta)
		where = append(where, fmt.Sprintf("s.fecha_programada <= $%d", len(args)))
	}
	if f.OnlyPublic {
		where = append(where, "s.es_publica")
	}
	query := `select ` + stageColumns + stageFrom + ` where ` + strings.Join(where, " and ") +
		` order by s.case_id, s.orden asc, s.created_at asc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []workflow.Stage{}
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) NextOrder(ctx context.Context, orgID, caseID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx, `
		select coalesce(max(orden), 0) + 1 from case_stages where org_id = $1 and case_id = $2`,
		orgID, caseID).Scan(&next)
	return next, err
}
