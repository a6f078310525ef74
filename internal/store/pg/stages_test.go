package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/workflow"
)

var stageRowColumns = []string{"id", "org_id", "case_id", "etapa", "descripcion", "orden", "estado", "fecha_programada",
	"fecha_completado", "responsable_id", "role", "requiere_pago", "costo_calculado", "costo_final",
	"estado_pago", "es_publica", "notas", "created_by", "created_at", "updated_at"}

func stageRows(id, etapa, estado string) *sqlmock.Rows {
	return sqlmock.NewRows(stageRowColumns).AddRow(id, "org-1", "case-1", etapa, nil, int64(1), estado, nil,
		nil, "prof-1", "abogado", false, nil, nil,
		"pendiente", true, nil, "prof-1", fixedNow, fixedNow)
}

func TestGetStageScansResponsableRole(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from case_stages s left join profiles p").
		WithArgs("org-1", "stg-1").
		WillReturnRows(stageRows("stg-1", "Demanda", "pendiente"))

	st, err := s.GetStage(context.Background(), "org-1", "stg-1")
	if err != nil {
		t.Fatalf("GetStage: %v", err)
	}
	if st.ResponsableRole != "abogado" || st.ResponsableID == nil || *st.ResponsableID != "prof-1" {
		t.Fatalf("unexpected responsable: %+v", st)
	}
	if st.Descripcion != nil || st.FechaProgramada != nil {
		t.Fatalf("null columns must stay nil: %+v", st)
	}
	expectationsMet(t, mock)
}

func TestGetStageMissingIsNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from case_stages s").WithArgs("org-1", "nope").WillReturnRows(sqlmock.NewRows(stageRowColumns))

	if _, err := s.GetStage(context.Background(), "org-1", "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestUpdateStageWritesOnlyAssignedColumns(t *testing.T) {
	s, mock := newMock(t)
	patch := workflow.StagePatch{
		Estado:    workflow.Some(workflow.EstadoEnCurso),
		EsPublica: workflow.Some(true),
	}
	mock.ExpectExec(regexp.QuoteMeta(`update case_stages set estado = $3, es_publica = $4, updated_at = $5 where org_id = $1 and id = $2`)).
		WithArgs("org-1", "stg-1", "en_curso", true, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("from case_stages s").WithArgs("org-1", "stg-1").WillReturnRows(stageRows("stg-1", "Demanda", "en_curso"))

	st, err := s.UpdateStage(context.Background(), "org-1", "stg-1", patch.Assignments(), nil, fixedNow)
	if err != nil {
		t.Fatalf("UpdateStage: %v", err)
	}
	if st.Estado != workflow.EstadoEnCurso {
		t.Fatalf("unexpected estado %q", st.Estado)
	}
	expectationsMet(t, mock)
}

func TestUpdateStageConditionalConflict(t *testing.T) {
	s, mock := newMock(t)
	since := fixedNow.Add(-time.Minute)
	mock.ExpectExec(regexp.QuoteMeta(`update case_stages set notas = $3, updated_at = $4 where org_id = $1 and id = $2 and updated_at = $5`)).
		WithArgs("org-1", "stg-1", "x", fixedNow, since).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("from case_stages s").WithArgs("org-1", "stg-1").WillReturnRows(stageRows("stg-1", "Demanda", "pendiente"))

	note := "x"
	set := []workflow.Assignment{{Column: "notas", Value: &note}}
	_, err := s.UpdateStage(context.Background(), "org-1", "stg-1", set, &since, fixedNow)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestUpdateStageRejectsUnknownColumn(t *testing.T) {
	s, mock := newMock(t)
	set := []workflow.Assignment{{Column: "org_id", Value: "other"}}
	if _, err := s.UpdateStage(context.Background(), "org-1", "stg-1", set, nil, fixedNow); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestCompleteStageAdvancesCase(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("update case_stages").
		WithArgs("org-1", "stg-1", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"case_id"}).AddRow("case-1"))
	mock.ExpectQuery("select etapa from case_stages").
		WithArgs("org-1", "case-1").
		WillReturnRows(sqlmock.NewRows([]string{"etapa"}).AddRow("Audiencia"))
	mock.ExpectExec("update cases set etapa_actual").
		WithArgs("org-1", "case-1", "Audiencia", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select count").
		WithArgs("org-1", "case-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectCommit()
	mock.ExpectQuery("from case_stages s").WithArgs("org-1", "stg-1").WillReturnRows(stageRows("stg-1", "Demanda", "completado"))

	out, err := s.CompleteStage(context.Background(), "org-1", "stg-1", fixedNow)
	if err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if out.NextEtapa == nil || *out.NextEtapa != "Audiencia" {
		t.Fatalf("expected next etapa Audiencia, got %v", out.NextEtapa)
	}
	if out.AllCompleted {
		t.Fatalf("one stage is still open")
	}
	expectationsMet(t, mock)
}

func TestCompleteLastStageKeepsEtapaActual(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("update case_stages").
		WithArgs("org-1", "stg-9", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"case_id"}).AddRow("case-1"))
	mock.ExpectQuery("select etapa from case_stages").
		WithArgs("org-1", "case-1").
		WillReturnRows(sqlmock.NewRows([]string{"etapa"}))
	mock.ExpectQuery("select count").
		WithArgs("org-1", "case-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectCommit()
	mock.ExpectQuery("from case_stages s").WithArgs("org-1", "stg-9").WillReturnRows(stageRows("stg-9", "Sentencia", "completado"))

	out, err := s.CompleteStage(context.Background(), "org-1", "stg-9", fixedNow)
	if err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if out.NextEtapa != nil || !out.AllCompleted {
		t.Fatalf("unexpected completion: %+v", out)
	}
	expectationsMet(t, mock)
}

func TestCompleteStageUnpaidIsPrecondition(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("update case_stages").
		WithArgs("org-1", "stg-1", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"case_id"}))
	mock.ExpectQuery("select estado, requiere_pago, estado_pago from case_stages").
		WithArgs("org-1", "stg-1").
		WillReturnRows(sqlmock.NewRows([]string{"estado", "requiere_pago", "estado_pago"}).AddRow("pendiente", true, "parcial"))
	mock.ExpectRollback()

	_, err := s.CompleteStage(context.Background(), "org-1", "stg-1", fixedNow)
	if !errors.Is(err, apperr.ErrPrecondition) {
		t.Fatalf("expected precondition, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestListStagesFilters(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`where s.org_id = $1 and s.case_id = any($2) and s.estado = $3 and s.es_publica order by s.case_id, s.orden asc, s.created_at asc`)).
		WithArgs("org-1", []string{"case-1"}, "pendiente").
		WillReturnRows(stageRows("stg-1", "Demanda", "pendiente"))

	out, err := s.ListStages(context.Background(), "org-1", workflow.StageFilter{
		CaseIDs:    []string{"case-1"},
		Estado:     workflow.EstadoPendiente,
		OnlyPublic: true,
	})
	if err != nil {
		t.Fatalf("ListStages: %v", err)
	}
	if len(out) != 1 || out[0].ID != "stg-1" {
		t.Fatalf("unexpected stages: %+v", out)
	}
	expectationsMet(t, mock)
}

func TestDeleteStageMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from case_stages").WithArgs("org-1", "stg-1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteStage(context.Background(), "org-1", "stg-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestNextOrder(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("coalesce").WithArgs("org-1", "case-1").WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(4)))

	n, err := s.NextOrder(context.Background(), "org-1", "case-1")
	if err != nil || n != 4 {
		t.Fatalf("NextOrder = %d, %v", n, err)
	}
	expectationsMet(t, mock)
}
