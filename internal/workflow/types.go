package workflow

import (
	"context"
	"time"

	"lexflow.io/internal/auth"
)

type Estado string

const (
	EstadoPendiente  Estado = "pendiente"
	EstadoEnCurso    Estado = "en_curso"
	EstadoCompletado Estado = "completado"
	EstadoCancelado  Estado = "cancelado"
)

func (e Estado) Valid() bool {
	switch e {
	case EstadoPendiente, EstadoEnCurso, EstadoCompletado, EstadoCancelado:
		return true
	}
	return false
}

type EstadoPago string

const (
	PagoPendiente EstadoPago = "pendiente"
	PagoParcial   EstadoPago = "parcial"
	PagoPagado    EstadoPago = "pagado"
)

func (e EstadoPago) Valid() bool {
	switch e {
	case PagoPendiente, PagoParcial, PagoPagado:
		return true
	}
	return false
}

// Stage is one ordered step of a case's procedural workflow.
type Stage struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"org_id"`
	CaseID          string     `json:"case_id"`
	Etapa           string     `json:"etapa"`
	Descripcion     *string    `json:"descripcion,omitempty"`
	Orden           int        `json:"orden"`
	Estado          Estado     `json:"estado"`
	FechaProgramada *time.Time `json:"fecha_programada,omitempty"`
	FechaCompletado *time.Time `json:"fecha_completado,omitempty"`
	ResponsableID   *string    `json:"responsable_id,omitempty"`
	// ResponsableRole is read from the responsible profile, not stored.
	ResponsableRole auth.Role  `json:"responsable_role,omitempty"`
	RequierePago    bool       `json:"requiere_pago"`
	CostoCalculado  *float64   `json:"costo_calculado,omitempty"`
	CostoFinal      *float64   `json:"costo_final,omitempty"`
	EstadoPago      EstadoPago `json:"estado_pago"`
	EsPublica       bool       `json:"es_publica"`
	Notas           *string    `json:"notas,omitempty"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// PaymentBlocked reports whether the stage may not be completed yet.
func (s Stage) PaymentBlocked() bool {
	return s.RequierePago && s.EstadoPago != PagoPagado
}

type CreateStageInput struct {
	CaseID          string     `json:"case_id" validate:"required"`
	Etapa           string     `json:"etapa" validate:"required,max=200"`
	Descripcion     *string    `json:"descripcion" validate:"omitempty,max=2000"`
	Orden           *int       `json:"orden" validate:"omitempty,gte=0"`
	FechaProgramada *time.Time `json:"fecha_programada"`
	ResponsableID   *string    `json:"responsable_id"`
	RequierePago    bool       `json:"requiere_pago"`
	CostoCalculado  *float64   `json:"costo_calculado" validate:"omitempty,gte=0"`
	EsPublica       bool       `json:"es_publica"`
	Notas           *string    `json:"notas" validate:"omitempty,max=4000"`
}

type UpdateStageInput struct {
	Patch StagePatch `json:"patch"`
	// IfUnmodifiedSince makes the update conditional on the stage's
	// updated_at still matching.
	IfUnmodifiedSince *time.Time `json:"if_unmodified_since"`
}

type CompleteStageInput struct {
	FechaCompletado *time.Time `json:"fecha_completado"`
}

// Completion is the outcome of completing a stage.
type Completion struct {
	Stage Stage `json:"stage"`
	// NextEtapa is the label the case now points at, nil when no pending
	// stage remains and etapa_actual was left untouched.
	NextEtapa    *string `json:"etapa_actual,omitempty"`
	AllCompleted bool    `json:"all_completed"`
}

type GetStagesInput struct {
	CaseID   string     `json:"case_id"`
	Estado   Estado     `json:"estado" validate:"omitempty,oneof=pendiente en_curso completado cancelado"`
	Desde    *time.Time `json:"desde"`
	Hasta    *time.Time `json:"hasta"`
	Page     int        `json:"page" validate:"omitempty,gte=1,lte=10000"`
	PageSize int        `json:"page_size" validate:"omitempty,gte=1,lte=100"`
}

type StagePage struct {
	Items    []Stage `json:"items"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

// StageFilter selects stages within one organization. A nil CaseIDs means
// every case in the organization.
type StageFilter struct {
	CaseIDs    []string
	Estado     Estado
	Desde      *time.Time
	Hasta      *time.Time
	OnlyPublic bool
}

// Store persists stages. All methods are scoped by orgID; rows outside it
// yield apperr.ErrNotFound.
type Store interface {
	InsertStage(ctx context.Context, s Stage) (Stage, error)
	GetStage(ctx context.Context, orgID, id string) (Stage, error)
	// UpdateStage writes only the given columns. When ifUnmodifiedSince is
	// set and no longer matches, it returns apperr.ErrConflict.
	UpdateStage(ctx context.Context, orgID, id string, set []Assignment, ifUnmodifiedSince *time.Time, now time.Time) (Stage, error)
	// CompleteStage marks the stage completado and moves the case's
	// etapa_actual to the next pendiente stage in one transaction.
	CompleteStage(ctx context.Context, orgID, id string, completedAt time.Time) (Completion, error)
	DeleteStage(ctx context.Context, orgID, id string) error
	// ListStages returns matching stages ordered by case, orden and creation.
	ListStages(ctx context.Context, orgID string, f StageFilter) ([]Stage, error)
	NextOrder(ctx context.Context, orgID, caseID string) (int, error)
	// IsStaffMember reports whether profileID is an active non-guest member
	// of orgID.
	IsStaffMember(ctx context.Context, orgID, profileID string) (bool, error)
}
