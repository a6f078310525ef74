package cases

import (
	"context"
	"time"
)

type Estado string

const (
	EstadoActivo     Estado = "activo"
	EstadoSuspendido Estado = "suspendido"
	EstadoArchivado  Estado = "archivado"
	EstadoTerminado  Estado = "terminado"
)

type WorkflowState string

const (
	WorkflowPreparacion WorkflowState = "preparacion"
	WorkflowEnRevision  WorkflowState = "en_revision"
	WorkflowActivo      WorkflowState = "activo"
	WorkflowCerrado     WorkflowState = "cerrado"
)

type Prioridad string

const (
	PrioridadBaja    Prioridad = "baja"
	PrioridadMedia   Prioridad = "media"
	PrioridadAlta    Prioridad = "alta"
	PrioridadUrgente Prioridad = "urgente"
)

// Case is a legal matter scoped to one organization.
type Case struct {
	ID                 string        `json:"id"`
	OrgID              string        `json:"org_id"`
	Caratula           string        `json:"caratula"`
	Materia            string        `json:"materia"`
	Tribunal           *string       `json:"tribunal,omitempty"`
	ClienteNombre      string        `json:"cliente_nombre"`
	ClienteDocumento   string        `json:"cliente_documento"`
	Estado             Estado        `json:"estado"`
	Prioridad          Prioridad     `json:"prioridad"`
	WorkflowState      WorkflowState `json:"workflow_state"`
	AbogadoResponsable *string       `json:"abogado_responsable,omitempty"`
	AnalistaAsignado   *string       `json:"analista_asignado,omitempty"`
	ValorEstimado      *float64      `json:"valor_estimado,omitempty"`
	EtapaActual        *string       `json:"etapa_actual,omitempty"`
	CreatedBy          string        `json:"created_by"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// AssignedTo reports whether profileID is the case's lawyer or analyst.
func (c Case) AssignedTo(profileID string) bool {
	return (c.AbogadoResponsable != nil && *c.AbogadoResponsable == profileID) ||
		(c.AnalistaAsignado != nil && *c.AnalistaAsignado == profileID)
}

type CreateCaseInput struct {
	Caratula           string   `json:"caratula" validate:"required,min=3,max=500"`
	Materia            string   `json:"materia" validate:"required,max=120"`
	Tribunal           *string  `json:"tribunal" validate:"omitempty,max=200"`
	ClienteNombre      string   `json:"cliente_nombre" validate:"required,max=200"`
	ClienteDocumento   string   `json:"cliente_documento" validate:"required,max=40"`
	Prioridad          string   `json:"prioridad" validate:"omitempty,oneof=baja media alta urgente"`
	AbogadoResponsable *string  `json:"abogado_responsable" validate:"omitempty"`
	AnalistaAsignado   *string  `json:"analista_asignado" validate:"omitempty"`
	ValorEstimado      *float64 `json:"valor_estimado" validate:"omitempty,gte=0"`
}

// Filter narrows a case listing. Zero values mean no restriction.
type Filter struct {
	Estado Estado
	IDs    []string
	Limit  int
	Offset int
}

// Scope is the set of cases a caller may see in the active organization.
type Scope struct {
	All     bool
	CaseIDs []string
}

// Allows reports whether caseID is inside the scope.
func (s Scope) Allows(caseID string) bool {
	if s.All {
		return true
	}
	for _, id := range s.CaseIDs {
		if id == caseID {
			return true
		}
	}
	return false
}

// Empty reports whether the scope admits no case at all.
func (s Scope) Empty() bool {
	return !s.All && len(s.CaseIDs) == 0
}

// Store persists cases. Every method is scoped by orgID and returns
// apperr.ErrNotFound for rows outside it.
type Store interface {
	InsertCase(ctx context.Context, c Case) (Case, error)
	GetCase(ctx context.Context, orgID, id string) (Case, error)
	ListCases(ctx context.Context, orgID string, scope Scope, f Filter) ([]Case, error)
	SetCaseEstado(ctx context.Context, orgID, id string, estado Estado) (Case, error)
	LinkClient(ctx context.Context, orgID, caseID, clientID string) error
	IsClientLinked(ctx context.Context, orgID, caseID, clientID string) (bool, error)
	LinkedCaseIDs(ctx context.Context, orgID, clientID string) ([]string, error)
	AssignedCaseIDs(ctx context.Context, orgID, profileID string) ([]string, error)
	IsStaffMember(ctx context.Context, orgID, profileID string) (bool, error)
}
