package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/audit"
	"lexflow.io/internal/auth"
	"lexflow.io/internal/cases"
	"lexflow.io/internal/ids"
	"lexflow.io/internal/notify"
	"lexflow.io/internal/obs"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var staffRoles = []auth.Role{auth.RoleAdminFirma, auth.RoleAbogado, auth.RoleAnalista}

// CaseAccess answers case visibility for a caller.
type CaseAccess interface {
	Check(ctx context.Context, orgID string, caller auth.Profile, caseID string) (cases.Case, error)
	Scope(ctx context.Context, orgID string, caller auth.Profile) (cases.Scope, error)
}

// Service runs the stage workflow of a case.
type Service struct {
	store  Store
	access CaseAccess
	guard  *audit.Guard
	events notify.Publisher
	now    func() time.Time
}

func NewService(store Store, access CaseAccess, guard *audit.Guard, events notify.Publisher) *Service {
	if events == nil {
		events = notify.Noop{}
	}
	return &Service{store: store, access: access, guard: guard, events: events, now: time.Now}
}

// CreateStage appends a stage to a case. The caller becomes the responsible
// profile unless another one is given.
func (s *Service) CreateStage(ctx context.Context, in CreateStageInput) (Stage, error) {
	if strings.TrimSpace(in.CaseID) == "" || strings.TrimSpace(in.Etapa) == "" {
		return Stage{}, fmt.Errorf("%w: case_id and etapa are required", apperr.ErrInvalidInput)
	}
	if in.CostoCalculado != nil && *in.CostoCalculado < 0 {
		return Stage{}, fmt.Errorf("%w: costs must be non-negative", apperr.ErrInvalidInput)
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return Stage{}, err
	}
	var created Stage
	err = s.guard.Run(ctx, audit.Mutation{
		Action:     "stage.create",
		EntityType: "case_stage",
		Roles:      staffRoles,
	}, func(ctx context.Context, caller auth.Profile) (audit.Record, error) {
		if _, err := s.access.Check(ctx, orgID, caller, in.CaseID); err != nil {
			return audit.Record{}, err
		}
		orden := 0
		if in.Orden != nil {
			orden = *in.Orden
		} else {
			next, err := s.store.NextOrder(ctx, orgID, in.CaseID)
			if err != nil {
				return audit.Record{}, err
			}
			orden = next
		}
		responsable := in.ResponsableID
		if responsable == nil || strings.TrimSpace(*responsable) == "" {
			id := caller.ID
			responsable = &id
		} else if err := cases.CheckAssignee(ctx, s.store, orgID, "responsable_id", responsable); err != nil {
			return audit.Record{}, err
		}
		now := s.now().UTC()
		out, err := s.store.InsertStage(ctx, Stage{
			ID:              ids.New(),
			OrgID:           orgID,
			CaseID:          in.CaseID,
			Etapa:           strings.TrimSpace(in.Etapa),
			Descripcion:     in.Descripcion,
			Orden:           orden,
			Estado:          EstadoPendiente,
			FechaProgramada: in.FechaProgramada,
			ResponsableID:   responsable,
			RequierePago:    in.RequierePago,
			CostoCalculado:  in.CostoCalculado,
			EstadoPago:      PagoPendiente,
			EsPublica:       in.EsPublica,
			Notas:           in.Notas,
			CreatedBy:       caller.ID,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return audit.Record{}, err
		}
		created = out
		s.publish(ctx, notify.Event{
			Type:     notify.EventStageCreated,
			OrgID:    orgID,
			CaseID:   out.CaseID,
			EntityID: out.ID,
			ActorID:  caller.ID,
			Data:     map[string]any{"etapa": out.Etapa, "fecha_programada": out.FechaProgramada, "responsable_id": out.ResponsableID},
		})
		return audit.Record{
			EntityID: out.ID,
			Diff: map[string]any{
				"case_id":       out.CaseID,
				"etapa":         out.Etapa,
				"orden":         out.Orden,
				"requiere_pago": out.RequierePago,
			},
		}, nil
	})
	if err != nil {
		return Stage{}, err
	}
	return created, nil
}

// UpdateStage merges the fields present in the patch. An empty patch
// returns the stage untouched.
func (s *Service) UpdateStage(ctx context.Context, stageID string, in UpdateStageInput) (Stage, error) {
	if err := in.Patch.Validate(); err != nil {
		return Stage{}, err
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return Stage{}, err
	}
	var updated Stage
	err = s.guard.Run(ctx, audit.Mutation{
		Action:     "stage.update",
		EntityType: "case_stage",
		Roles:      staffRoles,
	}, func(ctx context.Context, caller auth.Profile) (audit.Record, error) {
		current, err := s.load(ctx, orgID, caller, stageID)
		if err != nil {
			return audit.Record{}, err
		}
		if caller.Role == auth.RoleAbogado && !responsibleIs(current, caller.ID) {
			return audit.Record{}, fmt.Errorf("%w: only the responsible lawyer may update this stage", apperr.ErrForbidden)
		}
		if in.Patch.Empty() {
			updated = current
			return audit.Record{EntityID: stageID, Diff: map[string]any{}}, nil
		}
		if in.Patch.ResponsableID.Set {
			if err := cases.CheckAssignee(ctx, s.store, orgID, "responsable_id", in.Patch.ResponsableID.Value); err != nil {
				return audit.Record{}, err
			}
		}
		merged := current
		in.Patch.Apply(&merged)
		if merged.Estado == EstadoCompletado && merged.PaymentBlocked() {
			return audit.Record{}, fmt.Errorf("%w: a completed stage must stay paid (estado_pago=%s)", apperr.ErrPrecondition, merged.EstadoPago)
		}
		out, err := s.store.UpdateStage(ctx, orgID, stageID, in.Patch.Assignments(), in.IfUnmodifiedSince, s.now().UTC())
		if err != nil {
			return audit.Record{}, err
		}
		updated = out
		return audit.Record{EntityID: stageID, Diff: in.Patch.Diff()}, nil
	})
	if err != nil {
		return Stage{}, err
	}
	return updated, nil
}

// CompleteStage marks a stage completado and advances the case's current
// stage label. Payment-gated stages must be paid first.
func (s *Service) CompleteStage(ctx context.Context, stageID string, in CompleteStageInput) (Completion, error) {
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return Completion{}, err
	}
	var result Completion
	err = s.guard.Run(ctx, audit.Mutation{
		Action:     "stage.complete",
		EntityType: "case_stage",
		Roles:      staffRoles,
	}, func(ctx context.Context, caller auth.Profile) (audit.Record, error) {
		current, err := s.load(ctx, orgID, caller, stageID)
		if err != nil {
			return audit.Record{}, err
		}
		if current.ResponsableRole == auth.RoleAbogado && !responsibleIs(current, caller.ID) && caller.Role != auth.RoleAdminFirma {
			return audit.Record{}, fmt.Errorf("%w: only the responsible lawyer or an admin may complete this stage", apperr.ErrForbidden)
		}
		if current.Estado == EstadoCompletado {
			return audit.Record{}, fmt.Errorf("%w: stage is already completed", apperr.ErrPrecondition)
		}
		if current.PaymentBlocked() {
			return audit.Record{}, fmt.Errorf("%w: stage requires payment before completion (estado_pago=%s)", apperr.ErrPrecondition, current.EstadoPago)
		}
		completedAt := s.now().UTC()
		if in.FechaCompletado != nil {
			completedAt = in.FechaCompletado.UTC()
		}
		out, err := s.store.CompleteStage(ctx, orgID, stageID, completedAt)
		if err != nil {
			return audit.Record{}, err
		}
		result = out
		s.publish(ctx, notify.Event{
			Type:     notify.EventStageCompleted,
			OrgID:    orgID,
			CaseID:   current.CaseID,
			EntityID: stageID,
			ActorID:  caller.ID,
			Data:     map[string]any{"etapa": current.Etapa, "etapa_actual": out.NextEtapa},
		})
		if out.AllCompleted {
			s.publish(ctx, notify.Event{
				Type:    notify.EventCaseStagesCompleted,
				OrgID:   orgID,
				CaseID:  current.CaseID,
				ActorID: caller.ID,
			})
		}
		return audit.Record{
			EntityID: stageID,
			Diff: map[string]any{
				"estado":           map[string]any{"from": string(current.Estado), "to": string(EstadoCompletado)},
				"fecha_completado": completedAt,
				"etapa_actual":     out.NextEtapa,
				"all_completed":    out.AllCompleted,
			},
		}, nil
	})
	if err != nil {
		return Completion{}, err
	}
	return result, nil
}

// DeleteStage removes a stage. Only firm admins may delete.
func (s *Service) DeleteStage(ctx context.Context, stageID string) error {
	return s.guard.Run(ctx, audit.Mutation{
		Action:     "stage.delete",
		EntityType: "case_stage",
		Roles:      []auth.Role{auth.RoleAdminFirma},
	}, func(ctx context.Context, caller auth.Profile) (audit.Record, error) {
		orgID, err := auth.ActiveOrg(ctx)
		if err != nil {
			return audit.Record{}, err
		}
		current, err := s.load(ctx, orgID, caller, stageID)
		if err != nil {
			return audit.Record{}, err
		}
		if err := s.store.DeleteStage(ctx, orgID, stageID); err != nil {
			return audit.Record{}, err
		}
		return audit.Record{
			EntityID: stageID,
			Diff:     map[string]any{"case_id": current.CaseID, "etapa": current.Etapa, "orden": current.Orden},
		}, nil
	})
}

// GetStages lists the stages visible to the caller. Clients only see public
// stages of cases they are linked to and staff other than admins only see
// cases assigned to them. A case outside the caller's reach yields an empty
// page. Pagination is applied after the ordered fetch.
func (s *Service) GetStages(ctx context.Context, in GetStagesInput) (StagePage, error) {
	page, size := in.Page, in.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	empty := StagePage{Items: []Stage{}, Page: page, PageSize: size}

	caller, err := s.guard.RequireAuth(ctx)
	if err != nil {
		return StagePage{}, err
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return StagePage{}, err
	}
	scope, err := s.access.Scope(ctx, orgID, caller)
	if err != nil {
		return StagePage{}, err
	}

	filter := StageFilter{
		Estado:     in.Estado,
		Desde:      in.Desde,
		Hasta:      in.Hasta,
		OnlyPublic: caller.Role == auth.RoleCliente,
	}
	switch {
	case in.CaseID != "":
		if !scope.Allows(in.CaseID) {
			return empty, nil
		}
		filter.CaseIDs = []string{in.CaseID}
	case !scope.All:
		if scope.Empty() {
			return empty, nil
		}
		filter.CaseIDs = scope.CaseIDs
	}

	all, err := s.store.ListStages(ctx, orgID, filter)
	if err != nil {
		return StagePage{}, err
	}
	out := StagePage{Total: len(all), Page: page, PageSize: size}
	// compare page counts before multiplying so huge pages cannot overflow
	if page-1 >= (len(all)+size-1)/size {
		out.Items = []Stage{}
		return out, nil
	}
	start := (page - 1) * size
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	out.Items = all[start:end]
	return out, nil
}

// load fetches a stage and checks access to its case. Missing stages are
// reported as forbidden.
func (s *Service) load(ctx context.Context, orgID string, caller auth.Profile, stageID string) (Stage, error) {
	st, err := s.store.GetStage(ctx, orgID, stageID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Stage{}, apperr.ErrForbidden
	}
	if err != nil {
		return Stage{}, err
	}
	if _, err := s.access.Check(ctx, orgID, caller, st.CaseID); err != nil {
		return Stage{}, err
	}
	return st, nil
}

func (s *Service) publish(ctx context.Context, evt notify.Event) {
	evt.At = s.now().UTC()
	if err := s.events.Publish(ctx, evt); err != nil {
		obs.Warn("publish event failed", map[string]any{"type": evt.Type, "error": err.Error()})
	}
}

func responsibleIs(st Stage, profileID string) bool {
	return st.ResponsableID != nil && *st.ResponsableID == profileID
}
