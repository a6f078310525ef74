package cases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/audit"
	"lexflow.io/internal/auth"
	"lexflow.io/internal/ids"
	"lexflow.io/internal/search"
)

// Index is the case search backend.
type Index interface {
	SearchCaseIDs(ctx context.Context, q search.Query) ([]string, error)
	IndexCase(doc search.CaseDocument)
}

type Service struct {
	store  Store
	access *Access
	guard  *audit.Guard
	index  Index
	now    func() time.Time
}

// NewService wires the case service. index may be nil.
func NewService(store Store, guard *audit.Guard, index Index) *Service {
	return &Service{
		store:  store,
		access: NewAccess(store),
		guard:  guard,
		index:  index,
		now:    time.Now,
	}
}

// Access exposes the visibility rules to dependent services.
func (s *Service) Access() *Access {
	return s.access
}

func (s *Service) CreateCase(ctx context.Context, in CreateCaseInput) (Case, error) {
	if strings.TrimSpace(in.Caratula) == "" || strings.TrimSpace(in.ClienteNombre) == "" {
		return Case{}, fmt.Errorf("%w: caratula and cliente_nombre are required", apperr.ErrInvalidInput)
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return Case{}, err
	}
	var created Case
	err = s.guard.Run(ctx, audit.Mutation{
		Action:     "case.create",
		EntityType: "case",
		Roles:      []auth.Role{auth.RoleAnalista, auth.RoleAdminFirma},
	}, func(ctx context.Context, caller auth.Profile) (audit.Record, error) {
		now := s.now().UTC()
		c := Case{
			ID:                 ids.New(),
			OrgID:              orgID,
			Caratula:           strings.TrimSpace(in.Caratula),
			Materia:            strings.TrimSpace(in.Materia),
			Tribunal:           in.Tribunal,
			ClienteNombre:      strings.TrimSpace(in.ClienteNombre),
			ClienteDocumento:   strings.TrimSpace(in.ClienteDocumento),
			Estado:             EstadoActivo,
			Prioridad:          PrioridadMedia,
			WorkflowState:      WorkflowPreparacion,
			AbogadoResponsable: blankToNil(in.AbogadoResponsable),
			AnalistaAsignado:   blankToNil(in.AnalistaAsignado),
			ValorEstimado:      in.ValorEstimado,
			CreatedBy:          caller.ID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if in.Prioridad != "" {
			c.Prioridad = Prioridad(in.Prioridad)
		}
		if err := CheckAssignee(ctx, s.store, orgID, "abogado_responsable", c.AbogadoResponsable); err != nil {
			return audit.Record{}, err
		}
		if err := CheckAssignee(ctx, s.store, orgID, "analista_asignado", c.AnalistaAsignado); err != nil {
			return audit.Record{}, err
		}
		if c.AnalistaAsignado == nil && caller.Role == auth.RoleAnalista {
			id := caller.ID
			c.AnalistaAsignado = &id
		}
		out, err := s.store.InsertCase(ctx, c)
		if err != nil {
			return audit.Record{}, err
		}
		created = out
		return audit.Record{
			EntityID: out.ID,
			Diff:     map[string]any{"caratula": out.Caratula, "materia": out.Materia, "estado": string(out.Estado)},
		}, nil
	})
	if err != nil {
		return Case{}, err
	}
	s.reindex(created)
	return created, nil
}

func (s *Service) Get(ctx context.Context, caseID string) (Case, error) {
	caller, err := s.guard.RequireAuth(ctx)
	if err != nil {
		return Case{}, err
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return Case{}, err
	}
	return s.access.Check(ctx, orgID, caller, caseID)
}

// List returns the cases visible to the caller, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Case, error) {
	caller, err := s.guard.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return nil, err
	}
	scope, err := s.access.Scope(ctx, orgID, caller)
	if err != nil {
		return nil, err
	}
	if scope.Empty() {
		return []Case{}, nil
	}
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	return s.store.ListCases(ctx, orgID, scope, f)
}

// Archive marks a case archivado. Cases are never deleted.
func (s *Service) Archive(ctx context.Context, caseID string) (Case, error) {
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return Case{}, err
	}
	var archived Case
	err = s.guard.Run(ctx, audit.Mutation{
		Action:     "case.archive",
		EntityType: "case",
		Roles:      []auth.Role{auth.RoleAdminFirma},
	}, func(ctx context.Context, caller auth.Profile) (audit.Record, error) {
		before, err := s.access.Check(ctx, orgID, caller, caseID)
		if err != nil {
			return audit.Record{}, err
		}
		out, err := s.store.SetCaseEstado(ctx, orgID, caseID, EstadoArchivado)
		if err != nil {
			return audit.Record{}, err
		}
		archived = out
		return audit.Record{
			EntityID: caseID,
			Diff:     map[string]any{"estado": map[string]any{"from": string(before.Estado), "to": string(out.Estado)}},
		}, nil
	})
	if err != nil {
		return Case{}, err
	}
	s.reindex(archived)
	return archived, nil
}

// LinkClient grants a client of the organization access to a case.
func (s *Service) LinkClient(ctx context.Context, caseID, clientID string) error {
	if strings.TrimSpace(clientID) == "" {
		return fmt.Errorf("%w: client_id is required", apperr.ErrInvalidInput)
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return err
	}
	return s.guard.Run(ctx, audit.Mutation{
		Action:     "case.link_client",
		EntityType: "case",
		Roles:      []auth.Role{auth.RoleAdminFirma, auth.RoleAnalista},
	}, func(ctx context.Context, caller auth.Profile) (audit.Record, error) {
		if _, err := s.access.Check(ctx, orgID, caller, caseID); err != nil {
			return audit.Record{}, err
		}
		if err := s.store.LinkClient(ctx, orgID, caseID, clientID); err != nil {
			return audit.Record{}, err
		}
		return audit.Record{EntityID: caseID, Diff: map[string]any{"client_id": clientID}}, nil
	})
}

// Search finds cases by text and keeps only those visible to the caller.
func (s *Service) Search(ctx context.Context, text string, limit int) ([]Case, error) {
	caller, err := s.guard.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" || s.index == nil {
		return []Case{}, nil
	}
	scope, err := s.access.Scope(ctx, orgID, caller)
	if err != nil {
		return nil, err
	}
	hits, err := s.index.SearchCaseIDs(ctx, search.Query{OrgID: orgID, Text: text, Limit: limit})
	if err != nil {
		return nil, err
	}
	visible := make([]string, 0, len(hits))
	for _, id := range hits {
		if scope.Allows(id) {
			visible = append(visible, id)
		}
	}
	if len(visible) == 0 {
		return []Case{}, nil
	}
	found, err := s.store.ListCases(ctx, orgID, Scope{CaseIDs: visible}, Filter{Limit: len(visible)})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Case, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]Case, 0, len(visible))
	for _, id := range visible {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) reindex(c Case) {
	if s.index == nil || c.ID == "" {
		return
	}
	doc := search.CaseDocument{
		ID:               c.ID,
		OrgID:            c.OrgID,
		Caratula:         c.Caratula,
		Materia:          c.Materia,
		ClienteNombre:    c.ClienteNombre,
		ClienteDocumento: c.ClienteDocumento,
		Estado:           string(c.Estado),
	}
	if c.Tribunal != nil {
		doc.Tribunal = *c.Tribunal
	}
	s.index.IndexCase(doc)
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
