package clients

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/audit"
	"lexflow.io/internal/auth"
	"lexflow.io/internal/ids"
	"lexflow.io/internal/notify"
	"lexflow.io/internal/obs"
)

type CreateClientInput struct {
	Email     string  `json:"email" validate:"required,email"`
	Nombre    string  `json:"nombre" validate:"required,min=2,max=200"`
	Telefono  *string `json:"telefono" validate:"omitempty,max=40"`
	Documento *string `json:"documento" validate:"omitempty,max=40"`
}

type ListInput struct {
	Query    string `json:"q"`
	Page     int    `json:"page" validate:"omitempty,gte=1,lte=10000"`
	PageSize int    `json:"page_size" validate:"omitempty,gte=1,lte=100"`
}

type ClientPage struct {
	Items    []auth.Profile `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// Store persists client profiles.
type Store interface {
	// CreateClientProfile inserts the cliente profile and its active
	// client_guest membership in orgID atomically.
	CreateClientProfile(ctx context.Context, orgID, membershipID string, p auth.Profile) (auth.Profile, error)
	// ListClients returns one page of client profiles of orgID and the total.
	ListClients(ctx context.Context, orgID, query string, limit, offset int) ([]auth.Profile, int, error)
}

type Service struct {
	store           Store
	identities      auth.IdentityAdmin
	guard           *audit.Guard
	events          notify.Publisher
	defaultPassword string
	now             func() time.Time
}

// NewService wires the client service. An empty defaultPassword makes every
// new client start with a random password.
func NewService(store Store, identities auth.IdentityAdmin, guard *audit.Guard, events notify.Publisher, defaultPassword string) *Service {
	if events == nil {
		events = notify.Noop{}
	}
	return &Service{
		store:           store,
		identities:      identities,
		guard:           guard,
		events:          events,
		defaultPassword: defaultPassword,
		now:             time.Now,
	}
}

// CreateClientProfile registers a client identity and profile in the active
// organization. The identity is deleted again when the profile cannot be
// stored.
func (s *Service) CreateClientProfile(ctx context.Context, in CreateClientInput) (auth.Profile, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	nombre := strings.TrimSpace(in.Nombre)
	if email == "" || nombre == "" {
		return auth.Profile{}, fmt.Errorf("%w: email and nombre are required", apperr.ErrInvalidInput)
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return auth.Profile{}, err
	}
	var created auth.Profile
	err = s.guard.Run(ctx, audit.Mutation{
		Action:     "client.create",
		EntityType: "profile",
		Roles:      []auth.Role{auth.RoleAdminFirma, auth.RoleAnalista},
	}, func(ctx context.Context, caller auth.Profile) (audit.Record, error) {
		password, err := s.password()
		if err != nil {
			return audit.Record{}, err
		}
		identityID, err := s.identities.CreateIdentity(ctx, email, password, map[string]any{
			"full_name": nombre,
			"role":      string(auth.RoleCliente),
			"org_id":    orgID,
		})
		if err != nil {
			return audit.Record{}, fmt.Errorf("create identity: %w", err)
		}
		now := s.now().UTC()
		out, err := s.store.CreateClientProfile(ctx, orgID, ids.New(), auth.Profile{
			ID:        identityID,
			Email:     email,
			Nombre:    nombre,
			Role:      auth.RoleCliente,
			Activo:    true,
			Telefono:  in.Telefono,
			Documento: in.Documento,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			if derr := s.identities.DeleteIdentity(context.WithoutCancel(ctx), identityID); derr != nil {
				obs.Error("rollback identity failed", derr, map[string]any{"identity_id": identityID})
			}
			return audit.Record{}, fmt.Errorf("create client profile: %w", err)
		}
		created = out
		if err := s.events.Publish(ctx, notify.Event{
			Type:     notify.EventClientCreated,
			OrgID:    orgID,
			EntityID: out.ID,
			ActorID:  caller.ID,
			At:       now,
			Data:     map[string]any{"email": out.Email, "nombre": out.Nombre},
		}); err != nil {
			obs.Warn("publish event failed", map[string]any{"type": notify.EventClientCreated, "error": err.Error()})
		}
		return audit.Record{
			EntityID: out.ID,
			Diff:     map[string]any{"email": out.Email, "nombre": out.Nombre, "role": string(out.Role)},
		}, nil
	})
	if err != nil {
		return auth.Profile{}, err
	}
	return created, nil
}

const maxPage = 10000

// ListClients pages through the clients of the active organization.
func (s *Service) ListClients(ctx context.Context, in ListInput) (ClientPage, error) {
	if _, err := s.guard.RequireAuth(ctx, auth.RoleAdminFirma, auth.RoleAbogado, auth.RoleAnalista); err != nil {
		return ClientPage{}, err
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return ClientPage{}, err
	}
	page, size := in.Page, in.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	limit, offset := size, 0
	if page > maxPage {
		// past any reachable row; only the total is read
		limit = 0
	} else {
		offset = (page - 1) * size
	}
	items, total, err := s.store.ListClients(ctx, orgID, strings.TrimSpace(in.Query), limit, offset)
	if err != nil {
		return ClientPage{}, err
	}
	if items == nil {
		items = []auth.Profile{}
	}
	return ClientPage{Items: items, Total: total, Page: page, PageSize: size}, nil
}

func (s *Service) password() (string, error) {
	if s.defaultPassword != "" {
		return s.defaultPassword, nil
	}
	return auth.GeneratePassword()
}
