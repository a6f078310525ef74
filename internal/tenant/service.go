package tenant

import (
	"context"
	"errors"
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

// Service resolves and switches the organization a session operates on.
type Service struct {
	store      Store
	sessions   Sessions
	identities auth.IdentityAdmin
	guard      *audit.Guard
	events     notify.Publisher
	demoOrgID  string
	now        func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithDemoOrg designates the organization whose owners may switch persona.
func WithDemoOrg(orgID string) Option {
	return func(s *Service) { s.demoOrgID = strings.TrimSpace(orgID) }
}

// WithEvents sets the workflow event publisher.
func WithEvents(p notify.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func NewService(store Store, sessions Sessions, identities auth.IdentityAdmin, guard *audit.Guard, opts ...Option) *Service {
	s := &Service{
		store:      store,
		sessions:   sessions,
		identities: identities,
		guard:      guard,
		events:     notify.Noop{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrganization creates a tenant owned by the caller and sets up its
// initial admin. An admin email equal to the caller's never triggers an invite.
func (s *Service) CreateOrganization(ctx context.Context, in CreateOrganizationInput) (CreateOrganizationResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return CreateOrganizationResult{}, fmt.Errorf("%w: organization name is required", apperr.ErrInvalidInput)
	}
	plan := strings.TrimSpace(in.Plan)
	if plan == "" {
		plan = PlanTrial
	}
	adminEmail := strings.ToLower(strings.TrimSpace(in.AdminEmail))

	var result CreateOrganizationResult
	err := s.guard.Run(ctx, audit.Mutation{
		Action:     "organization.create",
		EntityType: "organization",
		Roles:      []auth.Role{auth.RoleAdminFirma},
	}, func(ctx context.Context, caller auth.Profile) (audit.Record, error) {
		now := s.now().UTC()
		org, err := s.store.CreateOrganization(ctx, Organization{
			ID:        ids.New(),
			Name:      name,
			Plan:      plan,
			CreatedBy: caller.ID,
			CreatedAt: now,
		}, Membership{
			ID:        ids.New(),
			ProfileID: caller.ID,
			Role:      MemberOwner,
			Status:    StatusActive,
			CreatedAt: now,
		})
		if err != nil {
			return audit.Record{}, err
		}
		result.Organization = org

		if adminEmail == "" || strings.EqualFold(adminEmail, caller.Email) {
			result.AdminEmail = caller.Email
			result.AdminStatus = AdminExistingNotInvited
		} else {
			status, err := s.setupAdmin(ctx, org, adminEmail, strings.TrimSpace(in.AdminName))
			if err != nil {
				return audit.Record{}, fmt.Errorf("organization %s created but admin setup failed: %w", org.ID, err)
			}
			result.AdminEmail = adminEmail
			result.AdminStatus = status
		}
		s.publish(ctx, notify.Event{
			Type:     notify.EventOrganizationCreated,
			OrgID:    org.ID,
			EntityID: org.ID,
			ActorID:  caller.ID,
			Data:     map[string]any{"name": org.Name, "plan": org.Plan},
		})
		return audit.Record{
			EntityID: org.ID,
			Diff: map[string]any{
				"name":         org.Name,
				"plan":         org.Plan,
				"admin_email":  result.AdminEmail,
				"admin_status": string(result.AdminStatus),
			},
		}, nil
	})
	if err != nil {
		return CreateOrganizationResult{}, err
	}
	return result, nil
}

func (s *Service) setupAdmin(ctx context.Context, org Organization, email, name string) (AdminStatus, error) {
	existing, err := s.store.FindProfileByEmail(ctx, email)
	switch {
	case err == nil:
		if _, err := s.store.AddMembership(ctx, Membership{
			ID:        ids.New(),
			OrgID:     org.ID,
			ProfileID: existing.ID,
			Role:      MemberAdmin,
			Status:    StatusActive,
			CreatedAt: s.now().UTC(),
		}); err != nil {
			return AdminNone, err
		}
		return AdminExistingAdded, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return AdminNone, err
	}

	if s.identities == nil {
		return AdminNone, fmt.Errorf("%w: identity admin not configured", apperr.ErrUnavailable)
	}
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	identityID, err := s.identities.InviteIdentity(ctx, email, map[string]any{
		"full_name": name,
		"role":      string(auth.RoleAdminFirma),
		"org_id":    org.ID,
	})
	if err != nil {
		return AdminNone, fmt.Errorf("invite admin: %w", err)
	}
	profile, err := s.store.CreateProfile(ctx, auth.Profile{
		ID:     identityID,
		Email:  email,
		Nombre: name,
		Role:   auth.RoleAdminFirma,
		Activo: true,
	})
	if err != nil {
		s.rollbackIdentity(ctx, identityID)
		return AdminNone, fmt.Errorf("create admin profile: %w", err)
	}
	if _, err := s.store.AddMembership(ctx, Membership{
		ID:        ids.New(),
		OrgID:     org.ID,
		ProfileID: profile.ID,
		Role:      MemberAdmin,
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return AdminNone, fmt.Errorf("add admin membership: %w", err)
	}
	s.publish(ctx, notify.Event{
		Type:     notify.EventOrganizationAdminInv,
		OrgID:    org.ID,
		EntityID: profile.ID,
		Data:     map[string]any{"email": email, "organization": org.Name},
	})
	return AdminInvited, nil
}

func (s *Service) rollbackIdentity(ctx context.Context, identityID string) {
	if err := s.identities.DeleteIdentity(context.WithoutCancel(ctx), identityID); err != nil {
		obs.Error("rollback identity failed", err, map[string]any{"identity_id": identityID})
	}
}

// SwitchOrganization points the session at orgID. The caller must hold an
// active membership there.
func (s *Service) SwitchOrganization(ctx context.Context, orgID string) (Membership, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return Membership{}, fmt.Errorf("%w: organization id is required", apperr.ErrInvalidInput)
	}
	sess, ok := auth.SessionFrom(ctx)
	if !ok || sess.ID == "" {
		return Membership{}, apperr.ErrUnauthenticated
	}
	var membership Membership
	err := s.guard.Run(ctx, audit.Mutation{
		Action:     "organization.switch",
		EntityType: "organization",
	}, func(ctx context.Context, caller auth.Profile) (audit.Record, error) {
		m, err := s.activeMembership(ctx, orgID, caller.ID)
		if err != nil {
			return audit.Record{}, err
		}
		if err := s.sessions.SetActiveOrg(ctx, sess.ID, orgID); err != nil {
			return audit.Record{}, err
		}
		membership = m
		return audit.Record{
			EntityID: orgID,
			Diff:     map[string]any{"from": sess.ActiveOrgID, "to": orgID},
		}, nil
	})
	return membership, err
}

func (s *Service) activeMembership(ctx context.Context, orgID, profileID string) (Membership, error) {
	m, err := s.store.GetMembership(ctx, orgID, profileID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Membership{}, apperr.ErrForbidden
	}
	if err != nil {
		return Membership{}, err
	}
	if m.Status != StatusActive {
		return Membership{}, fmt.Errorf("%w: membership is not active", apperr.ErrForbidden)
	}
	return m, nil
}

// ResolveActiveOrg returns the organization a session should use. A stale
// pointer is dropped; without one the oldest active membership is chosen and
// remembered. An empty result means the caller has no active membership.
func (s *Service) ResolveActiveOrg(ctx context.Context, sessionID, profileID string) (string, error) {
	if sessionID != "" {
		current, err := s.sessions.ActiveOrg(ctx, sessionID)
		if err != nil {
			return "", err
		}
		if current != "" {
			if _, err := s.activeMembership(ctx, current, profileID); err == nil {
				return current, nil
			} else if !errors.Is(err, apperr.ErrForbidden) {
				return "", err
			}
		}
	}
	memberships, err := s.store.ListMemberships(ctx, profileID)
	if err != nil {
		return "", err
	}
	for _, m := range memberships {
		if m.Status != StatusActive {
			continue
		}
		if sessionID != "" {
			if err := s.sessions.SetActiveOrg(ctx, sessionID, m.OrgID); err != nil {
				obs.Warn("remember active org failed", map[string]any{"error": err.Error()})
			}
		}
		return m.OrgID, nil
	}
	return "", nil
}

// Memberships lists the caller's organizations.
func (s *Service) Memberships(ctx context.Context) ([]Membership, error) {
	caller, err := s.guard.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListMemberships(ctx, caller.ID)
}

// SetDemoPersona lets an owner of the demo organization preview the UI as
// another role. The persona is navigation only and does not change what the
// gate allows. An empty persona clears it.
func (s *Service) SetDemoPersona(ctx context.Context, persona string) (auth.Role, error) {
	var role auth.Role
	if strings.TrimSpace(persona) != "" {
		r, err := auth.ParseRole(persona)
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
		}
		role = r
	}
	sess, ok := auth.SessionFrom(ctx)
	if !ok || sess.ID == "" {
		return "", apperr.ErrUnauthenticated
	}
	err := s.guard.Run(ctx, audit.Mutation{
		Action:     "session.persona",
		EntityType: "session",
	}, func(ctx context.Context, caller auth.Profile) (audit.Record, error) {
		orgID, err := auth.ActiveOrg(ctx)
		if err != nil {
			return audit.Record{}, err
		}
		if s.demoOrgID == "" || orgID != s.demoOrgID {
			return audit.Record{}, fmt.Errorf("%w: demo mode is not available in this organization", apperr.ErrForbidden)
		}
		m, err := s.activeMembership(ctx, orgID, caller.ID)
		if err != nil {
			return audit.Record{}, err
		}
		if m.Role != MemberOwner {
			return audit.Record{}, fmt.Errorf("%w: only owners can use demo mode", apperr.ErrForbidden)
		}
		if err := s.sessions.SetPersona(ctx, sess.ID, string(role)); err != nil {
			return audit.Record{}, err
		}
		return audit.Record{EntityID: sess.ID, Diff: map[string]any{"persona": string(role)}}, nil
	})
	if err != nil {
		return "", err
	}
	return role, nil
}

// Persona returns the stored demo persona for sessionID, empty when unset or
// unparseable.
func (s *Service) Persona(ctx context.Context, sessionID string) auth.Role {
	raw, err := s.sessions.Persona(ctx, sessionID)
	if err != nil || raw == "" {
		return ""
	}
	role, err := auth.ParseRole(raw)
	if err != nil {
		return ""
	}
	return role
}

func (s *Service) publish(ctx context.Context, evt notify.Event) {
	evt.At = s.now().UTC()
	if err := s.events.Publish(ctx, evt); err != nil {
		obs.Warn("publish event failed", map[string]any{"type": evt.Type, "error": err.Error()})
	}
}
