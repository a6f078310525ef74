package tenant

import (
	"context"
	"time"

	"lexflow.io/internal/auth"
)

// MembershipRole is a profile's role inside one organization.
type MembershipRole string

const (
	MemberOwner       MembershipRole = "owner"
	MemberAdmin       MembershipRole = "admin"
	MemberMember      MembershipRole = "member"
	MemberClientGuest MembershipRole = "client_guest"
)

type MembershipStatus string

const (
	StatusActive  MembershipStatus = "active"
	StatusPending MembershipStatus = "pending"
)

// Plan tiers.
const (
	PlanTrial        = "trial"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
)

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type Membership struct {
	ID        string           `json:"id"`
	OrgID     string           `json:"org_id"`
	OrgName   string           `json:"org_name,omitempty"`
	ProfileID string           `json:"profile_id"`
	Role      MembershipRole   `json:"role"`
	Status    MembershipStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// AdminStatus reports what happened to the initial admin of a new organization.
type AdminStatus string

const (
	AdminNone               AdminStatus = ""
	AdminExistingNotInvited AdminStatus = "existing user, not invited"
	AdminExistingAdded      AdminStatus = "existing user, added"
	AdminInvited            AdminStatus = "invited"
)

type CreateOrganizationInput struct {
	Name       string `json:"name" validate:"required,min=2,max=200"`
	Plan       string `json:"plan" validate:"omitempty,oneof=trial professional enterprise"`
	AdminEmail string `json:"admin_email" validate:"omitempty,email"`
	AdminName  string `json:"admin_name" validate:"omitempty,max=200"`
}

type CreateOrganizationResult struct {
	Organization Organization `json:"organization"`
	AdminEmail   string       `json:"admin_email,omitempty"`
	AdminStatus  AdminStatus  `json:"admin_status,omitempty"`
}

// Store persists organizations and memberships.
type Store interface {
	// CreateOrganization inserts org and the owner membership atomically.
	CreateOrganization(ctx context.Context, org Organization, owner Membership) (Organization, error)
	GetMembership(ctx context.Context, orgID, profileID string) (Membership, error)
	ListMemberships(ctx context.Context, profileID string) ([]Membership, error)
	AddMembership(ctx context.Context, m Membership) (Membership, error)
	FindProfileByEmail(ctx context.Context, email string) (auth.Profile, error)
	CreateProfile(ctx context.Context, p auth.Profile) (auth.Profile, error)
}

// Sessions stores per-session pointers.
type Sessions interface {
	ActiveOrg(ctx context.Context, sessionID string) (string, error)
	SetActiveOrg(ctx context.Context, sessionID, orgID string) error
	Persona(ctx context.Context, sessionID string) (string, error)
	SetPersona(ctx context.Context, sessionID, persona string) error
}
