package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/audit"
	"lexflow.io/internal/auth"
	"lexflow.io/internal/tenant"
)

type sessionView struct {
	Profile     *auth.Profile       `json:"profile"`
	Memberships []tenant.Membership `json:"memberships"`
	ActiveOrgID string              `json:"active_org_id,omitempty"`
	Persona     auth.Role           `json:"persona,omitempty"`
}

type switchOrganizationRequest struct {
	OrgID string `json:"org_id" validate:"required"`
}

type personaRequest struct {
	Persona string `json:"persona"`
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	p, err := a.deps.Gate.Current(r.Context())
	if err != nil {
		writeFailure(w, r, "session.get", err)
		return
	}
	if p == nil {
		writeFailure(w, r, "session.get", apperr.ErrUnauthenticated)
		return
	}
	memberships, err := a.deps.Tenant.Memberships(r.Context())
	if err != nil {
		writeFailure(w, r, "session.get", err)
		return
	}
	view := sessionView{Profile: p, Memberships: memberships}
	if s, ok := auth.SessionFrom(r.Context()); ok {
		view.ActiveOrgID = s.ActiveOrgID
		view.Persona = s.Persona
	}
	writeSuccess(w, http.StatusOK, view)
}

func (a *API) switchOrganization(w http.ResponseWriter, r *http.Request) {
	var req switchOrganizationRequest
	if err := a.bind(r, &req); err != nil {
		writeFailure(w, r, "organization.switch", err)
		return
	}
	m, err := a.deps.Tenant.SwitchOrganization(r.Context(), req.OrgID)
	if err != nil {
		writeFailure(w, r, "organization.switch", err)
		return
	}
	writeSuccess(w, http.StatusOK, m)
}

func (a *API) setPersona(w http.ResponseWriter, r *http.Request) {
	var req personaRequest
	if err := a.bind(r, &req); err != nil {
		writeFailure(w, r, "session.persona", err)
		return
	}
	role, err := a.deps.Tenant.SetDemoPersona(r.Context(), req.Persona)
	if err != nil {
		writeFailure(w, r, "session.persona", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"persona": role})
}

func (a *API) createOrganization(w http.ResponseWriter, r *http.Request) {
	var in tenant.CreateOrganizationInput
	if err := a.bind(r, &in); err != nil {
		writeFailure(w, r, "organization.create", err)
		return
	}
	res, err := a.deps.Tenant.CreateOrganization(r.Context(), in)
	if err != nil {
		writeFailure(w, r, "organization.create", err)
		return
	}
	w.Header().Set("Location", "/v1/organizations/"+res.Organization.ID)
	writeSuccess(w, http.StatusCreated, res)
}

func (a *API) listAudit(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{
		EntityType: r.URL.Query().Get("entity_type"),
		EntityID:   r.URL.Query().Get("entity_id"),
	}
	var err error
	if q.Limit, err = queryInt(r, "limit", 50); err != nil {
		writeFailure(w, r, "audit.list", err)
		return
	}
	before, err := queryTime(r, "before")
	if err != nil {
		writeFailure(w, r, "audit.list", err)
		return
	}
	if before != nil {
		q.Before = *before
	}
	entries, err := a.deps.Audit.List(r.Context(), q)
	if err != nil {
		writeFailure(w, r, "audit.list", err)
		return
	}
	writeSuccess(w, http.StatusOK, entries)
}

// queryTime accepts RFC 3339 timestamps and plain dates.
func queryTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s must be an RFC 3339 timestamp or a date", apperr.ErrInvalidInput, key)
}
