package audit

import (
	"context"
	"errors"
	"testing"

	"lexflow.io/internal/auth"
)

func TestGuardAuditsSuccessfulMutation(t *testing.T) {
	captureLog(t)
	store := &memStore{}
	caller := &auth.Profile{ID: "admin-1", Role: auth.RoleAdminFirma, Activo: true}
	gate := fixedProfile{p: caller}
	guard := NewGuard(gate, NewWriter(store, gate))

	ran := false
	err := guard.Run(context.Background(), Mutation{Action: "stage.delete", EntityType: "case_stage", Roles: []auth.Role{auth.RoleAdminFirma}},
		func(_ context.Context, p auth.Profile) (Record, error) {
			ran = true
			if p.ID != "admin-1" {
				t.Fatalf("unexpected caller %s", p.ID)
			}
			return Record{EntityID: "stage-1", Diff: map[string]any{"deleted": true}}, nil
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatal("mutation did not run")
	}
	if len(store.entries) != 1 || store.entries[0].Action != "stage.delete" || store.entries[0].EntityID != "stage-1" {
		t.Fatalf("unexpected audit entries %+v", store.entries)
	}
}

func TestGuardRejectsBeforeRunning(t *testing.T) {
	store := &memStore{}
	gate := fixedProfile{p: &auth.Profile{ID: "c1", Role: auth.RoleCliente, Activo: true}}
	guard := NewGuard(gate, NewWriter(store, gate))

	err := guard.Run(context.Background(), Mutation{Action: "stage.delete", Roles: []auth.Role{auth.RoleAdminFirma}},
		func(context.Context, auth.Profile) (Record, error) {
			t.Fatal("mutation must not run")
			return Record{}, nil
		})
	if err == nil {
		t.Fatal("expected authorization error")
	}
	if len(store.entries) != 0 {
		t.Fatalf("expected no audit entry, got %d", len(store.entries))
	}
}

func TestGuardSkipsAuditOnFailure(t *testing.T) {
	store := &memStore{}
	gate := fixedProfile{p: &auth.Profile{ID: "a1", Role: auth.RoleAbogado, Activo: true}}
	guard := NewGuard(gate, NewWriter(store, gate))
	boom := errors.New("boom")

	err := guard.Run(context.Background(), Mutation{Action: "stage.update"},
		func(context.Context, auth.Profile) (Record, error) { return Record{}, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	if len(store.entries) != 0 {
		t.Fatalf("expected no audit entry, got %d", len(store.entries))
	}
}

func TestGuardListIsAdminOnlyAndOrgScoped(t *testing.T) {
	store := &memStore{entries: []Entry{
		{ID: "1", OrgID: "org-1", Action: "stage.delete"},
		{ID: "2", OrgID: "org-2", Action: "stage.delete"},
	}}
	ctx := auth.WithSession(context.Background(), &auth.Session{ID: "s", ActiveOrgID: "org-1"})

	lawyer := fixedProfile{p: &auth.Profile{ID: "a1", Role: auth.RoleAbogado, Activo: true}}
	if _, err := NewGuard(lawyer, NewWriter(store, lawyer)).List(ctx, Query{}); err == nil {
		t.Fatal("expected lawyers to be rejected")
	}

	admin := fixedProfile{p: &auth.Profile{ID: "adm", Role: auth.RoleAdminFirma, Activo: true}}
	entries, err := NewGuard(admin, NewWriter(store, admin)).List(ctx, Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "1" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
