package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/auth"
	"lexflow.io/internal/cases"
	"lexflow.io/internal/tenant"
	"lexflow.io/internal/workflow"
)

type stubVerifier struct {
	id  auth.Identity
	err error
}

func (s stubVerifier) Verify(string) (auth.Identity, error) { return s.id, s.err }

type stubGate struct{ p *auth.Profile }

func (g stubGate) Current(ctx context.Context) (*auth.Profile, error) {
	s, ok := auth.SessionFrom(ctx)
	if !ok || s.Identity == nil {
		return nil, nil
	}
	return g.p, nil
}

type stubTenant struct {
	TenantService
	activeOrg   string
	memberships []tenant.Membership
}

func (s stubTenant) ResolveActiveOrg(context.Context, string, string) (string, error) {
	return s.activeOrg, nil
}

func (s stubTenant) Persona(context.Context, string) auth.Role { return "" }

func (s stubTenant) Memberships(context.Context) ([]tenant.Membership, error) {
	return s.memberships, nil
}

type stubStages struct {
	StageService
	complete func(ctx context.Context, id string, in workflow.CompleteStageInput) (workflow.Completion, error)
	list     func(ctx context.Context, in workflow.GetStagesInput) (workflow.StagePage, error)
}

func (s stubStages) CompleteStage(ctx context.Context, id string, in workflow.CompleteStageInput) (workflow.Completion, error) {
	return s.complete(ctx, id, in)
}

func (s stubStages) GetStages(ctx context.Context, in workflow.GetStagesInput) (workflow.StagePage, error) {
	return s.list(ctx, in)
}

type stubCases struct {
	CaseService
	get    func(ctx context.Context, id string) (cases.Case, error)
	create func(ctx context.Context, in cases.CreateCaseInput) (cases.Case, error)
}

func (s stubCases) Get(ctx context.Context, id string) (cases.Case, error) { return s.get(ctx, id) }

func (s stubCases) CreateCase(ctx context.Context, in cases.CreateCaseInput) (cases.Case, error) {
	return s.create(ctx, in)
}

var lawyer = &auth.Profile{ID: "prof-1", Email: "ana@firma.cl", Nombre: "Ana", Role: auth.RoleAbogado, Activo: true}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	if deps.Verifier == nil {
		deps.Verifier = stubVerifier{id: auth.Identity{ID: "prof-1", Email: "ana@firma.cl"}}
	}
	if deps.Gate == nil {
		deps.Gate = stubGate{p: lawyer}
	}
	if deps.Tenant == nil {
		deps.Tenant = stubTenant{activeOrg: "org-1"}
	}
	api := New(deps, Options{Version: "test"})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		srv.Close()
		api.Close()
	})
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any, token string) (*http.Response, map[string]any) {
	t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, payload)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestInvalidTokenIsUnauthenticated(t *testing.T) {
	srv := newTestServer(t, Deps{Verifier: stubVerifier{err: auth.ErrInvalidToken}})

	resp, body := doJSON(t, srv, http.MethodGet, "/v1/session", nil, "garbage")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body["success"] != false || body["error"] != apperr.ErrUnauthenticated.Error() {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestSessionWithoutTokenIsUnauthenticated(t *testing.T) {
	srv := newTestServer(t, Deps{})

	resp, _ := doJSON(t, srv, http.MethodGet, "/v1/session", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var issued bool
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie && c.HttpOnly && c.Value != "" {
			issued = true
		}
	}
	if !issued {
		t.Fatal("expected a session cookie to be issued")
	}
}

func TestGetSession(t *testing.T) {
	srv := newTestServer(t, Deps{Tenant: stubTenant{
		activeOrg:   "org-1",
		memberships: []tenant.Membership{{ID: "m1", OrgID: "org-1", Role: tenant.MemberMember, Status: tenant.StatusActive}},
	}})

	resp, body := doJSON(t, srv, http.MethodGet, "/v1/session", nil, "token")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]any)
	if data["active_org_id"] != "org-1" {
		t.Fatalf("unexpected active org %v", data["active_org_id"])
	}
	if len(data["memberships"].([]any)) != 1 {
		t.Fatalf("unexpected memberships %v", data["memberships"])
	}
	if data["profile"].(map[string]any)["role"] != string(auth.RoleAbogado) {
		t.Fatalf("unexpected profile %v", data["profile"])
	}
}

func TestCompleteStageEnvelope(t *testing.T) {
	next := "Audiencia"
	srv := newTestServer(t, Deps{Stages: stubStages{
		complete: func(ctx context.Context, id string, _ workflow.CompleteStageInput) (workflow.Completion, error) {
			orgID, err := auth.ActiveOrg(ctx)
			if err != nil || orgID != "org-1" {
				return workflow.Completion{}, fmt.Errorf("unexpected org %q: %v", orgID, err)
			}
			return workflow.Completion{Stage: workflow.Stage{ID: id, Estado: workflow.EstadoCompletado}, NextEtapa: &next}, nil
		},
	}})

	resp, body := doJSON(t, srv, http.MethodPost, "/v1/stages/stg-1/complete", nil, "token")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["success"] != true {
		t.Fatalf("expected success envelope, got %v", body)
	}
	data := body["data"].(map[string]any)
	if data["etapa_actual"] != "Audiencia" || data["stage"].(map[string]any)["id"] != "stg-1" {
		t.Fatalf("unexpected completion %v", data)
	}
}

func TestCompleteUnpaidStageIsUnprocessable(t *testing.T) {
	srv := newTestServer(t, Deps{Stages: stubStages{
		complete: func(context.Context, string, workflow.CompleteStageInput) (workflow.Completion, error) {
			return workflow.Completion{}, fmt.Errorf("%w: stage requires payment before completion", apperr.ErrPrecondition)
		},
	}})

	resp, body := doJSON(t, srv, http.MethodPost, "/v1/stages/stg-1/complete", map[string]any{}, "token")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if body["error"] != "precondition failed: stage requires payment before completion" {
		t.Fatalf("unexpected error %v", body["error"])
	}
}

func TestNotFoundLooksForbidden(t *testing.T) {
	srv := newTestServer(t, Deps{Cases: stubCases{
		get: func(context.Context, string) (cases.Case, error) {
			return cases.Case{}, apperr.ErrNotFound
		},
	}})

	resp, body := doJSON(t, srv, http.MethodGet, "/v1/cases/case-9", nil, "token")
	if resp.StatusCode != http.StatusForbidden || body["error"] != apperr.ErrForbidden.Error() {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, body)
	}
}

func TestCreateCaseValidatesBeforeCalling(t *testing.T) {
	srv := newTestServer(t, Deps{Cases: stubCases{
		create: func(context.Context, cases.CreateCaseInput) (cases.Case, error) {
			t.Error("service must not be called")
			return cases.Case{}, nil
		},
	}})

	resp, body := doJSON(t, srv, http.MethodPost, "/v1/cases", map[string]any{"caratula": "ab"}, "token")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "caratula") {
		t.Fatalf("expected field name in error, got %v", body["error"])
	}
}

func TestCreateCaseRejectsUnknownFields(t *testing.T) {
	srv := newTestServer(t, Deps{Cases: stubCases{}})

	resp, _ := doJSON(t, srv, http.MethodPost, "/v1/cases", map[string]any{"org_id": "other"}, "token")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetStagesParsesQuery(t *testing.T) {
	var got workflow.GetStagesInput
	srv := newTestServer(t, Deps{Stages: stubStages{
		list: func(_ context.Context, in workflow.GetStagesInput) (workflow.StagePage, error) {
			got = in
			return workflow.StagePage{Items: []workflow.Stage{}, Page: in.Page, PageSize: in.PageSize}, nil
		},
	}})

	resp, _ := doJSON(t, srv, http.MethodGet, "/v1/stages?case_id=case-1&estado=pendiente&desde=2024-05-01&page=2&page_size=5", nil, "token")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got.CaseID != "case-1" || got.Estado != workflow.EstadoPendiente || got.Page != 2 || got.PageSize != 5 {
		t.Fatalf("unexpected input %+v", got)
	}
	if got.Desde == nil || got.Desde.Day() != 1 {
		t.Fatalf("desde not parsed: %v", got.Desde)
	}

	resp, _ = doJSON(t, srv, http.MethodGet, "/v1/stages?page_size=500", nil, "token")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized page, got %d", resp.StatusCode)
	}
}

func TestUnknownErrorsAreGeneric(t *testing.T) {
	srv := newTestServer(t, Deps{Cases: stubCases{
		get: func(context.Context, string) (cases.Case, error) {
			return cases.Case{}, errors.New("pq: relation cases does not exist")
		},
	}})

	resp, body := doJSON(t, srv, http.MethodGet, "/v1/cases/case-1", nil, "token")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if body["error"] == "pq: relation cases does not exist" {
		t.Fatal("internal error leaked to the caller")
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, Deps{})
	resp, body := doJSON(t, srv, http.MethodGet, "/healthz", nil, "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected healthz %d %v", resp.StatusCode, body)
	}
}
