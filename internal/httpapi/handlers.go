// Package httpapi exposes the case management actions over HTTP and the
// health service over gRPC.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"lexflow.io/internal/audit"
	"lexflow.io/internal/auth"
	"lexflow.io/internal/casefile"
	"lexflow.io/internal/cases"
	"lexflow.io/internal/clients"
	"lexflow.io/internal/notify"
	"lexflow.io/internal/obs"
	"lexflow.io/internal/security"
	"lexflow.io/internal/tenant"
	"lexflow.io/internal/workflow"
)

const serviceName = "lexflow-api"

// Probe is one readiness dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Readiness runs every probe concurrently and fails when any fails.
type Readiness []Probe

func (rd Readiness) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	errs := make([]error, len(rd))
	var g errgroup.Group
	for i, p := range rd {
		g.Go(func() error {
			if err := p.Check(ctx); err != nil {
				errs[i] = errors.New(p.Name + ": " + err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

type Authenticator interface {
	Verify(token string) (auth.Identity, error)
}

type CallerResolver interface {
	Current(ctx context.Context) (*auth.Profile, error)
}

type TenantService interface {
	CreateOrganization(ctx context.Context, in tenant.CreateOrganizationInput) (tenant.CreateOrganizationResult, error)
	SwitchOrganization(ctx context.Context, orgID string) (tenant.Membership, error)
	ResolveActiveOrg(ctx context.Context, sessionID, profileID string) (string, error)
	Memberships(ctx context.Context) ([]tenant.Membership, error)
	SetDemoPersona(ctx context.Context, persona string) (auth.Role, error)
	Persona(ctx context.Context, sessionID string) auth.Role
}

type CaseService interface {
	CreateCase(ctx context.Context, in cases.CreateCaseInput) (cases.Case, error)
	Get(ctx context.Context, caseID string) (cases.Case, error)
	List(ctx context.Context, f cases.Filter) ([]cases.Case, error)
	Archive(ctx context.Context, caseID string) (cases.Case, error)
	LinkClient(ctx context.Context, caseID, clientID string) error
	Search(ctx context.Context, text string, limit int) ([]cases.Case, error)
}

type StageService interface {
	CreateStage(ctx context.Context, in workflow.CreateStageInput) (workflow.Stage, error)
	UpdateStage(ctx context.Context, stageID string, in workflow.UpdateStageInput) (workflow.Stage, error)
	CompleteStage(ctx context.Context, stageID string, in workflow.CompleteStageInput) (workflow.Completion, error)
	DeleteStage(ctx context.Context, stageID string) error
	GetStages(ctx context.Context, in workflow.GetStagesInput) (workflow.StagePage, error)
}

type ClientService interface {
	CreateClientProfile(ctx context.Context, in clients.CreateClientInput) (auth.Profile, error)
	ListClients(ctx context.Context, in clients.ListInput) (clients.ClientPage, error)
}

type CasefileService interface {
	UploadDocument(ctx context.Context, in casefile.UploadInput) (casefile.Document, error)
	ListDocuments(ctx context.Context, caseID string) ([]casefile.Document, error)
	DownloadURL(ctx context.Context, docID string) (string, error)
	AddNote(ctx context.Context, in casefile.AddNoteInput) (casefile.Note, error)
	ListNotes(ctx context.Context, caseID string) ([]casefile.Note, error)
}

type AuditLister interface {
	List(ctx context.Context, q audit.Query) ([]audit.Entry, error)
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, orgID string) <-chan notify.Event
}

// CaseScoper lists the cases a caller may see.
type CaseScoper interface {
	Scope(ctx context.Context, orgID string, caller auth.Profile) (cases.Scope, error)
}

// Deps are the collaborators behind the actions.
type Deps struct {
	Verifier Authenticator
	Gate     CallerResolver
	Tenant   TenantService
	Cases    CaseService
	Stages   StageService
	Clients  ClientService
	Files    CasefileService
	Audit    AuditLister
	Events   EventSubscriber
	Scopes   CaseScoper
	Ready    Readiness
}

type Options struct {
	Version  string
	Security security.Settings
	// AllowedOrigins may call the API from a browser.
	AllowedOrigins []string
	SecureCookies  bool
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	deps     Deps
	opts     Options
	validate *validator.Validate
	limiter  *ipLimiter
}

func New(deps Deps, opts Options) *API {
	if opts.Security.RateLimitPerMinute == 0 {
		opts.Security = security.Defaults()
	}
	a := &API{
		mux:      http.NewServeMux(),
		deps:     deps,
		opts:     opts,
		validate: newValidator(),
		limiter:  newIPLimiter(opts.Security.PerSecond(), opts.Security.RateLimitBurst),
	}
	a.routes()
	return a
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("GET /v1/session", a.getSession)
	a.mux.HandleFunc("PUT /v1/session/organization", a.switchOrganization)
	a.mux.HandleFunc("PUT /v1/session/persona", a.setPersona)
	a.mux.HandleFunc("POST /v1/organizations", a.createOrganization)

	a.mux.HandleFunc("POST /v1/cases", a.createCase)
	a.mux.HandleFunc("GET /v1/cases", a.listCases)
	a.mux.HandleFunc("GET /v1/cases/search", a.searchCases)
	a.mux.HandleFunc("GET /v1/cases/{id}", a.getCase)
	a.mux.HandleFunc("POST /v1/cases/{id}/archive", a.archiveCase)
	a.mux.HandleFunc("POST /v1/cases/{id}/clients", a.linkClient)

	a.mux.HandleFunc("POST /v1/stages", a.createStage)
	a.mux.HandleFunc("GET /v1/stages", a.getStages)
	a.mux.HandleFunc("PATCH /v1/stages/{id}", a.updateStage)
	a.mux.HandleFunc("POST /v1/stages/{id}/complete", a.completeStage)
	a.mux.HandleFunc("DELETE /v1/stages/{id}", a.deleteStage)

	a.mux.HandleFunc("POST /v1/clients", a.createClient)
	a.mux.HandleFunc("GET /v1/clients", a.listClients)

	a.mux.HandleFunc("POST /v1/cases/{id}/documents", a.uploadDocument)
	a.mux.HandleFunc("GET /v1/cases/{id}/documents", a.listDocuments)
	a.mux.HandleFunc("GET /v1/documents/{id}/download", a.downloadDocument)
	a.mux.HandleFunc("POST /v1/notes", a.addNote)
	a.mux.HandleFunc("GET /v1/cases/{id}/notes", a.listNotes)

	a.mux.HandleFunc("GET /v1/audit", a.listAudit)
	a.mux.HandleFunc("GET /v1/events", a.streamEvents)
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withSession(h)
	h = MaxBodyBytes(h, a.opts.Security.MaxBodyBytes)
	h = a.limiter.Middleware(h)
	h = IPAllowlist(h, a.opts.Security)
	h = CORS(h, a.opts.AllowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// Close stops background work.
func (a *API) Close() {
	a.limiter.Stop()
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}
