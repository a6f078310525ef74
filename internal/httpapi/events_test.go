package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"lexflow.io/internal/auth"
	"lexflow.io/internal/cases"
	"lexflow.io/internal/notify"
	"lexflow.io/internal/stream"
)

type stubScoper struct{ caseIDs []string }

func (s stubScoper) Scope(_ context.Context, _ string, caller auth.Profile) (cases.Scope, error) {
	if caller.Role == auth.RoleAdminFirma {
		return cases.Scope{All: true}, nil
	}
	return cases.Scope{CaseIDs: s.caseIDs}, nil
}

// openStream connects to the event stream and waits until the hub holds the
// subscription.
func openStream(t *testing.T, ctx context.Context, deps Deps, hub *stream.Hub) *bufio.Reader {
	t.Helper()
	srv := newTestServer(t, deps)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	req.Header.Set("Authorization", "Bearer token")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	reader := bufio.NewReader(resp.Body)
	if line, _ := reader.ReadString('\n'); !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("unexpected preamble %q", line)
	}
	for hub.Subscribers() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	return reader
}

// nextEvent returns the event and data lines of the next delivered event.
func nextEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines[0], lines[1]
}

func TestStreamEventsDeliversOrgEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub := stream.New()
	reader := openStream(t, ctx, Deps{Events: hub, Scopes: stubScoper{caseIDs: []string{"case-1"}}}, hub)

	_ = hub.Publish(ctx, notify.Event{Type: notify.EventStageCreated, OrgID: "org-2", CaseID: "case-1", EntityID: "other"})
	_ = hub.Publish(ctx, notify.Event{Type: notify.EventStageCompleted, OrgID: "org-1", CaseID: "case-1", EntityID: "stg-1"})

	event, data := nextEvent(t, reader)
	if event != "event: "+notify.EventStageCompleted {
		t.Fatalf("unexpected event line %q", event)
	}
	if !strings.Contains(data, `"entity_id":"stg-1"`) {
		t.Fatalf("unexpected data line %q", data)
	}
}

func TestStreamEventsSkipsUnassignedCases(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub := stream.New()
	reader := openStream(t, ctx, Deps{Events: hub, Scopes: stubScoper{caseIDs: []string{"case-1"}}}, hub)

	_ = hub.Publish(ctx, notify.Event{Type: notify.EventStageCreated, OrgID: "org-1", CaseID: "case-2", EntityID: "stg-hidden"})
	_ = hub.Publish(ctx, notify.Event{Type: notify.EventStageCreated, OrgID: "org-1", EntityID: "org-wide"})
	_ = hub.Publish(ctx, notify.Event{Type: notify.EventStageCompleted, OrgID: "org-1", CaseID: "case-1", EntityID: "stg-1"})

	_, data := nextEvent(t, reader)
	if !strings.Contains(data, `"entity_id":"stg-1"`) {
		t.Fatalf("lawyer received an event outside their cases: %q", data)
	}
}

func TestStreamEventsAdminSeesEveryCase(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub := stream.New()
	admin := &auth.Profile{ID: "prof-2", Role: auth.RoleAdminFirma, Activo: true}
	reader := openStream(t, ctx, Deps{Gate: stubGate{p: admin}, Events: hub}, hub)

	_ = hub.Publish(ctx, notify.Event{Type: notify.EventStageCreated, OrgID: "org-1", CaseID: "case-2", EntityID: "stg-2"})

	_, data := nextEvent(t, reader)
	if !strings.Contains(data, `"entity_id":"stg-2"`) {
		t.Fatalf("unexpected data line %q", data)
	}
}

func TestStreamEventsWithoutScopeRejectsStaff(t *testing.T) {
	srv := newTestServer(t, Deps{Events: stream.New()})

	resp, body := doJSON(t, srv, http.MethodGet, "/v1/events", nil, "token")
	if resp.StatusCode != http.StatusForbidden || body["success"] != false {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, body)
	}
}

func TestStreamEventsRejectsClients(t *testing.T) {
	client := &auth.Profile{ID: "prof-9", Role: auth.RoleCliente, Activo: true}
	srv := newTestServer(t, Deps{Gate: stubGate{p: client}, Events: stream.New()})

	resp, body := doJSON(t, srv, http.MethodGet, "/v1/events", nil, "token")
	if resp.StatusCode != http.StatusForbidden || body["success"] != false {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, body)
	}
}
