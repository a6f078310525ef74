package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"lexflow.io/internal/auth"
	"lexflow.io/internal/obs"
)

type memStore struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *memStore) InsertAuditEntry(ctx context.Context, e Entry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) ListAuditEntries(_ context.Context, orgID string, q Query) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.OrgID == orgID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fixedProfile struct {
	p   *auth.Profile
	err error
}

func (f fixedProfile) Current(context.Context) (*auth.Profile, error) { return f.p, f.err }

func (f fixedProfile) RequireAuth(_ context.Context, roles ...auth.Role) (auth.Profile, error) {
	if f.p == nil {
		return auth.Profile{}, errors.New("authentication required")
	}
	if !auth.HasRole(f.p.Role, roles...) {
		return auth.Profile{}, errors.New("forbidden")
	}
	return *f.p, nil
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	orig := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(orig) })
	return &buf
}

func TestLogWithoutProfileWarnsAndSkips(t *testing.T) {
	buf := captureLog(t)
	store := &memStore{}
	w := NewWriter(store, fixedProfile{})

	w.Log(context.Background(), Action{Action: "stage.update", EntityType: "case_stage"})

	if len(store.entries) != 0 {
		t.Fatalf("expected no write, got %d", len(store.entries))
	}
	if !strings.Contains(buf.String(), "audit skipped") {
		t.Fatalf("expected warning, got %q", buf.String())
	}
}

func TestLogDefaultsUnknownClientInfo(t *testing.T) {
	captureLog(t)
	store := &memStore{}
	w := NewWriter(store, fixedProfile{p: &auth.Profile{ID: "p1"}})

	ctx := auth.WithSession(context.Background(), &auth.Session{ID: "s", ActiveOrgID: "org-1"})
	w.Log(ctx, Action{Action: "case.create", EntityType: "case", EntityID: "c1", Diff: map[string]any{"caratula": "X"}})

	if len(store.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(store.entries))
	}
	e := store.entries[0]
	if e.IP != "unknown" || e.UserAgent != "unknown" {
		t.Fatalf("expected unknown defaults, got ip=%q ua=%q", e.IP, e.UserAgent)
	}
	if e.OrgID != "org-1" || e.ActorID != "p1" || e.EntityID != "c1" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", e)
	}
}

func TestLogCapturesClientInfo(t *testing.T) {
	captureLog(t)
	store := &memStore{}
	w := NewWriter(store, fixedProfile{p: &auth.Profile{ID: "p1"}})
	ctx := auth.WithSession(context.Background(), &auth.Session{IP: "10.1.2.3", UserAgent: "test-agent"})

	w.Log(ctx, Action{Action: "case.archive", EntityType: "case"})

	if store.entries[0].IP != "10.1.2.3" || store.entries[0].UserAgent != "test-agent" {
		t.Fatalf("unexpected client info %+v", store.entries[0])
	}
}

func TestLogSwallowsStoreFailure(t *testing.T) {
	buf := captureLog(t)
	w := NewWriter(&memStore{err: errors.New("insert failed")}, fixedProfile{p: &auth.Profile{ID: "p1"}})

	w.Log(context.Background(), Action{Action: "stage.delete", EntityType: "case_stage"})

	if !strings.Contains(buf.String(), "audit write failed") {
		t.Fatalf("expected failure logged, got %q", buf.String())
	}
}

func TestLogSurvivesCancelledRequest(t *testing.T) {
	captureLog(t)
	store := &memStore{}
	w := NewWriter(store, fixedProfile{p: &auth.Profile{ID: "p1"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w.Log(ctx, Action{Action: "note.create", EntityType: "note"})

	if len(store.entries) != 1 {
		t.Fatalf("expected entry despite cancellation, got %d", len(store.entries))
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestLogEventIncludesRequestAndSession(t *testing.T) {
	buf := captureLog(t)
	ctx := WithRequestID(context.Background(), "req-9")
	ctx = auth.WithSession(ctx, &auth.Session{Identity: &auth.Identity{ID: "u-1"}, ActiveOrgID: "org-1"})

	if err := LogEvent(ctx, "organization.switch", map[string]any{"to": "org-1"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	line := buf.String()
	for _, want := range []string{`"request_id":"req-9"`, `"user_id":"u-1"`, `"org_id":"org-1"`, `"type":"audit"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %s in %s", want, line)
		}
	}
}
