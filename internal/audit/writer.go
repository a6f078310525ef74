// Package audit appends the action trail. Writes are best effort: a failed
// or skipped entry never fails the operation it documents.
package audit

import (
	"context"
	"strings"
	"time"

	"lexflow.io/internal/auth"
	"lexflow.io/internal/ids"
	"lexflow.io/internal/obs"
)

const unknown = "unknown"

// Entry is one audit_log row.
type Entry struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"org_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	Diff       map[string]any `json:"diff_json,omitempty"`
	IP         string         `json:"ip"`
	UserAgent  string         `json:"user_agent"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Action describes what happened.
type Action struct {
	Action     string
	EntityType string
	EntityID   string
	Diff       map[string]any
}

// Query filters audit listings.
type Query struct {
	EntityType string
	EntityID   string
	Limit      int
	Before     time.Time
}

// Store persists entries.
type Store interface {
	InsertAuditEntry(ctx context.Context, e Entry) error
	ListAuditEntries(ctx context.Context, orgID string, q Query) ([]Entry, error)
}

// CurrentProfile resolves the caller, nil when there is none.
type CurrentProfile interface {
	Current(ctx context.Context) (*auth.Profile, error)
}

type Writer struct {
	store    Store
	profiles CurrentProfile
	timeout  time.Duration
	now      func() time.Time
}

func NewWriter(store Store, profiles CurrentProfile) *Writer {
	return &Writer{store: store, profiles: profiles, timeout: 5 * time.Second, now: time.Now}
}

// Log resolves the caller and appends a. Without a caller it warns and
// returns without writing.
func (w *Writer) Log(ctx context.Context, a Action) {
	p, err := w.profiles.Current(ctx)
	if err != nil || p == nil {
		fields := map[string]any{"action": a.Action, "entity_type": a.EntityType}
		if err != nil {
			fields["error"] = err.Error()
		}
		obs.Warn("audit skipped: no profile", fields)
		return
	}
	w.record(ctx, *p, a)
}

func (w *Writer) record(ctx context.Context, actor auth.Profile, a Action) {
	e := Entry{
		ID:         ids.New(),
		ActorID:    actor.ID,
		Action:     a.Action,
		EntityType: a.EntityType,
		EntityID:   a.EntityID,
		Diff:       a.Diff,
		IP:         unknown,
		UserAgent:  unknown,
		CreatedAt:  w.now().UTC(),
	}
	if s, ok := auth.SessionFrom(ctx); ok {
		e.OrgID = s.ActiveOrgID
		if ip := strings.TrimSpace(s.IP); ip != "" {
			e.IP = ip
		}
		if ua := strings.TrimSpace(s.UserAgent); ua != "" {
			e.UserAgent = ua
		}
	}

	// the entry outlives a cancelled request
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()
	if err := w.store.InsertAuditEntry(wctx, e); err != nil {
		obs.AuditWriteFailed()
		obs.Error("audit write failed", err, map[string]any{
			"action":    e.Action,
			"entity_id": e.EntityID,
			"actor_id":  e.ActorID,
		})
	}
	_ = LogEvent(ctx, e.Action, map[string]any{
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"actor_id":    e.ActorID,
	})
}

// List returns entries for orgID, newest first.
func (w *Writer) List(ctx context.Context, orgID string, q Query) ([]Entry, error) {
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	return w.store.ListAuditEntries(ctx, orgID, q)
}
