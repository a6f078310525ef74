package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/auth"
	"lexflow.io/internal/cases"
	"lexflow.io/internal/notify"
	"lexflow.io/internal/obs"
)

const (
	heartbeatInterval = 25 * time.Second
	scopeRefresh      = 5 * time.Second
)

// eventFilter holds the case scope of one subscriber. An event for a case
// outside the scope reloads it, at most once per scopeRefresh, so new
// assignments show up without reconnecting.
type eventFilter struct {
	scoper CaseScoper
	orgID  string
	caller auth.Profile
	scope  cases.Scope
	loaded time.Time
}

func newEventFilter(ctx context.Context, scoper CaseScoper, orgID string, caller auth.Profile) (*eventFilter, error) {
	f := &eventFilter{scoper: scoper, orgID: orgID, caller: caller}
	if caller.Role == auth.RoleAdminFirma {
		f.scope = cases.Scope{All: true}
		return f, nil
	}
	if scoper == nil {
		return nil, apperr.ErrForbidden
	}
	scope, err := scoper.Scope(ctx, orgID, caller)
	if err != nil {
		return nil, err
	}
	f.scope, f.loaded = scope, time.Now()
	return f, nil
}

func (f *eventFilter) allows(ctx context.Context, evt notify.Event) bool {
	if f.scope.All {
		return true
	}
	// org-wide events are admin only
	if evt.CaseID == "" {
		return false
	}
	if f.scope.Allows(evt.CaseID) {
		return true
	}
	if time.Since(f.loaded) < scopeRefresh {
		return false
	}
	scope, err := f.scoper.Scope(ctx, f.orgID, f.caller)
	if err != nil {
		obs.Warn("event scope refresh failed", map[string]any{"error": err.Error(), "profile_id": f.caller.ID})
		return false
	}
	f.scope, f.loaded = scope, time.Now()
	return f.scope.Allows(evt.CaseID)
}

// streamEvents sends the workflow events of the active organization to staff
// as server-sent events. Admins get every event; other staff only those of
// the cases assigned to them.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	if a.deps.Events == nil {
		writeFailure(w, r, "events.stream", apperr.ErrUnavailable)
		return
	}
	p, err := a.deps.Gate.Current(r.Context())
	if err != nil {
		writeFailure(w, r, "events.stream", err)
		return
	}
	if p == nil {
		writeFailure(w, r, "events.stream", apperr.ErrUnauthenticated)
		return
	}
	if !p.Activo || !p.Role.IsStaff() {
		writeFailure(w, r, "events.stream", apperr.ErrForbidden)
		return
	}
	orgID, err := auth.ActiveOrg(r.Context())
	if err != nil {
		writeFailure(w, r, "events.stream", err)
		return
	}
	filter, err := newEventFilter(r.Context(), a.deps.Scopes, orgID, *p)
	if err != nil {
		writeFailure(w, r, "events.stream", err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := a.deps.Events.Subscribe(r.Context(), orgID)
	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !filter.allows(r.Context(), evt) {
				continue
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
