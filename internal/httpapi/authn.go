package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/auth"
	"lexflow.io/internal/ids"
	"lexflow.io/internal/obs"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	sessionCookie = "lf_session"
	sessionHeader = "X-Session-ID"
)

// withSession builds the request session: the opaque session id, the
// verified identity when a bearer token is present, and the active
// organization and persona pointers of an authenticated caller.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isProbePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		sess := &auth.Session{
			ID:        sessionID(r),
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		}
		if sess.ID == "" {
			sess.ID = ids.New()
			http.SetCookie(w, a.sessionCookie(sess.ID))
		}

		if header := r.Header.Get(authHeader); header != "" {
			token, err := extractBearerToken(header)
			if err != nil {
				writeFailure(w, r, "session", fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err))
				return
			}
			if a.deps.Verifier == nil {
				writeFailure(w, r, "session", apperr.ErrUnavailable)
				return
			}
			identity, err := a.deps.Verifier.Verify(token)
			if err != nil {
				writeFailure(w, r, "session", fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err))
				return
			}
			sess.Identity = &identity
		}

		ctx := auth.WithSession(r.Context(), sess)
		if sess.Identity != nil {
			a.attachTenant(ctx, sess)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// attachTenant fills the session pointers. Failures leave the session
// without an active organization; actions then report it.
func (a *API) attachTenant(ctx context.Context, sess *auth.Session) {
	if a.deps.Gate == nil || a.deps.Tenant == nil {
		return
	}
	p, err := a.deps.Gate.Current(ctx)
	if err != nil || p == nil {
		if err != nil {
			obs.Warn("profile resolution failed", map[string]any{"error": err.Error(), "session_id": sess.ID})
		}
		return
	}
	orgID, err := a.deps.Tenant.ResolveActiveOrg(ctx, sess.ID, p.ID)
	if err != nil {
		obs.Warn("active organization unavailable", map[string]any{"error": err.Error(), "profile_id": p.ID})
	} else {
		sess.ActiveOrgID = orgID
	}
	sess.Persona = a.deps.Tenant.Persona(ctx, sess.ID)
}

func (a *API) sessionCookie(id string) *http.Cookie {
	c := &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl := a.opts.Security.SessionTimeout; ttl > 0 {
		c.MaxAge = int(ttl.Seconds())
	}
	return c
}

func sessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(sessionHeader)); ids.Valid(id) {
		return id
	}
	if c, err := r.Cookie(sessionCookie); err == nil && ids.Valid(c.Value) {
		return c.Value
	}
	return ""
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
