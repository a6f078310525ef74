package auth

import (
	"strconv"
	"strings"

	"lexflow.io/internal/obs"
)

// claim keys that may carry a role, in precedence order
var roleClaimKeys = []string{"role", "app_role", "rol", "user_role", "tipo_usuario", "perfil"}

// boolean flags that promote to admin_firma
var adminFlagKeys = []string{"is_admin", "isAdmin", "admin", "is_firm_admin", "es_admin"}

var displayNameKeys = []string{"full_name", "nombre_completo", "name", "nombre", "display_name"}

// ClaimedRole inspects identity provider claims and returns the role they
// assert. App-level claims win over user-level claims. Values that do not
// resolve through the alias table are ignored.
func ClaimedRole(id Identity) (Role, string, bool) {
	sources := []struct {
		name string
		meta map[string]any
	}{
		{"app_metadata", id.AppMetadata},
		{"user_metadata", id.UserMetadata},
	}
	for _, src := range sources {
		if len(src.meta) == 0 {
			continue
		}
		for _, key := range roleClaimKeys {
			raw, ok := stringClaim(src.meta, key)
			if !ok {
				continue
			}
			role, err := ParseRole(raw)
			if err != nil {
				obs.Warn("role claim rejected", map[string]any{
					"identity_id": id.ID,
					"source":      src.name + "." + key,
					"value":       raw,
				})
				continue
			}
			return role, src.name + "." + key, true
		}
		for _, key := range adminFlagKeys {
			if boolClaim(src.meta, key) {
				return RoleAdminFirma, src.name + "." + key, true
			}
		}
	}
	return "", "", false
}

// ClaimedName returns the display name asserted by the identity provider.
func ClaimedName(id Identity) (string, bool) {
	for _, meta := range []map[string]any{id.UserMetadata, id.AppMetadata} {
		for _, key := range displayNameKeys {
			if v, ok := stringClaim(meta, key); ok {
				return v, true
			}
		}
	}
	return "", false
}

// DisplayName is ClaimedName with the local part of the email as fallback.
func DisplayName(id Identity) string {
	if name, ok := ClaimedName(id); ok {
		return name
	}
	if at := strings.IndexByte(id.Email, '@'); at > 0 {
		return id.Email[:at]
	}
	return id.Email
}

func stringClaim(meta map[string]any, key string) (string, bool) {
	v, ok := meta[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func boolClaim(meta map[string]any, key string) bool {
	switch v := meta[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	case float64:
		return v == 1
	}
	return false
}
