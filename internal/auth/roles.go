package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Role is the application role stored on a profile.
type Role string

const (
	RoleAdminFirma Role = "admin_firma"
	RoleAbogado    Role = "abogado"
	RoleAnalista   Role = "analista"
	RoleCliente    Role = "cliente"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdminFirma, RoleAbogado, RoleAnalista, RoleCliente}

// StaffRoles are the non-client roles.
var StaffRoles = []Role{RoleAdminFirma, RoleAbogado, RoleAnalista}

func (r Role) Valid() bool {
	switch r {
	case RoleAdminFirma, RoleAbogado, RoleAnalista, RoleCliente:
		return true
	}
	return false
}

func (r Role) IsStaff() bool { return r.Valid() && r != RoleCliente }

// roleAliases maps normalized claim values to canonical roles. Keys are
// lower case with spaces, dashes and dots folded to underscores.
var roleAliases = map[string]Role{
	"admin_firma":         RoleAdminFirma,
	"adminfirma":          RoleAdminFirma,
	"admin":               RoleAdminFirma,
	"administrator":       RoleAdminFirma,
	"administrador":       RoleAdminFirma,
	"administrador_firma": RoleAdminFirma,
	"firm_admin":          RoleAdminFirma,
	"owner":               RoleAdminFirma,
	"super_admin":         RoleAdminFirma,
	"superadmin":          RoleAdminFirma,

	"abogado":  RoleAbogado,
	"abogada":  RoleAbogado,
	"lawyer":   RoleAbogado,
	"attorney": RoleAbogado,

	"analista":  RoleAnalista,
	"analyst":   RoleAnalista,
	"paralegal": RoleAnalista,
	"asistente": RoleAnalista,

	"cliente":  RoleCliente,
	"client":   RoleCliente,
	"customer": RoleCliente,
}

func init() {
	if err := validateAliasTable(roleAliases); err != nil {
		panic(err)
	}
}

// validateAliasTable checks every alias key is already normalized and every
// target is a known role.
func validateAliasTable(table map[string]Role) error {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if normalizeRoleKey(k) != k {
			return fmt.Errorf("auth: role alias %q is not normalized", k)
		}
		if !table[k].Valid() {
			return fmt.Errorf("auth: role alias %q maps to unknown role %q", k, table[k])
		}
	}
	for _, r := range Roles {
		if table[string(r)] != r {
			return fmt.Errorf("auth: canonical role %q missing from alias table", r)
		}
	}
	return nil
}

// ParseRole resolves a claim value to a canonical role. Unknown values are
// rejected instead of defaulting.
func ParseRole(raw string) (Role, error) {
	key := normalizeRoleKey(raw)
	if key == "" {
		return "", fmt.Errorf("%w: empty role", ErrUnknownRole)
	}
	role, ok := roleAliases[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return role, nil
}

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n",
	" ", "_", "-", "_", ".", "_",
)

func normalizeRoleKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = accentFolder.Replace(key)
	for strings.Contains(key, "__") {
		key = strings.ReplaceAll(key, "__", "_")
	}
	return strings.Trim(key, "_")
}

// HasRole reports whether role is one of allowed. An empty allowed list
// admits every role.
func HasRole(role Role, allowed ...Role) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == role {
			return true
		}
	}
	return false
}
