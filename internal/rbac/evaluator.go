package rbac

import "strings"

const (
	// RoleSuperAdmin bypasses every requirement.
	RoleSuperAdmin = "super_admin"
	// RoleAdmin administers users, roles and subject enablement.
	RoleAdmin = "admin"
	// RoleManager performs the first approval stage.
	RoleManager = "manager"
	// RoleAccounts performs the final approval stage.
	RoleAccounts = "accounts"
)

// AdminRoles lists the canonical role names treated as administrators.
var AdminRoles = []string{RoleAdmin, RoleSuperAdmin}

// CanonicalRole normalises a role name so "Super Admin", "super-admin" and
// "super_admin" compare equal.
func CanonicalRole(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Join(strings.Fields(name), "_")
	return strings.ReplaceAll(name, "-", "_")
}

// IsSuperAdmin reports whether the identity holds the super administrator role.
func IsSuperAdmin(identity *Identity) bool {
	return identity != nil && identity.RoleName() == RoleSuperAdmin
}

// IsAdmin is the single administrator check used by authorization, audience
// resolution and realtime room membership.
func IsAdmin(identity *Identity) bool {
	if identity == nil {
		return false
	}
	role := identity.RoleName()
	for _, admin := range AdminRoles {
		if role == admin {
			return true
		}
	}
	return false
}

// Authorize decides whether identity satisfies requirement. It never panics
// and denies on missing data.
func Authorize(identity *Identity, requirement Requirement) bool {
	if identity == nil || !identity.IsActive {
		return false
	}
	if IsSuperAdmin(identity) {
		return true
	}
	granted := permissionSet(identity)
	if !hasAllPermissions(granted, normalizePermissions(requirement.AllOf)) {
		return false
	}
	if len(requirement.AnyOf) == 0 && len(requirement.Roles) == 0 {
		return true
	}
	if len(requirement.AnyOf) > 0 && hasAnyPermission(granted, normalizePermissions(requirement.AnyOf)) {
		return true
	}
	role := identity.RoleName()
	if role == "" {
		return false
	}
	for _, allowed := range requirement.Roles {
		if CanonicalRole(allowed) == role {
			return true
		}
	}
	return false
}

// permissionSet only trusts permissions bound to a structured role. Legacy
// identities are resolved through the role allow-list instead.
func permissionSet(identity *Identity) map[string]struct{} {
	if identity.Role == nil {
		return nil
	}
	set := make(map[string]struct{}, len(identity.Permissions))
	for _, p := range identity.Permissions {
		set[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	return set
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted map[string]struct{}, required []string) bool {
	for _, r := range required {
		if _, ok := granted[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted map[string]struct{}, required []string) bool {
	for _, r := range required {
		if _, ok := granted[r]; !ok {
			return false
		}
	}
	return true
}
