package rbac

import (
	"strings"
	"time"
)

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission represents an atomic capability such as "dispatch.approve-manager".
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Module      string `json:"module"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// Assignment ties a permission to a role.
type Assignment struct {
	RoleID       int64
	PermissionID int64
	CreatedAt    time.Time
}

// Identity is an authenticated actor with its role and permissions resolved.
type Identity struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	RoleID      *int64    `json:"role_id,omitempty"`
	Role        *Role     `json:"role,omitempty"`
	Permissions []string  `json:"permissions"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`

	// LegacyRole and LegacyCategory predate structured roles. They are only
	// consulted when no structured role is bound.
	LegacyRole     string `json:"legacy_role,omitempty"`
	LegacyCategory string `json:"legacy_category,omitempty"`
}

// RoleName returns the canonical name of the identity's effective role.
func (i *Identity) RoleName() string {
	if i == nil {
		return ""
	}
	if i.Role != nil && strings.TrimSpace(i.Role.Name) != "" {
		return CanonicalRole(i.Role.Name)
	}
	if strings.TrimSpace(i.LegacyRole) != "" {
		return CanonicalRole(i.LegacyRole)
	}
	return CanonicalRole(i.LegacyCategory)
}

// Requirement describes what an action needs. An identity satisfies it when
// it holds every AllOf permission and, if AnyOf or Roles are set, at least one
// AnyOf permission or one of the Roles.
type Requirement struct {
	AnyOf []string
	AllOf []string
	Roles []string
}

// IsZero reports whether the requirement restricts nothing.
func (r Requirement) IsZero() bool {
	return len(r.AnyOf) == 0 && len(r.AllOf) == 0 && len(r.Roles) == 0
}
