package users

import (
	"errors"

	"github.com/haulmark/backoffice/internal/rbac"
)

var (
	// ErrSelfAction indicates an administrator acting on their own account.
	ErrSelfAction = errors.New("users: cannot change your own account")
	// ErrForbidden indicates a role grant above the actor's own privilege.
	ErrForbidden = errors.New("users: only a super administrator may grant that role")
)

// User is the administrative view of an identity.
type User struct {
	rbac.Identity
	RoleName string `json:"role_name"`
	IsAdmin  bool   `json:"is_admin"`
}

func toUser(identity rbac.Identity) User {
	return User{
		Identity: identity,
		RoleName: identity.RoleName(),
		IsAdmin:  rbac.IsAdmin(&identity),
	}
}

// ListFilter narrows user listings.
type ListFilter struct {
	Search     string
	RoleID     int64
	ActiveOnly bool
	Page       int
	PerPage    int
}
