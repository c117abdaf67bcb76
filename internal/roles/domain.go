package roles

import (
	"errors"

	"github.com/haulmark/backoffice/internal/rbac"
)

// ErrInvalidName indicates a blank or reserved role name.
var ErrInvalidName = errors.New("roles: invalid role name")

// Role is a role with its bound permissions.
type Role struct {
	rbac.Role
	Permissions []rbac.Permission `json:"permissions"`
}
