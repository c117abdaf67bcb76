package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/haulmark/backoffice/internal/rbac"
	"github.com/haulmark/backoffice/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
	CreateRole(ctx context.Context, name, description string) (rbac.Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (rbac.Role, error)
	ListPermissions(ctx context.Context) ([]rbac.Permission, error)
	RolePermissions(ctx context.Context, roleID int64) ([]rbac.Permission, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
}

// Service handles role business logic.
type Service struct {
	repo     RepositoryPort
	recorder shared.AdminRecorder
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, recorder shared.AdminRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, recorder: recorder, logger: logger}
}

// ListRoles returns all roles with their permissions.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(roles))
	for _, role := range roles {
		perms, err := s.repo.RolePermissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Role{Role: role, Permissions: perms})
	}
	return out, nil
}

// ListPermissions returns the permission catalogue.
func (s *Service) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// CreateRole adds a custom role. Names are stored canonically.
func (s *Service) CreateRole(ctx context.Context, actor *rbac.Identity, name, description string) (Role, error) {
	canonical, err := roleName(name)
	if err != nil {
		return Role{}, err
	}
	role, err := s.repo.CreateRole(ctx, canonical, strings.TrimSpace(description))
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, "role.created", role.ID, map[string]any{"name": role.Name})
	return Role{Role: role, Permissions: []rbac.Permission{}}, nil
}

// UpdateRole renames a custom role or edits any role's description. System
// role names never change.
func (s *Service) UpdateRole(ctx context.Context, actor *rbac.Identity, id int64, name, description string) (Role, error) {
	current, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	canonical := current.Name
	if strings.TrimSpace(name) != "" {
		if canonical, err = roleName(name); err != nil {
			return Role{}, err
		}
	}
	if current.IsSystem && canonical != current.Name {
		return Role{}, rbac.ErrSystemRole
	}
	updated, err := s.repo.UpdateRole(ctx, id, canonical, strings.TrimSpace(description))
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, "role.updated", id, map[string]any{"from": current.Name, "to": updated.Name})
	perms, err := s.repo.RolePermissions(ctx, id)
	if err != nil {
		return Role{}, err
	}
	return Role{Role: updated, Permissions: perms}, nil
}

// ReplacePermissions rebinds the role to exactly permissionIDs. Repeated ids
// are rejected as duplicate bindings.
func (s *Service) ReplacePermissions(ctx context.Context, actor *rbac.Identity, roleID int64, permissionIDs []int64) (Role, error) {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if rbac.CanonicalRole(role.Name) == rbac.RoleSuperAdmin {
		return Role{}, rbac.ErrSystemRole
	}
	catalogue, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return Role{}, err
	}
	known := make(map[int64]struct{}, len(catalogue))
	for _, p := range catalogue {
		known[p.ID] = struct{}{}
	}
	seen := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := known[id]; !ok {
			return Role{}, fmt.Errorf("%w: unknown permission %d", rbac.ErrInvalidInput, id)
		}
		if _, dup := seen[id]; dup {
			return Role{}, fmt.Errorf("%w: permission %d bound twice", rbac.ErrDuplicate, id)
		}
		seen[id] = struct{}{}
	}
	if err := s.repo.ReplaceRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, "role.permissions_replaced", roleID, map[string]any{"permission_ids": permissionIDs})
	perms, err := s.repo.RolePermissions(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	return Role{Role: role, Permissions: perms}, nil
}

func roleName(raw string) (string, error) {
	name := rbac.CanonicalRole(raw)
	if name == "" || len(name) > 64 {
		return "", ErrInvalidName
	}
	return name, nil
}

func (s *Service) record(ctx context.Context, actor *rbac.Identity, action string, roleID int64, meta map[string]any) {
	if s.recorder == nil {
		return
	}
	var actorID int64
	if actor != nil {
		actorID = actor.ID
	}
	if err := s.recorder.Record(ctx, shared.AdminLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "role",
		EntityID: strconv.FormatInt(roleID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("admin audit log failed", slog.String("action", action), slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}
