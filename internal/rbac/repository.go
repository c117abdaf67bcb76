package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulmark/backoffice/internal/platform/db"
)

// IdentityFilter narrows identity listings. Empty fields do not filter.
type IdentityFilter struct {
	IDs        []int64
	RoleIDs    []int64
	RoleNames  []string
	ActiveOnly bool
	Search     string
	Limit      int
	Offset     int
}

// Store is the persistence port for identities, roles and permissions.
type Store interface {
	LoadIdentity(ctx context.Context, id int64) (Identity, error)
	FindIdentityByEmail(ctx context.Context, email string) (Identity, error)
	ListIdentities(ctx context.Context, filter IdentityFilter) ([]Identity, error)
	SetIdentityRole(ctx context.Context, identityID, roleID int64) error
	SetIdentityActive(ctx context.Context, identityID int64, active bool) error

	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	UpdatePermissionDescription(ctx context.Context, id int64, description string) error
}

// Repository implements Store on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed Store.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// canonicalSQL mirrors CanonicalRole so directory queries agree with the evaluator.
const canonicalSQL = `replace(array_to_string(regexp_split_to_array(lower(trim(%s)), '\s+'), '_'), '-', '_')`

const identityColumns = `u.id, u.email, u.name, u.role_id, u.is_active, u.created_at,
COALESCE(u.legacy_role, ''), COALESCE(u.legacy_category, ''),
r.id, r.name, r.description, r.is_system, r.created_at, r.updated_at`

func scanIdentity(row pgx.Row) (Identity, error) {
	var (
		identity Identity
		roleID   *int64
		role     Role
		rID      *int64
		rName    *string
		rDesc    *string
		rSystem  *bool
		rCreated *time.Time
		rUpdated *time.Time
	)
	if err := row.Scan(&identity.ID, &identity.Email, &identity.Name, &roleID, &identity.IsActive, &identity.CreatedAt,
		&identity.LegacyRole, &identity.LegacyCategory,
		&rID, &rName, &rDesc, &rSystem, &rCreated, &rUpdated); err != nil {
		return Identity{}, err
	}
	identity.RoleID = roleID
	if rID != nil {
		role.ID = *rID
		role.Name = deref(rName)
		role.Description = deref(rDesc)
		role.IsSystem = rSystem != nil && *rSystem
		if rCreated != nil {
			role.CreatedAt = *rCreated
		}
		if rUpdated != nil {
			role.UpdatedAt = *rUpdated
		}
		identity.Role = &role
	}
	return identity, nil
}

// LoadIdentity fetches an identity with its role and bound permissions.
func (r *Repository) LoadIdentity(ctx context.Context, id int64) (Identity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+`
FROM users u LEFT JOIN roles r ON r.id = u.role_id
WHERE u.id = $1`, id)
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, err
	}
	if identity.Role != nil {
		perms, err := r.RolePermissions(ctx, identity.Role.ID)
		if err != nil {
			return Identity{}, err
		}
		identity.Permissions = make([]string, 0, len(perms))
		for _, p := range perms {
			identity.Permissions = append(identity.Permissions, p.Name)
		}
	}
	return identity, nil
}

// FindIdentityByEmail resolves an identity by case-insensitive email.
func (r *Repository) FindIdentityByEmail(ctx context.Context, email string) (Identity, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, err
	}
	return r.LoadIdentity(ctx, id)
}

// ListIdentities returns identities matching filter with their roles loaded.
// Permissions are not loaded.
func (r *Repository) ListIdentities(ctx context.Context, filter IdentityFilter) ([]Identity, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(filter.IDs) > 0 {
		where = append(where, "u.id = ANY("+arg(filter.IDs)+")")
	}
	if len(filter.RoleIDs) > 0 {
		where = append(where, "u.role_id = ANY("+arg(filter.RoleIDs)+")")
	}
	if len(filter.RoleNames) > 0 {
		names := make([]string, 0, len(filter.RoleNames))
		for _, n := range filter.RoleNames {
			names = append(names, CanonicalRole(n))
		}
		placeholder := arg(names)
		where = append(where, fmt.Sprintf(`((r.id IS NOT NULL AND `+canonicalSQL+` = ANY(%s))
OR (r.id IS NULL AND `+canonicalSQL+` = ANY(%s)))`,
			"r.name", placeholder, "COALESCE(NULLIF(u.legacy_role, ''), u.legacy_category, '')", placeholder))
	}
	if filter.ActiveOnly {
		where = append(where, "u.is_active")
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		p := arg("%" + strings.ToLower(s) + "%")
		where = append(where, fmt.Sprintf("(lower(u.email) LIKE %s OR lower(u.name) LIKE %s)", p, p))
	}
	query := `SELECT ` + identityColumns + ` FROM users u LEFT JOIN roles r ON r.id = u.role_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY u.id"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, identity)
	}
	return out, rows.Err()
}

// SetIdentityRole binds a structured role to the identity.
func (r *Repository) SetIdentityRole(ctx context.Context, identityID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1`, identityID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetIdentityActive flips the soft activation flag.
func (r *Repository) SetIdentityActive(ctx context.Context, identityID int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, identityID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, is_system, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, is_system, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a custom (non-system) role.
func (r *Repository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `INSERT INTO roles (name, description, is_system) VALUES ($1, $2, FALSE)
RETURNING id, name, description, is_system, created_at, updated_at`, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Role{}, ErrDuplicate
		}
		return Role{}, err
	}
	return role, nil
}

// UpdateRole renames a role and updates its description.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `UPDATE roles SET name = $2, description = $3, updated_at = NOW() WHERE id = $1
RETURNING id, name, description, is_system, created_at, updated_at`, id, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Role{}, ErrNotFound
	case db.IsUniqueViolation(err):
		return Role{}, ErrDuplicate
	case err != nil:
		return Role{}, err
	}
	return role, nil
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	return r.queryPermissions(ctx, `SELECT id, name, module, resource, action, description FROM permissions ORDER BY name`)
}

// RolePermissions returns the permissions bound to a role.
func (r *Repository) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	return r.queryPermissions(ctx, `SELECT p.id, p.name, p.module, p.resource, p.action, p.description
FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1 ORDER BY p.name`, roleID)
}

func (r *Repository) queryPermissions(ctx context.Context, query string, args ...any) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Module, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ReplaceRolePermissions swaps the role's bindings in one transaction. A
// repeated pair violates the binding uniqueness and yields ErrDuplicate.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, pid := range permissionIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, pid); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, roleID)
		return err
	})
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// UpdatePermissionDescription changes the only mutable permission field.
func (r *Repository) UpdatePermissionDescription(ctx context.Context, id int64, description string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE permissions SET description = $2 WHERE id = $1`, id, description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ Store = (*Repository)(nil)
