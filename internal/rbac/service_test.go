package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	identities  map[int64]Identity
	roles       map[int64]Role
	permissions map[int64]Permission
	bindings    map[int64][]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		identities:  make(map[int64]Identity),
		roles:       make(map[int64]Role),
		permissions: make(map[int64]Permission),
		bindings:    make(map[int64][]int64),
	}
}

func (m *memoryStore) withRole(id int64, name string, permIDs ...int64) *memoryStore {
	m.roles[id] = Role{ID: id, Name: name}
	m.bindings[id] = permIDs
	return m
}

func (m *memoryStore) LoadIdentity(ctx context.Context, id int64) (Identity, error) {
	identity, ok := m.identities[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	if identity.RoleID != nil {
		role := m.roles[*identity.RoleID]
		identity.Role = &role
		for _, pid := range m.bindings[role.ID] {
			identity.Permissions = append(identity.Permissions, m.permissions[pid].Name)
		}
	}
	return identity, nil
}

func (m *memoryStore) FindIdentityByEmail(ctx context.Context, email string) (Identity, error) {
	for id, identity := range m.identities {
		if identity.Email == email {
			return m.LoadIdentity(ctx, id)
		}
	}
	return Identity{}, ErrNotFound
}

func (m *memoryStore) ListIdentities(ctx context.Context, filter IdentityFilter) ([]Identity, error) {
	var out []Identity
	for id := range m.identities {
		identity, _ := m.LoadIdentity(ctx, id)
		if filter.ActiveOnly && !identity.IsActive {
			continue
		}
		if len(filter.RoleIDs) > 0 && (identity.RoleID == nil || !containsID(filter.RoleIDs, *identity.RoleID)) {
			continue
		}
		if len(filter.IDs) > 0 && !containsID(filter.IDs, identity.ID) {
			continue
		}
		out = append(out, identity)
	}
	return out, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (m *memoryStore) SetIdentityRole(ctx context.Context, identityID, roleID int64) error {
	return nil
}

func (m *memoryStore) SetIdentityActive(ctx context.Context, identityID int64, active bool) error {
	return nil
}

func (m *memoryStore) ListRoles(ctx context.Context) ([]Role, error) { return nil, nil }

func (m *memoryStore) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (m *memoryStore) CreateRole(ctx context.Context, name, description string) (Role, error) {
	return Role{}, nil
}

func (m *memoryStore) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	return Role{}, nil
}

func (m *memoryStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	var out []Permission
	for _, p := range m.permissions {
		out = append(out, p)
	}
	return out, nil
}

func (m *memoryStore) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	return nil, nil
}

func (m *memoryStore) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return nil
}

func (m *memoryStore) UpdatePermissionDescription(ctx context.Context, id int64, description string) error {
	return nil
}

func ptr(v int64) *int64 { return &v }

func TestServiceIdentityResolvesBoundPermissions(t *testing.T) {
	store := newMemoryStore().withRole(2, "Manager", 10, 11)
	store.permissions[10] = Permission{ID: 10, Name: "carrier.approve-manager"}
	store.permissions[11] = Permission{ID: 11, Name: "carrier.reject"}
	store.identities[1] = Identity{ID: 1, Email: "m@haulmark.test", RoleID: ptr(2), IsActive: true}

	svc := NewService(store)
	identity, err := svc.Identity(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "manager", identity.RoleName())
	require.ElementsMatch(t, []string{"carrier.approve-manager", "carrier.reject"}, identity.Permissions)

	_, err = svc.Identity(context.Background(), 99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestServiceEffectivePermissionsSuperAdminGetsCatalogue(t *testing.T) {
	store := newMemoryStore().withRole(1, "super_admin")
	store.permissions[1] = Permission{ID: 1, Name: "users.manage"}
	store.permissions[2] = Permission{ID: 2, Name: "roles.manage"}
	store.identities[1] = Identity{ID: 1, RoleID: ptr(1), IsActive: true}

	perms, err := NewService(store).EffectivePermissions(context.Background(), 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"users.manage", "roles.manage"}, perms)
}

func TestServiceAdminsUsesCanonicalCheck(t *testing.T) {
	store := newMemoryStore().withRole(1, "Super Admin").withRole(2, "admin").withRole(3, "manager")
	store.identities[1] = Identity{ID: 1, RoleID: ptr(1), IsActive: true}
	store.identities[2] = Identity{ID: 2, RoleID: ptr(2), IsActive: true}
	store.identities[3] = Identity{ID: 3, RoleID: ptr(3), IsActive: true}
	store.identities[4] = Identity{ID: 4, LegacyRole: "admin", IsActive: true}
	store.identities[5] = Identity{ID: 5, RoleID: ptr(2), IsActive: false}

	admins, err := NewService(store).Admins(context.Background())
	require.NoError(t, err)
	ids := make([]int64, 0, len(admins))
	for _, a := range admins {
		ids = append(ids, a.ID)
	}
	require.ElementsMatch(t, []int64{1, 2, 4}, ids)
}

func TestServiceIdentityByEmailMissing(t *testing.T) {
	identity, ok, err := NewService(newMemoryStore()).IdentityByEmail(context.Background(), "nobody@haulmark.test")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, identity)
}
