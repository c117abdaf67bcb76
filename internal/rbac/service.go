package rbac

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrDuplicate indicates a uniqueness violation on roles or bindings.
	ErrDuplicate = errors.New("rbac: duplicate")
	// ErrSystemRole indicates an attempt to change a system role's identity.
	ErrSystemRole = errors.New("rbac: system role is immutable")
	// ErrInvalidInput indicates malformed names or identifiers.
	ErrInvalidInput = errors.New("rbac: invalid input")
)

// Service resolves identities and answers directory questions on top of a Store.
type Service struct {
	store Store
}

// NewService constructs a Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store exposes the underlying persistence port for administrative packages.
func (s *Service) Store() Store {
	return s.store
}

// Identity loads a fresh identity with role and permissions resolved.
func (s *Service) Identity(ctx context.Context, id int64) (*Identity, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	identity, err := s.store.LoadIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// EffectivePermissions returns deduplicated permission names for an identity.
func (s *Service) EffectivePermissions(ctx context.Context, id int64) ([]string, error) {
	identity, err := s.Identity(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsSuperAdmin(identity) {
		perms, err := s.store.ListPermissions(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(perms))
		for _, p := range perms {
			out = append(out, p.Name)
		}
		return out, nil
	}
	return normalizePermissions(identity.Permissions), nil
}

// IdentityByEmail resolves the identity owning email. The boolean is false
// when no identity owns it.
func (s *Service) IdentityByEmail(ctx context.Context, email string) (*Identity, bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, false, nil
	}
	identity, err := s.store.FindIdentityByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &identity, true, nil
}

// IdentitiesByRoleIDs lists active identities bound to any of roleIDs.
func (s *Service) IdentitiesByRoleIDs(ctx context.Context, roleIDs []int64) ([]Identity, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	return s.store.ListIdentities(ctx, IdentityFilter{RoleIDs: roleIDs, ActiveOnly: true})
}

// IdentitiesByRoleNames lists active identities whose effective role is one
// of names. Legacy role text is matched when no structured role is bound.
func (s *Service) IdentitiesByRoleNames(ctx context.Context, names []string) ([]Identity, error) {
	if len(names) == 0 {
		return nil, nil
	}
	found, err := s.store.ListIdentities(ctx, IdentityFilter{RoleNames: names, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[CanonicalRole(n)] = struct{}{}
	}
	out := found[:0]
	for _, identity := range found {
		if _, ok := wanted[identity.RoleName()]; ok {
			out = append(out, identity)
		}
	}
	return out, nil
}

// Admins lists active identities passing IsAdmin.
func (s *Service) Admins(ctx context.Context) ([]Identity, error) {
	found, err := s.store.ListIdentities(ctx, IdentityFilter{RoleNames: AdminRoles, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	out := found[:0]
	for i := range found {
		if IsAdmin(&found[i]) {
			out = append(out, found[i])
		}
	}
	return out, nil
}

// ActiveIdentities lists every active identity.
func (s *Service) ActiveIdentities(ctx context.Context) ([]Identity, error) {
	return s.store.ListIdentities(ctx, IdentityFilter{ActiveOnly: true})
}

// IdentitiesByID lists identities by id, skipping unknown ids.
func (s *Service) IdentitiesByID(ctx context.Context, ids []int64) ([]Identity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.store.ListIdentities(ctx, IdentityFilter{IDs: ids})
}
