package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/haulmark/backoffice/internal/rbac"
)

type audienceKind string

const (
	audienceUser      audienceKind = "user"
	audienceEmail     audienceKind = "email"
	audienceRoleIDs   audienceKind = "role_ids"
	audienceRoleNames audienceKind = "role_names"
	audienceAdmins    audienceKind = "admins"
	audienceUserList  audienceKind = "user_list"
	audienceEveryone  audienceKind = "everyone"
	audienceUnion     audienceKind = "union"
)

// Audience describes who should receive a message. Build one with the
// constructors below; the zero value is invalid.
type Audience struct {
	kind      audienceKind
	userIDs   []int64
	email     string
	roleIDs   []int64
	roleNames []string
	members   []Audience
}

// SingleUser targets one identity. Non-positive ids resolve to nobody.
func SingleUser(id int64) Audience {
	if id <= 0 {
		return Union()
	}
	return Audience{kind: audienceUser, userIDs: []int64{id}}
}

// Email targets an address, resolved to its owning identity when one exists.
func Email(address string) Audience {
	return Audience{kind: audienceEmail, email: strings.TrimSpace(address)}
}

// RoleSet targets every active identity bound to one of roleIDs.
func RoleSet(roleIDs ...int64) Audience {
	return Audience{kind: audienceRoleIDs, roleIDs: roleIDs}
}

// RolesNamed targets every active identity whose role is one of names.
func RolesNamed(names ...string) Audience {
	return Audience{kind: audienceRoleNames, roleNames: names}
}

// AdminSet targets every active administrator.
func AdminSet() Audience {
	return Audience{kind: audienceAdmins}
}

// UserList targets the listed identities.
func UserList(ids ...int64) Audience {
	return Audience{kind: audienceUserList, userIDs: ids}
}

// Everyone targets every active identity.
func Everyone() Audience {
	return Audience{kind: audienceEveryone}
}

// Union combines audiences; recipients appear once.
func Union(members ...Audience) Audience {
	return Audience{kind: audienceUnion, members: members}
}

// Validate checks the descriptor is resolvable.
func (a Audience) Validate() error {
	switch a.kind {
	case audienceUser, audienceUserList:
		if len(a.userIDs) == 0 {
			return fmt.Errorf("%w: no user ids", ErrInvalidAudience)
		}
	case audienceEmail:
		if !strings.Contains(a.email, "@") {
			return fmt.Errorf("%w: malformed email %q", ErrInvalidAudience, a.email)
		}
	case audienceRoleIDs:
		if len(a.roleIDs) == 0 {
			return fmt.Errorf("%w: no role ids", ErrInvalidAudience)
		}
	case audienceRoleNames:
		if len(a.roleNames) == 0 {
			return fmt.Errorf("%w: no role names", ErrInvalidAudience)
		}
	case audienceAdmins, audienceEveryone:
	case audienceUnion:
		for _, m := range a.members {
			if err := m.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: empty descriptor", ErrInvalidAudience)
	}
	return nil
}

// Recipient is one resolved delivery target. UserID is zero for bare emails.
type Recipient struct {
	UserID int64
	Email  string
}

func (r Recipient) key() string {
	if r.UserID > 0 {
		return fmt.Sprintf("user:%d", r.UserID)
	}
	return "email:" + strings.ToLower(r.Email)
}

// Directory answers the identity questions audience resolution needs.
type Directory interface {
	IdentitiesByID(ctx context.Context, ids []int64) ([]rbac.Identity, error)
	IdentityByEmail(ctx context.Context, email string) (*rbac.Identity, bool, error)
	IdentitiesByRoleIDs(ctx context.Context, roleIDs []int64) ([]rbac.Identity, error)
	IdentitiesByRoleNames(ctx context.Context, names []string) ([]rbac.Identity, error)
	Admins(ctx context.Context) ([]rbac.Identity, error)
	ActiveIdentities(ctx context.Context) ([]rbac.Identity, error)
}

// Resolve expands audience into de-duplicated recipients in first-seen order.
// Inactive identities are skipped. An email audience keeps its raw address on
// the recipient even when it maps to an identity.
func Resolve(ctx context.Context, dir Directory, audience Audience) ([]Recipient, error) {
	return resolve(ctx, dir, audience, nil)
}

// resolve is Resolve with a hook for union members that fail to resolve. When
// skip is set the failing member is reported to it and the remaining members
// still resolve.
func resolve(ctx context.Context, dir Directory, audience Audience, skip func(member Audience, err error)) ([]Recipient, error) {
	if err := audience.Validate(); err != nil {
		return nil, err
	}
	r := &resolver{dir: dir, seen: make(map[string]int), skip: skip}
	if err := r.walk(ctx, audience); err != nil {
		return nil, err
	}
	return r.out, nil
}

type resolver struct {
	dir  Directory
	seen map[string]int
	out  []Recipient
	skip func(member Audience, err error)
}

func (r *resolver) add(rcpt Recipient) {
	k := rcpt.key()
	if idx, ok := r.seen[k]; ok {
		if r.out[idx].Email == "" {
			r.out[idx].Email = rcpt.Email
		}
		return
	}
	r.seen[k] = len(r.out)
	r.out = append(r.out, rcpt)
}

func (r *resolver) addIdentities(identities []rbac.Identity) {
	for _, identity := range identities {
		if !identity.IsActive {
			continue
		}
		r.add(Recipient{UserID: identity.ID})
	}
}

func (r *resolver) walk(ctx context.Context, a Audience) error {
	var (
		identities []rbac.Identity
		err        error
	)
	switch a.kind {
	case audienceUnion:
		for _, m := range a.members {
			if err := r.walk(ctx, m); err != nil {
				if r.skip == nil {
					return err
				}
				r.skip(m, err)
			}
		}
		return nil
	case audienceEmail:
		identity, ok, err := r.dir.IdentityByEmail(ctx, a.email)
		if err != nil {
			return fmt.Errorf("notify: resolve email: %w", err)
		}
		if ok && identity.IsActive {
			r.add(Recipient{UserID: identity.ID, Email: a.email})
			return nil
		}
		r.add(Recipient{Email: a.email})
		return nil
	case audienceUser, audienceUserList:
		identities, err = r.dir.IdentitiesByID(ctx, a.userIDs)
	case audienceRoleIDs:
		identities, err = r.dir.IdentitiesByRoleIDs(ctx, a.roleIDs)
	case audienceRoleNames:
		identities, err = r.dir.IdentitiesByRoleNames(ctx, a.roleNames)
	case audienceAdmins:
		identities, err = r.dir.Admins(ctx)
	case audienceEveryone:
		identities, err = r.dir.ActiveIdentities(ctx)
	}
	if err != nil {
		return fmt.Errorf("notify: resolve %s audience: %w", a.kind, err)
	}
	r.addIdentities(identities)
	return nil
}
