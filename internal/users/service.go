package users

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/haulmark/backoffice/internal/rbac"
	"github.com/haulmark/backoffice/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	LoadIdentity(ctx context.Context, id int64) (rbac.Identity, error)
	ListIdentities(ctx context.Context, filter rbac.IdentityFilter) ([]rbac.Identity, error)
	SetIdentityRole(ctx context.Context, identityID, roleID int64) error
	SetIdentityActive(ctx context.Context, identityID int64, active bool) error
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
}

// Service handles user administration.
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

// ListUsers returns one page of users.
func (s *Service) ListUsers(ctx context.Context, filter ListFilter) ([]User, error) {
	if filter.PerPage <= 0 || filter.PerPage > 200 {
		filter.PerPage = 50
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	query := rbac.IdentityFilter{
		Search:     filter.Search,
		ActiveOnly: filter.ActiveOnly,
		Limit:      filter.PerPage,
		Offset:     (filter.Page - 1) * filter.PerPage,
	}
	if filter.RoleID > 0 {
		query.RoleIDs = []int64{filter.RoleID}
	}
	identities, err := s.repo.ListIdentities(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(identities))
	for _, identity := range identities {
		out = append(out, toUser(identity))
	}
	return out, nil
}

// AssignRole binds roleID to the user. Only a super administrator may grant
// the super administrator role.
func (s *Service) AssignRole(ctx context.Context, actor *rbac.Identity, userID, roleID int64) (User, error) {
	if actor != nil && actor.ID == userID {
		return User{}, ErrSelfAction
	}
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return User{}, err
	}
	if rbac.CanonicalRole(role.Name) == rbac.RoleSuperAdmin && !rbac.IsSuperAdmin(actor) {
		return User{}, ErrForbidden
	}
	before, err := s.repo.LoadIdentity(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if err := s.repo.SetIdentityRole(ctx, userID, roleID); err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "user.role_assigned", userID, map[string]any{
		"from": before.RoleName(),
		"to":   role.Name,
	})
	return s.reload(ctx, userID)
}

// SetActive activates or deactivates the user. Deactivation is a soft flag;
// history and notifications keep referencing the account.
func (s *Service) SetActive(ctx context.Context, actor *rbac.Identity, userID int64, active bool) (User, error) {
	if actor != nil && actor.ID == userID {
		return User{}, ErrSelfAction
	}
	target, err := s.repo.LoadIdentity(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if rbac.IsSuperAdmin(&target) && !rbac.IsSuperAdmin(actor) {
		return User{}, ErrForbidden
	}
	if err := s.repo.SetIdentityActive(ctx, userID, active); err != nil {
		return User{}, err
	}
	action := "user.deactivated"
	if active {
		action = "user.activated"
	}
	s.record(ctx, actor, action, userID, nil)
	return s.reload(ctx, userID)
}

func (s *Service) reload(ctx context.Context, userID int64) (User, error) {
	identity, err := s.repo.LoadIdentity(ctx, userID)
	if err != nil {
		return User{}, fmt.Errorf("users: reload %d: %w", userID, err)
	}
	return toUser(identity), nil
}

func (s *Service) record(ctx context.Context, actor *rbac.Identity, action string, userID int64, meta map[string]any) {
	if s.recorder == nil {
		return
	}
	var actorID int64
	if actor != nil {
		actorID = actor.ID
	}
	err := s.recorder.Record(ctx, shared.AdminLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("admin audit log failed", slog.String("action", action), slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
