package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/haulmark/backoffice/internal/shared"
)

// Inbox is one page of a recipient's notifications.
type Inbox struct {
	Items      []Notification    `json:"items"`
	Unread     int               `json:"unread"`
	Pagination shared.Pagination `json:"pagination"`
}

// Service implements inbox operations and operator broadcasts.
type Service struct {
	store  Store
	engine *Engine
}

// NewService constructs a Service.
func NewService(store Store, engine *Engine) *Service {
	return &Service{store: store, engine: engine}
}

// Inbox lists the user's notifications.
func (s *Service) Inbox(ctx context.Context, userID int64, filter ListFilter) (Inbox, error) {
	if filter.PerPage <= 0 || filter.PerPage > 100 {
		filter.PerPage = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	items, total, err := s.store.ListForUser(ctx, userID, filter)
	if err != nil {
		return Inbox{}, err
	}
	unread, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return Inbox{}, err
	}
	return Inbox{Items: items, Unread: unread, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
}

// UnreadCount counts the user's unread notifications.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

// MarkRead marks one of the user's notifications read.
func (s *Service) MarkRead(ctx context.Context, userID, id int64) error {
	return s.store.MarkRead(ctx, userID, id)
}

// MarkAllRead marks all of the user's notifications read.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.store.MarkAllRead(ctx, userID)
}

// Delete removes one of the user's notifications.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	return s.store.Delete(ctx, userID, id)
}

// BroadcastInput is an operator-authored message and its target.
type BroadcastInput struct {
	Target  string
	RoleIDs []int64
	Roles   []string
	UserIDs []int64
	Email   string
	Title   string
	Body    string
	Type    string
	Link    string
}

// Broadcast sends a custom notification on behalf of senderID.
func (s *Service) Broadcast(ctx context.Context, senderID int64, in BroadcastInput) (Report, error) {
	var audience Audience
	switch strings.ToLower(strings.TrimSpace(in.Target)) {
	case "all":
		audience = Everyone()
	case "admins":
		audience = AdminSet()
	case "roles":
		members := []Audience{}
		if len(in.RoleIDs) > 0 {
			members = append(members, RoleSet(in.RoleIDs...))
		}
		if len(in.Roles) > 0 {
			members = append(members, RolesNamed(in.Roles...))
		}
		if len(members) == 0 {
			return Report{}, fmt.Errorf("%w: roles target needs role ids or names", ErrInvalidAudience)
		}
		audience = Union(members...)
	case "user", "users":
		if len(in.UserIDs) == 0 {
			return Report{}, fmt.Errorf("%w: user target needs user ids", ErrInvalidAudience)
		}
		audience = UserList(in.UserIDs...)
	case "email":
		audience = Email(in.Email)
	default:
		return Report{}, fmt.Errorf("%w: unknown target %q", ErrInvalidAudience, in.Target)
	}
	severity, err := ParseSeverity(in.Type)
	if err != nil {
		return Report{}, err
	}
	sender := senderID
	return s.engine.Notify(ctx, audience, Message{
		Title:    in.Title,
		Body:     in.Body,
		Type:     severity,
		Link:     in.Link,
		SenderID: &sender,
		IsCustom: true,
	})
}
