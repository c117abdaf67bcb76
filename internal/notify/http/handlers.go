package notifyhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/haulmark/backoffice/internal/notify"
	"github.com/haulmark/backoffice/internal/platform/httpx"
	"github.com/haulmark/backoffice/internal/rbac"
)

// InboxService is the notification surface consumed by the handler.
type InboxService interface {
	Inbox(ctx context.Context, userID int64, filter notify.ListFilter) (notify.Inbox, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, userID, id int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	Delete(ctx context.Context, userID, id int64) error
	Broadcast(ctx context.Context, senderID int64, in notify.BroadcastInput) (notify.Report, error)
}

// Handler serves the notification inbox and operator broadcasts.
type Handler struct {
	logger   *slog.Logger
	service  InboxService
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs the notification handler.
func NewHandler(logger *slog.Logger, service InboxService, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers notification routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/unread-count", h.handleUnreadCount)
	r.Post("/read-all", h.handleMarkAllRead)
	r.Post("/{id}/read", h.handleMarkRead)
	r.Delete("/{id}", h.handleDelete)
	r.With(h.rbac.Require(rbac.RequireBroadcast)).Post("/broadcast", h.handleBroadcast)
}

type broadcastRequest struct {
	Target  string   `json:"target" validate:"required,oneof=all admins roles user users email"`
	RoleIDs []int64  `json:"role_ids"`
	Roles   []string `json:"roles"`
	UserIDs []int64  `json:"user_ids"`
	Email   string   `json:"email" validate:"omitempty,email"`
	Title   string   `json:"title" validate:"max=200"`
	Message string   `json:"message" validate:"required,max=2000"`
	Type    string   `json:"type" validate:"omitempty,oneof=info success warning error"`
	Link    string   `json:"link" validate:"max=500"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := notify.ListFilter{UnreadOnly: q.Get("unread") == "true" || q.Get("unread") == "1"}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	inbox, err := h.service.Inbox(r.Context(), identity.ID, filter)
	if err != nil {
		h.fail(w, "notification list", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", inbox)
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	count, err := h.service.UnreadCount(r.Context(), identity.ID)
	if err != nil {
		h.fail(w, "notification unread count", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", map[string]int{"count": count})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid notification id")
		return
	}
	if err := h.service.MarkRead(r.Context(), identity.ID, id); err != nil {
		h.fail(w, "notification mark read", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Notification marked as read", nil)
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	updated, err := h.service.MarkAllRead(r.Context(), identity.ID)
	if err != nil {
		h.fail(w, "notification mark all read", err)
		return
	}
	httpx.OK(w, http.StatusOK, "All notifications marked as read", map[string]int64{"updated": updated})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid notification id")
		return
	}
	if err := h.service.Delete(r.Context(), identity.ID, id); err != nil {
		h.fail(w, "notification delete", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Notification deleted", nil)
}

func (h *Handler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req broadcastRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.service.Broadcast(r.Context(), identity.ID, notify.BroadcastInput{
		Target:  req.Target,
		RoleIDs: req.RoleIDs,
		Roles:   req.Roles,
		UserIDs: req.UserIDs,
		Email:   req.Email,
		Title:   strings.TrimSpace(req.Title),
		Body:    req.Message,
		Type:    req.Type,
		Link:    req.Link,
	})
	if err != nil {
		h.fail(w, "notification broadcast", err)
		return
	}
	h.logger.Info("notification broadcast",
		slog.Int64("sender_id", identity.ID),
		slog.String("target", req.Target),
		slog.Int("recipients", report.Recipients),
		slog.Int("failed", report.Failed))
	httpx.OK(w, http.StatusOK, "Notification sent", report)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (*rbac.Identity, bool) {
	identity := rbac.IdentityFromContext(r.Context())
	if identity == nil {
		httpx.Fail(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	return identity, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, notify.ErrNotFound):
		httpx.Fail(w, http.StatusNotFound, "Notification not found")
	case errors.Is(err, notify.ErrInvalidAudience), errors.Is(err, notify.ErrInvalidMessage):
		httpx.Fail(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to process notification request")
	}
}
