package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/haulmark/backoffice/internal/platform/httpx"
	"github.com/haulmark/backoffice/internal/rbac"
)

// Handler manages user management endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.RequireUsersManage))
		r.Get("/", h.listUsers)
		r.Post("/{id}/role", h.assignRole)
		r.Post("/{id}/deactivate", h.deactivate)
		r.Post("/{id}/activate", h.activate)
	})
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Search: strings.TrimSpace(q.Get("q")), ActiveOnly: q.Get("active") == "true"}
	filter.RoleID, _ = strconv.ParseInt(q.Get("role_id"), 10, 64)
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	users, err := h.service.ListUsers(r.Context(), filter)
	if err != nil {
		h.fail(w, "list users failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", users)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.service.AssignRole(r.Context(), rbac.IdentityFromContext(r.Context()), id, req.RoleID)
	if err != nil {
		h.fail(w, "assign role failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Role updated", user)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	user, err := h.service.SetActive(r.Context(), rbac.IdentityFromContext(r.Context()), id, active)
	if err != nil {
		h.fail(w, "set user active failed", err)
		return
	}
	message := "User deactivated"
	if active {
		message = "User activated"
	}
	httpx.OK(w, http.StatusOK, message, user)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		httpx.Fail(w, http.StatusNotFound, "User or role not found")
	case errors.Is(err, ErrSelfAction):
		httpx.Fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		httpx.Fail(w, http.StatusForbidden, err.Error())
	default:
		h.logger.Error(msg, slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to update user")
	}
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "Invalid user id")
		return 0, false
	}
	return id, true
}
