package approvalhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/haulmark/backoffice/internal/approval"
	"github.com/haulmark/backoffice/internal/audit"
	"github.com/haulmark/backoffice/internal/platform/httpx"
	"github.com/haulmark/backoffice/internal/rbac"
)

// Workflow is the engine surface consumed by the handler.
type Workflow interface {
	Table() *rbac.ApprovalTable
	Register(ctx context.Context, kind approval.Kind, id int64, reference string, actor *rbac.Identity) (approval.Subject, error)
	ApproveAsManager(ctx context.Context, kind approval.Kind, id int64, actor *rbac.Identity, notes string) (approval.Subject, error)
	ApproveAsAccounts(ctx context.Context, kind approval.Kind, id int64, actor *rbac.Identity, notes string) (approval.Subject, error)
	Reject(ctx context.Context, kind approval.Kind, id int64, actor *rbac.Identity, reason string) (approval.Subject, error)
	Disable(ctx context.Context, kind approval.Kind, id int64, actor *rbac.Identity) (approval.Subject, error)
	Enable(ctx context.Context, kind approval.Kind, id int64, actor *rbac.Identity, notes string) (approval.Subject, error)
	SetLifecycle(ctx context.Context, kind approval.Kind, id int64, actor *rbac.Identity, lifecycle approval.Lifecycle) (approval.Subject, error)
	GetStatus(ctx context.Context, kind approval.Kind, id int64, actor *rbac.Identity) (approval.StatusView, error)
	ListPending(ctx context.Context, kind approval.Kind, actor *rbac.Identity, status approval.Status, includeDisabled bool) ([]approval.Subject, error)
	History(ctx context.Context, kind approval.Kind, actor *rbac.Identity, limit int) ([]audit.Record, error)
	SubjectHistory(ctx context.Context, kind approval.Kind, id int64, actor *rbac.Identity, limit int) ([]audit.Record, error)
}

// Handler exposes the approval workflow of one kind.
type Handler struct {
	logger   *slog.Logger
	workflow Workflow
	kind     approval.Kind
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs the handler for kind.
func NewHandler(logger *slog.Logger, workflow Workflow, kind approval.Kind, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, workflow: workflow, kind: kind, rbac: rbac, validate: validator.New()}
}

// Prefix is the mount point for the handler's kind, e.g. /carrier-approvals.
func (h *Handler) Prefix() string {
	return "/" + string(h.kind) + "-approvals"
}

// MountRoutes registers workflow routes. Every route is gated by the same
// requirement the engine enforces.
func (h *Handler) MountRoutes(r chi.Router) {
	gate := func(action rbac.Action) func(http.Handler) http.Handler {
		return h.rbac.Require(h.workflow.Table().For(string(h.kind), action))
	}
	r.With(gate(rbac.ActionCreate)).Post("/", h.handleRegister)
	r.With(gate(rbac.ActionView)).Get("/pending", h.handlePending)
	r.With(gate(rbac.ActionHistory)).Get("/history", h.handleHistory)
	r.Route("/{id}", func(r chi.Router) {
		r.With(gate(rbac.ActionView)).Get("/status", h.handleStatus)
		r.With(gate(rbac.ActionHistory)).Get("/history", h.handleSubjectHistory)
		r.With(gate(rbac.ActionApproveManager)).Post("/approve-manager", h.handleApproveManager)
		r.With(gate(rbac.ActionApproveAccounts)).Post("/approve-accounts", h.handleApproveAccounts)
		r.With(gate(rbac.ActionReject)).Post("/reject", h.handleReject)
		r.With(gate(rbac.ActionDisable)).Post("/disable", h.handleDisable)
		r.With(gate(rbac.ActionEnable)).Post("/enable", h.handleEnable)
		if h.kind.HasLifecycle() {
			r.With(gate(rbac.ActionLifecycle)).Post("/lifecycle", h.handleLifecycle)
		}
	})
}

type registerRequest struct {
	SubjectID int64  `json:"subject_id" validate:"required,gt=0"`
	Reference string `json:"reference" validate:"max=120"`
}

type notesRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type lifecycleRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	subject, err := h.workflow.Register(r.Context(), h.kind, req.SubjectID, req.Reference, actor(r))
	if err != nil {
		h.respondError(w, r, "register", req.SubjectID, err)
		return
	}
	httpx.OK(w, http.StatusCreated, subject.DisplayName()+" submitted for approval", subject)
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var status approval.Status
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		parsed, err := approval.ParseStatus(raw)
		if err != nil {
			httpx.Fail(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		status = parsed
	}
	includeDisabled, _ := strconv.ParseBool(q.Get("include_disabled"))
	subjects, err := h.workflow.ListPending(r.Context(), h.kind, actor(r), status, includeDisabled)
	if err != nil {
		h.respondError(w, r, "list pending", 0, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", subjects)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	records, err := h.workflow.History(r.Context(), h.kind, actor(r), limit)
	if err != nil {
		h.respondError(w, r, "history", 0, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", records)
}

func (h *Handler) handleSubjectHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	records, err := h.workflow.SubjectHistory(r.Context(), h.kind, id, actor(r), limit)
	if err != nil {
		h.respondError(w, r, "subject history", id, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", records)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	view, err := h.workflow.GetStatus(r.Context(), h.kind, id, actor(r))
	if err != nil {
		h.respondError(w, r, "status", id, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", view)
}

func (h *Handler) handleApproveManager(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req notesRequest
	if !h.decode(w, r, &req) {
		return
	}
	subject, err := h.workflow.ApproveAsManager(r.Context(), h.kind, id, actor(r), req.Notes)
	h.respondTransition(w, r, "approve manager", id, subject, err, "approved by manager")
}

func (h *Handler) handleApproveAccounts(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req notesRequest
	if !h.decode(w, r, &req) {
		return
	}
	subject, err := h.workflow.ApproveAsAccounts(r.Context(), h.kind, id, actor(r), req.Notes)
	h.respondTransition(w, r, "approve accounts", id, subject, err, "approved by accounts")
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	subject, err := h.workflow.Reject(r.Context(), h.kind, id, actor(r), req.Reason)
	h.respondTransition(w, r, "reject", id, subject, err, "rejected")
}

func (h *Handler) handleDisable(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	subject, err := h.workflow.Disable(r.Context(), h.kind, id, actor(r))
	h.respondTransition(w, r, "disable", id, subject, err, "disabled")
}

func (h *Handler) handleEnable(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req notesRequest
	if !h.decode(w, r, &req) {
		return
	}
	subject, err := h.workflow.Enable(r.Context(), h.kind, id, actor(r), req.Notes)
	h.respondTransition(w, r, "enable", id, subject, err, "re-enabled")
}

func (h *Handler) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req lifecycleRequest
	if !h.decode(w, r, &req) {
		return
	}
	lifecycle, err := approval.ParseLifecycle(req.Status)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid lifecycle status")
		return
	}
	subject, err := h.workflow.SetLifecycle(r.Context(), h.kind, id, actor(r), lifecycle)
	h.respondTransition(w, r, "lifecycle", id, subject, err, "lifecycle updated")
}

func (h *Handler) respondTransition(w http.ResponseWriter, r *http.Request, op string, id int64, subject approval.Subject, err error, verb string) {
	if err != nil {
		h.respondError(w, r, op, id, err)
		return
	}
	httpx.OK(w, http.StatusOK, subject.DisplayName()+" "+verb, subject)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, id int64, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		attrs := []any{slog.String("kind", string(h.kind)), slog.Int64("id", id), slog.Any("error", err)}
		if identity := actor(r); identity != nil {
			attrs = append(attrs, slog.Int64("actor_id", identity.ID))
		}
		h.logger.Error("approval "+op, attrs...)
		httpx.Fail(w, status, "Failed to process approval request")
		return
	}
	httpx.Fail(w, status, messageFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, approval.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, approval.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, approval.ErrInvalidTransition),
		errors.Is(err, approval.ErrAlreadyDisabled),
		errors.Is(err, approval.ErrDisabled),
		errors.Is(err, approval.ErrMissingReason),
		errors.Is(err, approval.ErrInvalidInput),
		errors.Is(err, approval.ErrUnknownKind):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error) string {
	var te *approval.TransitionError
	if errors.As(err, &te) {
		return te.Message
	}
	switch {
	case errors.Is(err, approval.ErrPermissionDenied):
		return "You do not have permission to perform this action"
	case errors.Is(err, approval.ErrNotFound):
		return "Record not found"
	case errors.Is(err, approval.ErrConflict):
		return "The record was modified concurrently, reload and try again"
	case errors.Is(err, approval.ErrMissingReason):
		return "Rejection reason is required"
	}
	return err.Error()
}

func actor(r *http.Request) *rbac.Identity {
	return rbac.IdentityFromContext(r.Context())
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		httpx.Fail(w, http.StatusBadRequest, "Invalid limit")
		return 0, false
	}
	return limit, true
}
