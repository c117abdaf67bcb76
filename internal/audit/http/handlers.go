package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haulmark/backoffice/internal/audit"
	"github.com/haulmark/backoffice/internal/platform/httpx"
	"github.com/haulmark/backoffice/internal/rbac"
)

// HistoryService is the read side consumed by the handler.
type HistoryService interface {
	History(ctx context.Context, filter audit.Filter) ([]audit.Record, error)
	Export(ctx context.Context, filter audit.Filter) ([]byte, error)
}

// Handler serves the cross-kind approval history browser.
type Handler struct {
	logger  *slog.Logger
	service HistoryService
	rbac    rbac.Middleware
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service HistoryService, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.service.History(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit history", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	httpx.OK(w, http.StatusOK, "", records)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	data, err := h.service.Export(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to export history")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="approval-history-%s.csv"`, time.Now().UTC().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		Kind:   strings.TrimSpace(q.Get("kind")),
		Action: audit.Action(strings.TrimSpace(q.Get("action"))),
	}
	var err error
	if filter.SubjectID, err = optionalInt(q.Get("subject_id")); err != nil {
		return audit.Filter{}, fmt.Errorf("%w: invalid subject_id", httpx.ErrValidation)
	}
	if filter.ActorID, err = optionalInt(q.Get("actor_id")); err != nil {
		return audit.Filter{}, fmt.Errorf("%w: invalid actor_id", httpx.ErrValidation)
	}
	limit, err := optionalInt(q.Get("limit"))
	if err != nil {
		return audit.Filter{}, fmt.Errorf("%w: invalid limit", httpx.ErrValidation)
	}
	filter.Limit = int(limit)
	if filter.From, err = optionalDate(q.Get("from")); err != nil {
		return audit.Filter{}, fmt.Errorf("%w: invalid from date", httpx.ErrValidation)
	}
	if filter.To, err = optionalDate(q.Get("to")); err != nil {
		return audit.Filter{}, fmt.Errorf("%w: invalid to date", httpx.ErrValidation)
	}
	return filter, nil
}

func optionalInt(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func optionalDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
