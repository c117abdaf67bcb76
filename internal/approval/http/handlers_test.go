package approvalhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/haulmark/backoffice/internal/approval"
	"github.com/haulmark/backoffice/internal/audit"
	"github.com/haulmark/backoffice/internal/rbac"
)

type stubWorkflow struct {
	table      *rbac.ApprovalTable
	err        error
	subject    approval.Subject
	lastNotes  string
	lastReason string
	lastStatus approval.Status
	lastLimit  int
	lastLife   approval.Lifecycle
	includeDis bool
}

func newStub() *stubWorkflow {
	return &stubWorkflow{
		table:   rbac.NewApprovalTable(nil, nil),
		subject: approval.Subject{Kind: approval.KindCarrier, ID: 7, Reference: "ACME-01", Status: approval.StatusManagerApproved},
	}
}

func (s *stubWorkflow) Table() *rbac.ApprovalTable { return s.table }

func (s *stubWorkflow) Register(_ context.Context, kind approval.Kind, id int64, reference string, _ *rbac.Identity) (approval.Subject, error) {
	return approval.Subject{Kind: kind, ID: id, Reference: reference, Status: approval.StatusPending}, s.err
}

func (s *stubWorkflow) ApproveAsManager(_ context.Context, _ approval.Kind, _ int64, _ *rbac.Identity, notes string) (approval.Subject, error) {
	s.lastNotes = notes
	return s.subject, s.err
}

func (s *stubWorkflow) ApproveAsAccounts(_ context.Context, _ approval.Kind, _ int64, _ *rbac.Identity, notes string) (approval.Subject, error) {
	s.lastNotes = notes
	return s.subject, s.err
}

func (s *stubWorkflow) Reject(_ context.Context, _ approval.Kind, _ int64, _ *rbac.Identity, reason string) (approval.Subject, error) {
	s.lastReason = reason
	return s.subject, s.err
}

func (s *stubWorkflow) Disable(context.Context, approval.Kind, int64, *rbac.Identity) (approval.Subject, error) {
	return s.subject, s.err
}

func (s *stubWorkflow) Enable(_ context.Context, _ approval.Kind, _ int64, _ *rbac.Identity, notes string) (approval.Subject, error) {
	s.lastNotes = notes
	return s.subject, s.err
}

func (s *stubWorkflow) SetLifecycle(_ context.Context, _ approval.Kind, _ int64, _ *rbac.Identity, lifecycle approval.Lifecycle) (approval.Subject, error) {
	s.lastLife = lifecycle
	return s.subject, s.err
}

func (s *stubWorkflow) GetStatus(context.Context, approval.Kind, int64, *rbac.Identity) (approval.StatusView, error) {
	return approval.StatusView{Subject: s.subject}, s.err
}

func (s *stubWorkflow) ListPending(_ context.Context, _ approval.Kind, _ *rbac.Identity, status approval.Status, includeDisabled bool) ([]approval.Subject, error) {
	s.lastStatus, s.includeDis = status, includeDisabled
	return []approval.Subject{s.subject}, s.err
}

func (s *stubWorkflow) History(_ context.Context, _ approval.Kind, _ *rbac.Identity, limit int) ([]audit.Record, error) {
	s.lastLimit = limit
	return []audit.Record{}, s.err
}

func (s *stubWorkflow) SubjectHistory(_ context.Context, _ approval.Kind, _ int64, _ *rbac.Identity, limit int) ([]audit.Record, error) {
	s.lastLimit = limit
	return []audit.Record{}, s.err
}

var (
	manager  = &rbac.Identity{ID: 11, IsActive: true, Role: &rbac.Role{ID: 3, Name: "manager"}}
	accounts = &rbac.Identity{ID: 12, IsActive: true, Role: &rbac.Role{ID: 4, Name: "accounts"}}
	admin    = &rbac.Identity{ID: 13, IsActive: true, Role: &rbac.Role{ID: 2, Name: "admin"}}
)

func serve(t *testing.T, wf Workflow, kind approval.Kind, method, target, body string, identity *rbac.Identity) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	h := NewHandler(nil, wf, kind, rbac.Middleware{})
	r := chi.NewRouter()
	r.Route(h.Prefix(), h.MountRoutes)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		req = req.WithContext(rbac.ContextWithIdentity(req.Context(), identity))
	}
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)
	var envelope map[string]any
	if strings.HasPrefix(res.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &envelope))
	}
	return res, envelope
}

func TestApproveManagerPassesNotes(t *testing.T) {
	wf := newStub()
	res, envelope := serve(t, wf, approval.KindCarrier, http.MethodPost, "/carrier-approvals/7/approve-manager", `{"notes":"checked"}`, manager)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, true, envelope["success"])
	require.Equal(t, "Carrier ACME-01 approved by manager", envelope["message"])
	require.Equal(t, "checked", wf.lastNotes)
}

func TestRoutesAreGatedByRequirementTable(t *testing.T) {
	wf := newStub()
	res, envelope := serve(t, wf, approval.KindCarrier, http.MethodPost, "/carrier-approvals/7/approve-manager", `{}`, accounts)
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Equal(t, false, envelope["success"])

	res, _ = serve(t, wf, approval.KindCarrier, http.MethodPost, "/carrier-approvals/7/disable", ``, manager)
	require.Equal(t, http.StatusForbidden, res.Code)

	res, _ = serve(t, wf, approval.KindCarrier, http.MethodGet, "/carrier-approvals/pending", ``, nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestRejectMissingReasonIsBadRequest(t *testing.T) {
	wf := newStub()
	wf.err = &approval.TransitionError{Err: approval.ErrMissingReason, Message: "A reason is required to reject a carrier."}
	res, envelope := serve(t, wf, approval.KindCarrier, http.MethodPost, "/carrier-approvals/7/reject", `{"reason":""}`, manager)
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "A reason is required to reject a carrier.", envelope["message"])
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{approval.ErrNotFound, http.StatusNotFound},
		{approval.ErrConflict, http.StatusConflict},
		{approval.ErrPermissionDenied, http.StatusForbidden},
		{&approval.TransitionError{Err: approval.ErrAlreadyDisabled, Message: "already disabled"}, http.StatusBadRequest},
		{&approval.TransitionError{Err: approval.ErrInvalidTransition, Message: "bad"}, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		wf := newStub()
		wf.err = tc.err
		res, _ := serve(t, wf, approval.KindCarrier, http.MethodPost, "/carrier-approvals/7/disable", ``, admin)
		require.Equal(t, tc.status, res.Code, tc.err.Error())
	}
}

func TestPendingParsesFilters(t *testing.T) {
	wf := newStub()
	res, _ := serve(t, wf, approval.KindDispatch, http.MethodGet, "/dispatch-approvals/pending?status=manager_approved&include_disabled=true", ``, admin)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, approval.StatusManagerApproved, wf.lastStatus)
	require.True(t, wf.includeDis)

	res, _ = serve(t, wf, approval.KindDispatch, http.MethodGet, "/dispatch-approvals/pending?status=bogus", ``, admin)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHistoryLimitParsing(t *testing.T) {
	wf := newStub()
	res, _ := serve(t, wf, approval.KindDispatch, http.MethodGet, "/dispatch-approvals/history?limit=50", ``, manager)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, 50, wf.lastLimit)

	res, _ = serve(t, wf, approval.KindDispatch, http.MethodGet, "/dispatch-approvals/7/history?limit=abc", ``, manager)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestLifecycleOnlyForCarriers(t *testing.T) {
	wf := newStub()
	res, _ := serve(t, wf, approval.KindCarrier, http.MethodPost, "/carrier-approvals/7/lifecycle", `{"status":"suspended"}`, admin)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, approval.LifecycleSuspended, wf.lastLife)

	res, _ = serve(t, wf, approval.KindCarrier, http.MethodPost, "/carrier-approvals/7/lifecycle", `{"status":"retired"}`, admin)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res, _ = serve(t, wf, approval.KindDispatch, http.MethodPost, "/dispatch-approvals/7/lifecycle", `{"status":"active"}`, admin)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestRegisterCreatesSubject(t *testing.T) {
	wf := newStub()
	res, envelope := serve(t, wf, approval.KindDispatch, http.MethodPost, "/dispatch-approvals/", `{"subject_id":42,"reference":"DSP-42"}`, manager)
	require.Equal(t, http.StatusCreated, res.Code)
	data := envelope["data"].(map[string]any)
	require.Equal(t, float64(42), data["id"])

	res, _ = serve(t, wf, approval.KindDispatch, http.MethodPost, "/dispatch-approvals/", `{"reference":"DSP-42"}`, manager)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res, _ = serve(t, wf, approval.KindDispatch, http.MethodPost, "/dispatch-approvals/", `{"subject_id":1,"extra":true}`, manager)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestInvalidID(t *testing.T) {
	res, _ := serve(t, newStub(), approval.KindCarrier, http.MethodGet, "/carrier-approvals/abc/status", ``, manager)
	require.Equal(t, http.StatusBadRequest, res.Code)
}
