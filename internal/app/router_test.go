package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haulmark/backoffice/internal/approval"
	approvalhttp "github.com/haulmark/backoffice/internal/approval/http"
	"github.com/haulmark/backoffice/internal/auth"
	"github.com/haulmark/backoffice/internal/observability"
	"github.com/haulmark/backoffice/internal/rbac"
)

func newTestRouter() http.Handler {
	engine := approval.NewEngine(nil, approval.Options{})
	return NewRouter(RouterParams{
		Config:        &Config{AppEnv: "test"},
		Authenticator: auth.Middleware{Service: auth.NewService(nil, nil, nil, nil)},
		AuthHandler:   auth.NewHandler(nil, auth.NewService(nil, nil, nil, nil)),
		ApprovalHandlers: []*approvalhttp.Handler{
			approvalhttp.NewHandler(nil, engine, approval.KindCarrier, rbac.Middleware{}),
			approvalhttp.NewHandler(nil, engine, approval.KindDispatch, rbac.Middleware{}),
		},
		Metrics: observability.NewMetrics(),
	})
}

func TestHealthz(t *testing.T) {
	res := httptest.NewRecorder()
	newTestRouter().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"status":"ok"}`, res.Body.String())
	require.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
}

func TestProtectedRoutesRequireCredential(t *testing.T) {
	router := newTestRouter()
	for _, target := range []string{"/carrier-approvals/pending", "/dispatch-approvals/history", "/auth/me"} {
		res := httptest.NewRecorder()
		router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusUnauthorized, res.Code, target)
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	res := httptest.NewRecorder()
	newTestRouter().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, res.Code)
	require.Contains(t, res.Body.String(), `"success":false`)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `backoffice_http_requests_total{code="200",route="/healthz"}`)
}
