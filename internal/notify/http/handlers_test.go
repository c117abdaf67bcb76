package notifyhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/haulmark/backoffice/internal/notify"
	"github.com/haulmark/backoffice/internal/rbac"
)

type stubInbox struct {
	lastUser   int64
	lastFilter notify.ListFilter
	lastID     int64
	broadcast  notify.BroadcastInput
	err        error
}

func (s *stubInbox) Inbox(_ context.Context, userID int64, filter notify.ListFilter) (notify.Inbox, error) {
	s.lastUser, s.lastFilter = userID, filter
	return notify.Inbox{Items: []notify.Notification{{ID: 1, Title: "Carrier approved"}}, Unread: 1}, s.err
}

func (s *stubInbox) UnreadCount(_ context.Context, userID int64) (int, error) {
	s.lastUser = userID
	return 4, s.err
}

func (s *stubInbox) MarkRead(_ context.Context, userID, id int64) error {
	s.lastUser, s.lastID = userID, id
	return s.err
}

func (s *stubInbox) MarkAllRead(_ context.Context, userID int64) (int64, error) {
	s.lastUser = userID
	return 3, s.err
}

func (s *stubInbox) Delete(_ context.Context, userID, id int64) error {
	s.lastUser, s.lastID = userID, id
	return s.err
}

func (s *stubInbox) Broadcast(_ context.Context, _ int64, in notify.BroadcastInput) (notify.Report, error) {
	s.broadcast = in
	return notify.Report{Recipients: 2, Stored: 2}, s.err
}

var (
	admin     = &rbac.Identity{ID: 1, IsActive: true, Role: &rbac.Role{ID: 1, Name: "admin"}}
	requester = &rbac.Identity{ID: 5, IsActive: true, Role: &rbac.Role{ID: 4, Name: "dispatcher"}}
)

func serve(svc InboxService, method, target, body string, identity *rbac.Identity) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/notifications", NewHandler(nil, svc, rbac.Middleware{}).MountRoutes)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if identity != nil {
		req = req.WithContext(rbac.ContextWithIdentity(req.Context(), identity))
	}
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)
	return res
}

func TestInboxScopedToCaller(t *testing.T) {
	svc := &stubInbox{}
	res := serve(svc, http.MethodGet, "/notifications/?unread=1&page=2&per_page=5", "", requester)

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, int64(5), svc.lastUser)
	require.Equal(t, notify.ListFilter{UnreadOnly: true, Page: 2, PerPage: 5}, svc.lastFilter)
	require.Contains(t, res.Body.String(), "Carrier approved")
}

func TestInboxRequiresIdentity(t *testing.T) {
	res := serve(&stubInbox{}, http.MethodGet, "/notifications/", "", nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestMarkReadAndDelete(t *testing.T) {
	svc := &stubInbox{}
	res := serve(svc, http.MethodPost, "/notifications/12/read", "", requester)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, int64(12), svc.lastID)

	res = serve(svc, http.MethodPost, "/notifications/read-all", "", requester)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"updated":3`)

	svc.err = notify.ErrNotFound
	res = serve(svc, http.MethodDelete, "/notifications/13", "", requester)
	require.Equal(t, http.StatusNotFound, res.Code)

	res = serve(svc, http.MethodPost, "/notifications/x/read", "", requester)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestUnreadCount(t *testing.T) {
	res := serve(&stubInbox{}, http.MethodGet, "/notifications/unread-count", "", requester)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"count":4`)
}

func TestBroadcast(t *testing.T) {
	svc := &stubInbox{}
	body := `{"target":"roles","roles":["manager"],"title":" Heads up ","message":"Yard closed","type":"warning"}`
	res := serve(svc, http.MethodPost, "/notifications/broadcast", body, admin)

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "roles", svc.broadcast.Target)
	require.Equal(t, []string{"manager"}, svc.broadcast.Roles)
	require.Equal(t, "Heads up", svc.broadcast.Title)
	require.Equal(t, "Yard closed", svc.broadcast.Body)
	require.Contains(t, res.Body.String(), `"recipients":2`)
}

func TestBroadcastValidation(t *testing.T) {
	res := serve(&stubInbox{}, http.MethodPost, "/notifications/broadcast", `{"target":"planet","message":"x"}`, admin)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = serve(&stubInbox{}, http.MethodPost, "/notifications/broadcast", `{"target":"all"}`, admin)
	require.Equal(t, http.StatusBadRequest, res.Code)

	svc := &stubInbox{err: notify.ErrInvalidAudience}
	res = serve(svc, http.MethodPost, "/notifications/broadcast", `{"target":"roles","message":"x"}`, admin)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestBroadcastRequiresPermission(t *testing.T) {
	res := serve(&stubInbox{}, http.MethodPost, "/notifications/broadcast", `{"target":"all","message":"x"}`, requester)
	require.Equal(t, http.StatusForbidden, res.Code)
}
