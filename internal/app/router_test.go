package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/docflow/internal/observability"
	"github.com/odyssey-erp/docflow/internal/rbac"
	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

type grantStore struct{}

func (grantStore) UserEffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return []string{"procurement.po.view"}, nil
}
func (grantStore) UsersWithPermission(ctx context.Context, perm string) ([]int64, error) {
	return nil, nil
}
func (grantStore) ListPermissions(ctx context.Context) ([]rbac.Permission, error) { return nil, nil }
func (grantStore) UpsertPermission(ctx context.Context, name, description string) (rbac.Permission, error) {
	return rbac.Permission{}, nil
}
func (grantStore) ListRoles(ctx context.Context) ([]rbac.Role, error) { return nil, nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := rbac.NewService(grantStore{}, workflow.DefaultRegistry())
	return NewRouter(RouterParams{
		Logger:             logger,
		Config:             &Config{AppEnv: "development"},
		PermissionsHandler: rbac.NewPermissionsHandler(logger, svc, rbac.Middleware{Service: svc, Logger: logger}),
		Metrics:            observability.NewMetrics(),
	})
}

func TestRouterHealthAndHeaders(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docflow_http_requests_total")
}

func TestRouterResolvesActor(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/permissions/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/permissions/me", nil)
	req.Header.Set(shared.ActorHeader, "12")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "procurement.po.view")
}

func TestActionRateLimiter(t *testing.T) {
	limited := ActionRateLimiter(&Config{ActionRateLimit: 2})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/documents/po/1/actions/submit", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}
