package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/api"
	"github.com/kiranshivaraju/genqueue/internal/api/handler"
	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/jobs"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/internal/testutil"
	"github.com/kiranshivaraju/genqueue/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCache struct{}

func (stubCache) Ping(context.Context) error { return nil }
func (stubCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

type acceptAll struct{}

func (acceptAll) Enqueue(context.Context, string, queue.Payload) bool { return true }

type emptyQueue struct{}

func (emptyQueue) Status(context.Context) (queue.Status, error) {
	return queue.Status{DefaultQueue: "ai_jobs"}, nil
}

type testEnv struct {
	router   http.Handler
	store    store.Store
	userKey  string
	adminKey string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := testutil.SQLiteStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := jobs.NewOrchestrator(st, acceptAll{}, nil, nil, logger)
	profiles := users.NewService(st, logger)

	issue := func(userID string, scopes ...string) string {
		raw, key, err := mw.GenerateKey(userID, "test", scopes)
		require.NoError(t, err)
		require.NoError(t, st.CreateAPIKey(context.Background(), key))
		return raw
	}

	router := api.NewRouter(api.Dependencies{
		Auth:                 mw.NewAuth(st),
		RateLimit:            mw.NewRateLimit(stubCache{}, 60),
		HealthHandler:        handler.NewHealthHandler(st, stubCache{}),
		PingHandler:          handler.Ping,
		CreateJobHandler:     handler.NewCreateJobHandler(orch),
		ListJobsHandler:      handler.NewListJobsHandler(orch),
		ActiveJobHandler:     handler.NewActiveJobHandler(orch),
		GetJobHandler:        handler.NewGetJobHandler(orch),
		RegisterUserHandler:  handler.NewRegisterUserHandler(profiles),
		CurrentUserHandler:   handler.NewCurrentUserHandler(profiles),
		GetUserHandler:       handler.NewGetUserHandler(profiles),
		UpdateUserHandler:    handler.NewUpdateUserHandler(profiles),
		ListUsersHandler:     handler.NewListUsersHandler(profiles),
		AdminListJobsHandler: handler.NewAdminListJobsHandler(orch),
		UpdateStatusHandler:  handler.NewUpdateStatusHandler(orch),
		QueueStatusHandler:   handler.NewQueueStatusHandler(emptyQueue{}),
	})

	return &testEnv{
		router:   router,
		store:    st,
		userKey:  issue("u1", "jobs"),
		adminKey: issue("ops", "jobs", "admin"),
	}
}

func (e *testEnv) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func dataOf(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

func TestRouter_PublicEndpoints(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/health", "", nil).Code)

	rec := env.do(t, "GET", "/api/v1/ping", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", dataOf(t, rec)["message"])

	rec = env.do(t, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "genqueue_http_requests_total")
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	env := newTestEnv(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/jobs"},
		{"GET", "/api/v1/jobs"},
		{"GET", "/api/v1/jobs/active?session_id=s1"},
		{"GET", "/api/v1/jobs/00000000-0000-0000-0000-000000000000"},
		{"GET", "/api/v1/admin/jobs?status=pending"},
		{"PATCH", "/api/v1/admin/jobs/00000000-0000-0000-0000-000000000000/status"},
		{"GET", "/api/v1/admin/queue"},
		{"POST", "/api/v1/users"},
		{"GET", "/api/v1/users/me"},
		{"GET", "/api/v1/users/u1"},
		{"PUT", "/api/v1/users/u1"},
		{"GET", "/api/v1/users"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			rec := env.do(t, ep.method, ep.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "INVALID_TOKEN", errorCode(t, rec))

			rec = env.do(t, ep.method, ep.path, "gq_notarealkey", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRouter_AdminRequiresScope(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/v1/admin/queue", env.userKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "GET", "/api/v1/admin/queue", env.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ai_jobs", dataOf(t, rec)["default_queue"])
}

func TestRouter_JobLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/jobs", env.userKey, map[string]any{
		"job_type":   "text_generation",
		"input_data": map[string]any{"prompt": "a haiku"},
		"session_id": "s1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := dataOf(t, rec)
	jobID := created["id"].(string)
	assert.Equal(t, "pending", created["status"])
	assert.Equal(t, "u1", created["user_id"])

	// One active job per session.
	rec = env.do(t, "POST", "/api/v1/jobs", env.userKey, map[string]any{
		"job_type": "text_generation", "session_id": "s1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ACTIVE_JOB_EXISTS", errorCode(t, rec))

	rec = env.do(t, "GET", "/api/v1/jobs/active?session_id=s1", env.userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobID, dataOf(t, rec)["id"])

	rec = env.do(t, "GET", "/api/v1/jobs/"+jobID, env.userKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The admin key belongs to another user.
	rec = env.do(t, "GET", "/api/v1/jobs/"+jobID, env.adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	path := "/api/v1/admin/jobs/" + jobID + "/status"
	rec = env.do(t, "PATCH", path, env.adminKey, map[string]any{"status": "processing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, "PATCH", path, env.adminKey, map[string]any{
		"status":      "completed",
		"output_data": map[string]any{"generated_text": "done"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", dataOf(t, rec)["status"])

	rec = env.do(t, "PATCH", path, env.adminKey, map[string]any{"status": "failed", "error_message": "late"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", errorCode(t, rec))

	rec = env.do(t, "GET", "/api/v1/jobs/active?session_id=s1", env.userKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "GET", "/api/v1/admin/jobs?status=completed", env.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), jobID)

	rec = env.do(t, "GET", "/api/v1/jobs", env.userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestRouter_UserProfiles(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/v1/users/me", env.userKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "POST", "/api/v1/users", env.userKey, map[string]any{"email": "u1@example.com", "name": "Ada"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "u1", dataOf(t, rec)["id"])

	rec = env.do(t, "POST", "/api/v1/users", env.userKey, map[string]any{"email": "other@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1@example.com", dataOf(t, rec)["email"])

	rec = env.do(t, "GET", "/api/v1/users/me", env.userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ada", dataOf(t, rec)["name"])

	rec = env.do(t, "PUT", "/api/v1/users/u1", env.userKey, map[string]any{"name": "Ada Lovelace"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Ada Lovelace", dataOf(t, rec)["name"])

	rec = env.do(t, "POST", "/api/v1/users", env.adminKey, map[string]any{"email": "ops@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Another user's profile is hidden from a non-admin key.
	rec = env.do(t, "GET", "/api/v1/users/ops", env.userKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, "GET", "/api/v1/users/u1", env.adminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/api/v1/users", env.userKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, "GET", "/api/v1/users", env.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/v1/nonexistent", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_UnwiredEndpointIsNotImplemented(t *testing.T) {
	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(testutil.SQLiteStore(t)),
		RateLimit: mw.NewRateLimit(stubCache{}, 60),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/ping", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
